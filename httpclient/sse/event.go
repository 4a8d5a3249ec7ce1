// Package sse decodes Server-Sent Events, either from a whole body or from
// body chunks as they arrive.
package sse

import (
	"strconv"
	"strings"
	"time"
)

// Event represents a single server-sent event.
type Event struct {
	// Event is the SSE event type (from "event:" line). Empty for data-only events.
	Event string
	// Data is the event payload (from "data:" line(s)). Multi-line data is joined with newlines.
	Data string
	// ID is the event ID (from "id:" line).
	ID string
	// Retry is the reconnection time requested by the server, if any.
	Retry time.Duration
}

// parser accumulates fields until a blank line completes an event.
type parser struct {
	event   Event
	hasData bool
	lastID  string
}

// line processes one line without its terminator. It returns the completed
// event when line is blank and an event has data.
func (p *parser) line(line string) (*Event, bool) {
	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return nil, false
	}

	field, value := parseSSELine(line)
	switch field {
	case "data":
		if p.hasData {
			p.event.Data += "\n" + value
		} else {
			p.event.Data = value
			p.hasData = true
		}
	case "event":
		p.event.Event = value
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.event.ID = value
			p.lastID = value
		}
	case "retry":
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			p.event.Retry = time.Duration(ms) * time.Millisecond
		}
	}
	return nil, false
}

// dispatch returns the pending event, if it has data, and starts a new one.
func (p *parser) dispatch() (*Event, bool) {
	ev, ok := p.event, p.hasData
	p.event = Event{}
	p.hasData = false
	if !ok {
		return nil, false
	}
	if ev.ID == "" {
		ev.ID = p.lastID
	}
	return &ev, true
}

// parseSSELine parses a single SSE line into field and value.
func parseSSELine(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	// Strip single leading space after colon per SSE spec
	if value != "" && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
