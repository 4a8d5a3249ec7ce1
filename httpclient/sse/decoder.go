package sse

import "bytes"

// Decoder parses events from body chunks as they arrive. Chunks may split
// lines anywhere. Feed it from a body-chunk callback:
//
//	dec := sse.NewDecoder(func(ev sse.Event) { ... })
//	s.Configure(httpclient.WithOnBodyChunk(dec.Feed))
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	onEvent func(Event)
	buf     []byte
	p       parser
}

// NewDecoder returns a decoder that calls onEvent for every complete event.
func NewDecoder(onEvent func(Event)) *Decoder {
	return &Decoder{onEvent: onEvent}
}

// Feed consumes one body chunk.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if ev, ok := d.p.line(string(line)); ok && d.onEvent != nil {
			d.onEvent(*ev)
		}
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
}

// Write implements io.Writer so a Decoder can sit behind io.Copy.
func (d *Decoder) Write(p []byte) (int, error) {
	d.Feed(p)
	return len(p), nil
}

// Flush processes a trailing unterminated line and dispatches the pending
// event. Call it once the body is complete.
func (d *Decoder) Flush() {
	if len(d.buf) > 0 {
		line := string(bytes.TrimSuffix(d.buf, []byte{'\r'}))
		d.buf = nil
		if ev, ok := d.p.line(line); ok && d.onEvent != nil {
			d.onEvent(*ev)
		}
	}
	if ev, ok := d.p.dispatch(); ok && d.onEvent != nil {
		d.onEvent(*ev)
	}
}

// LastEventID returns the most recent id field seen, for reconnection.
func (d *Decoder) LastEventID() string {
	return d.p.lastID
}
