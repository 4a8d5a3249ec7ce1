package sse

import (
	"bufio"
	"io"
	"strings"
)

// Reader reads server-sent events from a stream.
type Reader interface {
	// Next returns the next SSE event. Returns io.EOF when the stream ends.
	Next() (*Event, error)
	// Close releases the underlying resources.
	Close() error
}

type reader struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	p       parser
}

// NewReader creates an SSE reader from a readable stream, such as a
// buffered response body wrapped with io.NopCloser.
func NewReader(body io.ReadCloser) Reader {
	return &reader{
		scanner: bufio.NewScanner(body),
		body:    body,
	}
}

// Next returns the next SSE event. Returns io.EOF when the stream ends.
func (r *reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		if ev, ok := r.p.line(strings.TrimSuffix(r.scanner.Text(), "\r")); ok {
			return ev, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// Stream ended: return last event if present
	if ev, ok := r.p.dispatch(); ok {
		return ev, nil
	}
	return nil, io.EOF
}

// Close releases the underlying stream.
func (r *reader) Close() error {
	return r.body.Close()
}
