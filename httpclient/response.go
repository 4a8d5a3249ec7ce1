package httpclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbukum/fetchkit/transport"
)

// Response is the immutable result of a request. Interceptors that want a
// different result build a new Response with NewResponse or the With*
// helpers, which copy before changing anything.
type Response struct {
	status       int
	proto        string
	header       Header
	body         []byte
	elapsed      time.Duration
	effectiveURL string
	redirects    int
	request      *Request
	err          *Error
}

// NewResponse creates a synthetic successful response for req.
func NewResponse(req *Request, status int, header Header, body []byte) *Response {
	r := &Response{
		status:  status,
		header:  header.Clone(),
		body:    append([]byte(nil), body...),
		request: req.Clone(),
	}
	if req != nil {
		r.effectiveURL = req.URL
	}
	return r
}

// ErrorResponse creates a failed response for req.
func ErrorResponse(req *Request, err *Error) *Response {
	r := &Response{request: req.Clone(), err: err}
	if req != nil {
		r.effectiveURL = req.URL
	}
	return r
}

// newResultResponse builds a response from a transport result. body
// overrides res.Body when non-nil.
func newResultResponse(req *Request, res transport.Result, body []byte) *Response {
	if body == nil {
		body = res.Body
	}
	return &Response{
		status:       res.Status,
		proto:        res.Proto,
		header:       Header(res.Header).Clone(),
		body:         body,
		elapsed:      res.Elapsed,
		effectiveURL: res.EffectiveURL,
		redirects:    res.Redirects,
		request:      req.Clone(),
		err:          newTransportError(res),
	}
}

// StatusCode returns the HTTP status code, 0 when no response arrived.
func (r *Response) StatusCode() int { return r.status }

// Proto returns the protocol of the response, e.g. "HTTP/1.1".
func (r *Response) Proto() string { return r.proto }

// Header returns a copy of the response headers. Names come back sorted
// because net/http stores headers in a map and loses the wire order;
// values under one name keep the order they arrived in.
func (r *Response) Header() Header { return r.header.Clone() }

// Body returns a copy of the raw response body, nil when it is empty.
func (r *Response) Body() []byte {
	if len(r.body) == 0 {
		return nil
	}
	return append([]byte(nil), r.body...)
}

// Size returns the body length in bytes.
func (r *Response) Size() int { return len(r.body) }

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.body) }

// Elapsed returns the transfer duration.
func (r *Response) Elapsed() time.Duration { return r.elapsed }

// EffectiveURL returns the final URL after redirects.
func (r *Response) EffectiveURL() string { return r.effectiveURL }

// Redirects returns the number of redirects followed.
func (r *Response) Redirects() int { return r.redirects }

// Request returns a copy of the request that produced the response.
func (r *Response) Request() *Request { return r.request.Clone() }

// Err returns the transfer error, nil when the transfer completed. A 500 is
// a completed transfer; see StatusError.
func (r *Response) Err() *Error { return r.err }

// OK reports whether the transfer completed without error.
func (r *Response) OK() bool { return r.err == nil }

// IsSuccess returns true if the transfer completed with a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.err == nil && ClassifyStatus(r.status) == StatusSuccess
}

// IsError returns true if the transfer failed or the status is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.err != nil || r.status >= 400
}

// StatusError returns the transfer error if any, else an ErrCodeStatus error
// for 4xx and 5xx responses, else nil.
func (r *Response) StatusError() *Error {
	if r.err != nil {
		return r.err
	}
	if r.status >= 400 {
		return NewStatusError(r.status, r.body)
	}
	return nil
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if r.err != nil {
		return r.err
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("httpclient: decode response: %w", err)
	}
	return nil
}

// WithStatus returns a copy with a different status code.
func (r *Response) WithStatus(status int) *Response {
	c := r.clone()
	c.status = status
	return c
}

// WithHeader returns a copy with different headers.
func (r *Response) WithHeader(h Header) *Response {
	c := r.clone()
	c.header = h.Clone()
	return c
}

// WithBody returns a copy with a different body.
func (r *Response) WithBody(body []byte) *Response {
	c := r.clone()
	c.body = append([]byte(nil), body...)
	return c
}

// WithErr returns a copy with a different error. A nil err marks the copy
// as a completed transfer.
func (r *Response) WithErr(err *Error) *Response {
	c := r.clone()
	c.err = err
	return c
}

// WithElapsed returns a copy with a different elapsed time.
func (r *Response) WithElapsed(d time.Duration) *Response {
	c := r.clone()
	c.elapsed = d
	return c
}

func (r *Response) clone() *Response {
	c := *r
	c.header = r.header.Clone()
	return &c
}
