package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TypedResponse wraps a response with a decoded JSON body of type T.
type TypedResponse[T any] struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Header holds the response headers.
	Header Header
	// Data is the decoded response body.
	Data T
	// Raw is the underlying response.
	Raw *Response
}

// Get performs a GET request and decodes the JSON response into type T.
func Get[T any](ctx context.Context, s *Session, url string, opts ...Option) (*TypedResponse[T], error) {
	return doTyped[T](ctx, s, http.MethodGet, url, nil, opts...)
}

// Post performs a POST request with a JSON body and decodes the response into type T.
func Post[T any](ctx context.Context, s *Session, url string, body any, opts ...Option) (*TypedResponse[T], error) {
	return doTyped[T](ctx, s, http.MethodPost, url, body, opts...)
}

// Put performs a PUT request with a JSON body and decodes the response into type T.
func Put[T any](ctx context.Context, s *Session, url string, body any, opts ...Option) (*TypedResponse[T], error) {
	return doTyped[T](ctx, s, http.MethodPut, url, body, opts...)
}

// Patch performs a PATCH request with a JSON body and decodes the response into type T.
func Patch[T any](ctx context.Context, s *Session, url string, body any, opts ...Option) (*TypedResponse[T], error) {
	return doTyped[T](ctx, s, http.MethodPatch, url, body, opts...)
}

// Delete performs a DELETE request and decodes the JSON response into type T.
func Delete[T any](ctx context.Context, s *Session, url string, opts ...Option) (*TypedResponse[T], error) {
	return doTyped[T](ctx, s, http.MethodDelete, url, nil, opts...)
}

// doTyped executes a JSON request. Transfer failures and 4xx/5xx statuses
// are returned as *Error; for error statuses the body is still decoded when
// it is valid JSON.
func doTyped[T any](ctx context.Context, s *Session, method, url string, body any, opts ...Option) (*TypedResponse[T], error) {
	all := make([]Option, 0, len(opts)+2)
	all = append(all, WithHeader("Accept", "application/json"))
	if body != nil {
		all = append(all, WithJSON(body))
	}
	all = append(all, opts...)

	resp, err := s.ExecuteWith(ctx, method, url, all...)
	if err != nil {
		return nil, err
	}
	if resp.Err() != nil {
		return nil, resp.Err()
	}

	out := &TypedResponse[T]{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Raw:        resp,
	}
	if statusErr := resp.StatusError(); statusErr != nil {
		if len(resp.body) > 0 {
			_ = json.Unmarshal(resp.body, &out.Data)
		}
		return out, statusErr
	}
	if len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, &out.Data); err != nil {
			return out, fmt.Errorf("httpclient: decode response: %w", err)
		}
	}
	return out, nil
}
