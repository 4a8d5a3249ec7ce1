package httpclient

import "context"

// Next invokes the rest of the chain, ending with the transfer itself.
type Next func(ctx context.Context, req *Request) *Response

// Interceptor wraps request execution.
//
// Calling next zero times short-circuits the chain and the transport is
// never used. Calling it more than once repeats the request. Each call to
// next must get its own *Request when the interceptor keeps using req
// afterwards; see Request.Clone.
type Interceptor interface {
	Intercept(ctx context.Context, req *Request, next Next) *Response
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, req *Request, next Next) *Response

// Intercept implements Interceptor.
func (f InterceptorFunc) Intercept(ctx context.Context, req *Request, next Next) *Response {
	return f(ctx, req, next)
}

// Chain composes interceptors around terminal. The first interceptor is
// outermost: it sees the request first and the response last.
//
// Chain(t, a, b, c) is equivalent to a(b(c(t))).
func Chain(terminal Next, interceptors ...Interceptor) Next {
	next := terminal
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic, inner := interceptors[i], next
		next = func(ctx context.Context, req *Request) *Response {
			return ic.Intercept(ctx, req, inner)
		}
	}
	return next
}
