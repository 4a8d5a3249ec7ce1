package interceptor

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/kbukum/fetchkit/httpclient"
)

// RateLimit delays requests so that at most r start per second, with
// bursts of up to burst. A request whose wait cannot finish before ctx
// ends fails with ErrCodeCancelled without being sent.
func RateLimit(r rate.Limit, burst int) httpclient.Interceptor {
	if burst <= 0 {
		burst = 1
	}
	return RateLimitWith(rate.NewLimiter(r, burst))
}

// RateLimitWith is RateLimit over a caller-owned limiter, so one budget can
// cover interceptors on many sessions.
func RateLimitWith(l *rate.Limiter) httpclient.Interceptor {
	return httpclient.InterceptorFunc(func(ctx context.Context, req *httpclient.Request, next httpclient.Next) *httpclient.Response {
		if err := l.Wait(ctx); err != nil {
			return httpclient.ErrorResponse(req, httpclient.NewCancelledError(err))
		}
		return next(ctx, req)
	})
}
