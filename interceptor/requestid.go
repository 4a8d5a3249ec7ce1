package interceptor

import (
	"context"

	"github.com/google/uuid"

	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/logger"
)

// DefaultRequestIDHeader is the header RequestID uses when given none.
const DefaultRequestIDHeader = "X-Request-Id"

// RequestID tags each request with an ID in header, keeping one the
// request already carries. The ID is also stored in the context for
// logger.WithContext, so a Logging interceptor registered after this one
// includes it.
func RequestID(header string) httpclient.Interceptor {
	if header == "" {
		header = DefaultRequestIDHeader
	}
	return httpclient.InterceptorFunc(func(ctx context.Context, req *httpclient.Request, next httpclient.Next) *httpclient.Response {
		id := req.Header.Get(header)
		if id == "" {
			id = logger.RequestIDFromContext(ctx)
		}
		if id == "" {
			id = uuid.NewString()
		}
		req.Header.Set(header, id)
		return next(logger.ContextWithRequestID(ctx, id), req)
	})
}
