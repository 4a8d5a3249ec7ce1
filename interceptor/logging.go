package interceptor

import (
	"context"
	"time"

	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/logger"
)

// SlowThreshold marks log lines of requests that took longer with slow=true.
const SlowThreshold = 500 * time.Millisecond

// Logging writes one line per request that reaches it. Placed inside Retry
// it logs every attempt. Transfer errors and 5xx log at error level, 4xx at
// warn and everything else at debug. Request, trace and span IDs stored in
// the context are included.
func Logging(log *logger.Logger) httpclient.Interceptor {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("httpclient")
	return httpclient.InterceptorFunc(func(ctx context.Context, req *httpclient.Request, next httpclient.Next) *httpclient.Response {
		start := time.Now()
		resp := next(ctx, req)
		elapsed := time.Since(start)
		if resp == nil {
			return resp
		}

		fields := logger.Fields(
			logger.FieldMethod, req.Method,
			logger.FieldURL, req.URL,
			logger.FieldDuration, elapsed.Milliseconds(),
		)
		if elapsed > SlowThreshold {
			fields["slow"] = true
		}
		l := log.WithContext(ctx)
		if err := resp.Err(); err != nil {
			fields["code"] = err.Code.String()
			l.Error("request failed", logger.MergeWithError(fields, err))
			return resp
		}

		fields[logger.FieldStatus] = resp.StatusCode()
		switch httpclient.ClassifyStatus(resp.StatusCode()) {
		case httpclient.StatusServerError:
			l.Error("request completed", fields)
		case httpclient.StatusClientError:
			l.Warn("request completed", fields)
		default:
			l.Debug("request completed", fields)
		}
		return resp
	})
}
