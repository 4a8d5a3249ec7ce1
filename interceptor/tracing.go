package interceptor

import (
	"context"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/logger"
)

const instrumentationName = "github.com/kbukum/fetchkit/interceptor"

// TracingConfig configures the Tracing interceptor.
type TracingConfig struct {
	// Provider creates the tracer. Defaults to the global provider.
	Provider trace.TracerProvider
	// Propagator injects the span context into request headers.
	// Defaults to W3C trace context.
	Propagator propagation.TextMapPropagator
}

// Tracing starts a client span per request and propagates it in the
// request headers. Transfer errors and 5xx responses mark the span as
// failed. The trace and span IDs are stored in the context for
// logger.WithContext.
func Tracing(cfg TracingConfig) httpclient.Interceptor {
	if cfg.Provider == nil {
		cfg.Provider = otel.GetTracerProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = propagation.TraceContext{}
	}
	tracer := cfg.Provider.Tracer(instrumentationName)

	return httpclient.InterceptorFunc(func(ctx context.Context, req *httpclient.Request, next httpclient.Next) *httpclient.Response {
		ctx, span := tracer.Start(ctx, "HTTP "+req.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("url.full", req.URL),
			),
		)
		defer span.End()

		cfg.Propagator.Inject(ctx, headerCarrier{h: &req.Header})
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = logger.ContextWithTrace(ctx, sc.TraceID().String(), sc.SpanID().String())
		}

		resp := next(ctx, req)
		switch {
		case resp == nil:
		case resp.Err() != nil:
			err := resp.Err()
			span.SetAttributes(attribute.String("error.type", err.Code.String()))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Message)
		default:
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode()))
			if resp.StatusCode() >= 500 {
				span.SetStatus(codes.Error, httpStatusText(resp.StatusCode()))
			}
		}
		return resp
	})
}

// headerCarrier adapts httpclient.Header to propagation.TextMapCarrier.
type headerCarrier struct {
	h *httpclient.Header
}

func (c headerCarrier) Get(key string) string { return c.h.Get(key) }
func (c headerCarrier) Set(key, value string) { c.h.Set(key, value) }
func (c headerCarrier) Keys() []string        { return c.h.Names() }

func httpStatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return strconv.Itoa(code) + " " + text
	}
	return strconv.Itoa(code)
}
