package interceptor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kbukum/fetchkit/httpclient"
)

// Metrics records per-request instruments on a meter from mp, or from the
// global provider when mp is nil:
//
//   - http.client.requests: requests that reached the interceptor
//   - http.client.errors: transfers that failed without a response
//   - http.client.request.duration: request latency in seconds
//
// Attributes carry the method, the status code and, for failures, the
// error code name.
func Metrics(mp metric.MeterProvider) (httpclient.Interceptor, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	requests, err := meter.Int64Counter("http.client.requests",
		metric.WithDescription("Requests sent through the interceptor chain"))
	if err != nil {
		return nil, fmt.Errorf("interceptor: create requests counter: %w", err)
	}
	failures, err := meter.Int64Counter("http.client.errors",
		metric.WithDescription("Requests that failed without an HTTP response"))
	if err != nil {
		return nil, fmt.Errorf("interceptor: create errors counter: %w", err)
	}
	duration, err := meter.Float64Histogram("http.client.request.duration",
		metric.WithDescription("Request duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("interceptor: create duration histogram: %w", err)
	}

	return httpclient.InterceptorFunc(func(ctx context.Context, req *httpclient.Request, next httpclient.Next) *httpclient.Response {
		start := time.Now()
		resp := next(ctx, req)
		elapsed := time.Since(start)

		attrs := []attribute.KeyValue{attribute.String("http.request.method", req.Method)}
		switch {
		case resp == nil:
		case resp.Err() != nil:
			errAttr := attribute.String("error.type", resp.Err().Code.String())
			attrs = append(attrs, errAttr)
			failures.Add(ctx, 1, metric.WithAttributes(attrs...))
		default:
			attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode()))
		}
		set := metric.WithAttributes(attrs...)
		requests.Add(ctx, 1, set)
		duration.Record(ctx, elapsed.Seconds(), set)
		return resp
	}), nil
}
