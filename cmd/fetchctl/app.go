package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/interceptor"
	"github.com/kbukum/fetchkit/logger"
	"github.com/kbukum/fetchkit/observability"
	"github.com/kbukum/fetchkit/pool"
)

// app holds what every command shares: settings, a logger, one connection
// pool and the telemetry providers.
type app struct {
	settings  *Settings
	log       *logger.Logger
	pool      *pool.Pool
	registry  *prometheus.Registry
	providers *observability.Providers
	limiter   *rate.Limiter

	out    io.Writer
	errOut io.Writer
}

func newApp(ctx context.Context, s *Settings, out, errOut io.Writer) (*app, error) {
	log := logger.NewWithWriter(errOut, &s.Logging, s.Name)

	p, err := pool.New(s.Client.Pool, log)
	if err != nil {
		return nil, exitWith(ExitConfigError, fmt.Errorf("connection pool: %w", err))
	}
	registry := prometheus.NewRegistry()
	if err := registry.Register(pool.NewCollector(p, appName)); err != nil {
		_ = p.Close()
		return nil, err
	}

	providers, err := observability.Setup(ctx, s.Observability, s.Name, log)
	if err != nil {
		_ = p.Close()
		return nil, exitWith(ExitConfigError, err)
	}

	a := &app{
		settings:  s,
		log:       log,
		pool:      p,
		registry:  registry,
		providers: providers,
		out:       out,
		errOut:    errOut,
	}
	if s.RateLimit.RPS > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(s.RateLimit.RPS), s.RateLimit.Burst)
	}
	return a, nil
}

// newSession returns a session on the shared pool with the configured
// interceptor chain.
func (a *app) newSession(opts ...httpclient.Option) (*httpclient.Session, error) {
	base := []httpclient.Option{
		httpclient.WithConfig(a.settings.Client),
		httpclient.WithPool(a.pool),
		httpclient.WithLogger(a.log),
	}
	s := httpclient.NewSession(append(base, opts...)...)

	metrics, err := interceptor.Metrics(otel.GetMeterProvider())
	if err != nil {
		return nil, err
	}
	s.Use(
		interceptor.RequestID(interceptor.DefaultRequestIDHeader),
		interceptor.Tracing(interceptor.TracingConfig{Propagator: otel.GetTextMapPropagator()}),
		metrics,
	)
	if a.settings.Retry.MaxAttempts > 1 {
		s.Use(interceptor.Retry(a.retryConfig()))
	}
	if a.limiter != nil {
		s.Use(interceptor.RateLimitWith(a.limiter))
	}
	s.Use(interceptor.Logging(a.log))
	return s, nil
}

// retryConfig builds the retry policy from the settings. Sessions run it as
// an interceptor; batch applies it between MultiPerform rounds.
func (a *app) retryConfig() interceptor.RetryConfig {
	rc := interceptor.DefaultRetryConfig()
	rc.MaxAttempts = a.settings.Retry.MaxAttempts
	rc.InitialInterval = a.settings.Retry.InitialInterval
	rc.MaxInterval = a.settings.Retry.MaxInterval
	rc.OnRetry = func(attempt int, resp *httpclient.Response, wait time.Duration) {
		a.log.Warn("retrying request", logger.Fields(
			logger.FieldAttempt, attempt,
			logger.FieldStatus, resp.StatusCode(),
			"wait", wait.String(),
		))
	}
	return rc.WithDefaults()
}

// close shuts down telemetry and the pool.
func (a *app) close(ctx context.Context) error {
	return errors.Join(a.providers.Shutdown(ctx), a.pool.Close())
}

// writeMetrics prints the pool counters in "name{labels} value" form.
func (a *app) writeMetrics(w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)
			value := m.GetCounter().GetValue()
			if m.GetGauge() != nil {
				value = m.GetGauge().GetValue()
			}
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}

// statusColor picks the colour for a status code: green 2xx, cyan 3xx,
// yellow 4xx, red otherwise.
func statusColor(code int) *color.Color {
	switch {
	case code >= 200 && code < 300:
		return color.New(color.FgGreen)
	case code >= 300 && code < 400:
		return color.New(color.FgCyan)
	case code >= 400 && code < 500:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
