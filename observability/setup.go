package observability

import (
	"context"
	"errors"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/fetchkit/logger"
)

// Providers holds the providers created by Setup. Either field is nil when
// export is disabled.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// Setup validates cfg and, when enabled, registers exporting tracer and
// meter providers for serviceName.
func Setup(ctx context.Context, cfg Config, serviceName string, log *logger.Logger) (*Providers, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("observability config: %w", err)
	}
	p := &Providers{}
	if !cfg.Enabled {
		return p, nil
	}
	if log != nil {
		log = log.WithComponent("observability")
	}

	tp, err := InitTracer(ctx, cfg.tracer(serviceName), log)
	if err != nil {
		return nil, err
	}
	p.Tracer = tp

	mp, err := InitMeter(ctx, cfg.meter(serviceName), log)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	p.Meter = mp
	return p, nil
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.Tracer != nil {
		if err := p.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if p.Meter != nil {
		if err := p.Meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
