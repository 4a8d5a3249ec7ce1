// Package observability wires OpenTelemetry tracer and meter providers that
// export over OTLP HTTP.
//
// The interceptor package records spans and instruments against whatever
// providers are registered globally. Setup registers exporting providers:
//
//	p, err := observability.Setup(ctx, cfg, "fetchctl", log)
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown(ctx)
//
// With Enabled false Setup registers nothing and Shutdown is a no-op.
package observability
