// Package telemetry wires OpenTelemetry tracing and metrics for ragkit.
//
// Export is off by default, so a plain run never opens a network connection
// for telemetry. When enabled, spans and metrics are shipped over OTLP (gRPC or
// HTTP/protobuf) to a collector. Instrumented code always obtains tracers and
// meters through this package, which hands out no-op implementations when
// export is disabled or a provider failed to start.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
