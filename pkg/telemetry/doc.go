// Package telemetry provides the observability stack for converge runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and a synchronous event stream used to report step
// progress.
//
// # Usage
//
// Initialize telemetry once per CLI invocation:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Logging
//
// Components derive their own logger and attach resource identity:
//
//	logger := tel.Logger.NewComponentLogger("reconciler")
//	logger.WithRunID(runID).WithResource("table", name).Info("table active")
//
// Log levels: trace, debug, info, warn, error. LOG_LEVEL and LOG_FORMAT
// override the configured values.
//
// # Tracing
//
// Every deploy or destroy run gets a root span and one child span per
// resource step:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, "deploy")
//	defer span.End()
//
// Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics are kept in a private registry. Serve exposes them over HTTP when
// a listen address is configured:
//
//	converge_runs_started_total{operation}
//	converge_runs_completed_total{operation,status}
//	converge_run_duration_seconds{operation,status}
//	converge_steps_executed_total{kind,operation,outcome}
//	converge_step_duration_seconds{kind,operation}
//	converge_waiter_polls_total{condition}
//	converge_artifact_uploads_total{artifact,result}
//	converge_invocations_total{function,status}
//	converge_errors_by_class_total{class}
//
// All Record methods are safe on a disabled or nil *Metrics.
//
// # Events
//
// The EventPublisher delivers step events to subscribers in order. The
// CLI subscribes to print progress lines.
package telemetry
