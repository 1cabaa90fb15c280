// Package telemetry provides observability instrumentation for the share
// pack provisioning engine: structured logging with zerolog and Prometheus
// metrics exposed over HTTP.
//
// Initialize at application startup:
//
//	logger, err := telemetry.NewLogger(telemetry.DefaultLoggingConfig())
//	metrics, err := telemetry.NewMetrics(telemetry.DefaultMetricsConfig())
//
// Components derive their own loggers:
//
//	log := logger.NewComponentLogger("orchestrator")
//	log.WithSharePackID(id).Info("provisioning started")
//
// Key metrics exposed at /metrics (default :9090):
//
//   - openshare_packs_submitted_total{strategy}
//   - openshare_packs_completed_total{status}
//   - openshare_pack_duration_seconds{status}
//   - openshare_steps_executed_total{step,status}
//   - openshare_step_duration_seconds{step}
//   - openshare_queue_messages_consumed_total{outcome}
//   - openshare_queue_retries_total
//   - openshare_queue_depth
//   - openshare_orphans_cleaned_total{mode}
//   - openshare_errors_by_class_total{class}
package telemetry
