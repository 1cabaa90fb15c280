package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the provisioning engine.
type Metrics struct {
	config MetricsConfig

	// Share pack metrics
	packsSubmitted *prometheus.CounterVec
	packsCompleted *prometheus.CounterVec
	packDuration   *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Queue metrics
	messagesConsumed *prometheus.CounterVec
	retriesTotal     prometheus.Counter
	queueDepth       prometheus.Gauge

	// Cleanup metrics
	orphansCleaned *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		packsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packs_submitted_total",
				Help:      "Total number of share packs accepted for provisioning",
			},
			[]string{"strategy"},
		),
		packsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packs_completed_total",
				Help:      "Total number of share pack runs reaching a terminal status",
			},
			[]string{"status"},
		),
		packDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pack_duration_seconds",
				Help:      "Duration of share pack runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of provisioning steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of provisioning steps in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),

		messagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_consumed_total",
				Help:      "Total number of queue messages processed by outcome",
			},
			[]string{"outcome"},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_retries_total",
				Help:      "Total number of messages left for redelivery after a transient failure",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Approximate number of messages waiting in the queue",
			},
		),

		orphansCleaned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphans_cleaned_total",
				Help:      "Total number of orphaned pipelines retired, by mode",
			},
			[]string{"mode"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.packsSubmitted,
		m.packsCompleted,
		m.packDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.messagesConsumed,
		m.retriesTotal,
		m.queueDepth,
		m.orphansCleaned,
		m.errorsByClass,
	)

	return m, nil
}

// PackSubmitted increments the counter for accepted share packs.
func (m *Metrics) PackSubmitted(strategy string) {
	if m == nil || m.packsSubmitted == nil {
		return
	}
	m.packsSubmitted.WithLabelValues(strategy).Inc()
}

// PackCompleted records a terminal run with its status and duration.
func (m *Metrics) PackCompleted(status string, duration time.Duration) {
	if m == nil || m.packsCompleted == nil {
		return
	}
	m.packsCompleted.WithLabelValues(status).Inc()
	m.packDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// StepDuration records one provisioning step execution.
func (m *Metrics) StepDuration(step string, duration time.Duration, success bool) {
	if m == nil || m.stepsExecuted == nil {
		return
	}
	status := "succeeded"
	if !success {
		status = "failed"
	}
	m.stepsExecuted.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// MessageConsumed records the outcome of one consumed queue message
// (completed, failed, retried, skipped).
func (m *Metrics) MessageConsumed(outcome string) {
	if m == nil || m.messagesConsumed == nil {
		return
	}
	m.messagesConsumed.WithLabelValues(outcome).Inc()
}

// RetryScheduled counts a message left unacked for redelivery.
func (m *Metrics) RetryScheduled() {
	if m == nil || m.retriesTotal == nil {
		return
	}
	m.retriesTotal.Inc()
}

// SetQueueDepth sets the approximate number of waiting messages.
func (m *Metrics) SetQueueDepth(depth float64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(depth)
}

// OrphanCleaned records one retired orphan pipeline; mode is "deleted" when
// the remote pipeline was removed or "detached" when only the record was.
func (m *Metrics) OrphanCleaned(mode string) {
	if m == nil || m.orphansCleaned == nil {
		return
	}
	m.orphansCleaned.WithLabelValues(mode).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics and a liveness
// endpoint.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
