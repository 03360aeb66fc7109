package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/mentor-trust-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the trust subsystem.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	ledgerAppend      *prometheus.HistogramVec
	verifications     *prometheus.CounterVec
	verifiedRecords   prometheus.Counter
	transitions       *prometheus.CounterVec
	sweepExpired      prometheus.Counter
	sweepPurged       prometheus.Counter
	sweepFailures     prometheus.Counter
	executionFailures *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	ledgerAppends        uint64
	ledgerAppendErrors   uint64
	invalidVerifications uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	ledgerAppend := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audit_ledger_append_seconds",
		Help:    "Latency of audit ledger appends, including the head lock",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_chain_verifications_total",
		Help: "Chain verifications by outcome",
	}, []string{"result"})

	verifiedRecords := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_chain_verified_records_total",
		Help: "Records re-hashed by chain verification",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_action_transitions_total",
		Help: "Pending action status transitions",
	}, []string{"from", "to"})

	sweepExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pending_action_sweep_expired_total",
		Help: "Pending actions expired by the sweeper",
	})

	sweepPurged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pending_action_sweep_purged_total",
		Help: "Terminal pending actions removed by retention",
	})

	sweepFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pending_action_sweep_failures_total",
		Help: "Sweeper runs that failed",
	})

	executionFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_action_execution_failures_total",
		Help: "Executor failures by action",
	}, []string{"action"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, ledgerAppend, verifications, verifiedRecords,
		transitions, sweepExpired, sweepPurged, sweepFailures, executionFailures, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		ledgerAppend:      ledgerAppend,
		verifications:     verifications,
		verifiedRecords:   verifiedRecords,
		transitions:       transitions,
		sweepExpired:      sweepExpired,
		sweepPurged:       sweepPurged,
		sweepFailures:     sweepFailures,
		executionFailures: executionFailures,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveLedgerAppend records the latency and outcome of one append.
func (m *MetricsService) ObserveLedgerAppend(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		atomic.AddUint64(&m.ledgerAppendErrors, 1)
	} else {
		atomic.AddUint64(&m.ledgerAppends, 1)
	}
	m.ledgerAppend.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveChainVerification counts verification outcomes.
func (m *MetricsService) ObserveChainVerification(valid bool, checked int) {
	if m == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
		atomic.AddUint64(&m.invalidVerifications, 1)
	}
	m.verifications.WithLabelValues(result).Inc()
	m.verifiedRecords.Add(float64(checked))
}

// ObserveTransition counts a committed status change.
func (m *MetricsService) ObserveTransition(from, to models.PendingActionStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveExecutionFailure counts an executor error.
func (m *MetricsService) ObserveExecutionFailure(action string) {
	if m == nil {
		return
	}
	m.executionFailures.WithLabelValues(action).Inc()
}

// ObserveSweep records one sweeper run.
func (m *MetricsService) ObserveSweep(expired int, purged int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepFailures.Inc()
	}
	m.sweepExpired.Add(float64(expired))
	m.sweepPurged.Add(float64(purged))
}

// Snapshot returns aggregated metrics for the health endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		LedgerAppends:            atomic.LoadUint64(&m.ledgerAppends),
		LedgerAppendErrors:       atomic.LoadUint64(&m.ledgerAppendErrors),
		InvalidVerifications:     atomic.LoadUint64(&m.invalidVerifications),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
