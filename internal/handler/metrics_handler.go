package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
	"github.com/noah-isme/mentor-trust-api/pkg/response"
)

type metricsSource interface {
	Snapshot() models.SystemMetrics
	Handler() http.Handler
}

// ReadinessProbe reports whether one dependency can serve traffic.
type ReadinessProbe func(ctx context.Context) error

// MetricsHandler exposes the liveness, readiness and Prometheus endpoints.
type MetricsHandler struct {
	metrics metricsSource
	probes  map[string]ReadinessProbe
	timeout time.Duration
}

// NewMetricsHandler constructs a metrics handler. Probes are keyed by the
// dependency name reported on failure.
func NewMetricsHandler(metrics metricsSource, probes map[string]ReadinessProbe) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, probes: probes, timeout: 2 * time.Second}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health godoc
// @Summary Liveness probe with a runtime snapshot
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /health [get]
func (h *MetricsHandler) Health(c *gin.Context) {
	response.JSON(c, http.StatusOK, gin.H{"status": "ok", "metrics": h.metrics.Snapshot()}, nil)
}

// Ready godoc
// @Summary Readiness probe covering the database and ledger head
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /ready [get]
func (h *MetricsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string, len(h.probes))
	failed := false
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			checks[name] = err.Error()
			failed = true
			continue
		}
		checks[name] = "ok"
	}
	if failed {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusServiceUnavailable, response.Envelope{
			Error: appErrors.New("NOT_READY", http.StatusServiceUnavailable, "dependencies unavailable"),
			Meta:  map[string]interface{}{"checks": checks},
		})
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "ready", "checks": checks}, nil)
}
