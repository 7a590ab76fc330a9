// Package health exposes liveness and readiness probes for a chatfabric node.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/logging"
)

// StoreChecker is satisfied by the relational store client; Readiness
// calls Ping to confirm the batch writer can reach its backing database.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// QueueChecker is satisfied by the external queue client; Readiness
// calls Ping to confirm the producer/consumer can reach the queue service.
type QueueChecker interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	store StoreChecker
	queue QueueChecker
}

// NewHandler creates a new health check handler. Either dependency may be
// nil, in which case its check is reported healthy (useful for components
// that run without that collaborator wired, e.g. unit tests).
func NewHandler(store StoreChecker, queue QueueChecker) *Handler {
	return &Handler{store: store, queue: queue}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live — returns 200 if the process is alive, no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready — returns 200 only if the store and queue are both reachable.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	storeStatus := h.checkStore(ctx)
	checks["store"] = storeStatus
	if storeStatus != "healthy" {
		allHealthy = false
	}

	queueStatus := h.checkQueue(ctx)
	checks["queue"] = queueStatus
	if queueStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "healthy"
	}
	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "store health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkQueue(ctx context.Context) string {
	if h.queue == nil {
		return "healthy"
	}
	if err := h.queue.Ping(ctx); err != nil {
		logging.Error(ctx, "queue health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// MarshalJSON implements custom JSON marshaling for stable field ordering.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
