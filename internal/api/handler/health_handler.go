package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DBChecker reports database health.
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerChecker reports broker connectivity.
type BrokerChecker interface {
	IsConnected() bool
}

// HealthHandler answers liveness probes with the state of both backing
// services.
type HealthHandler struct {
	logger *slog.Logger
	db     DBChecker
	broker BrokerChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(logger *slog.Logger, db DBChecker, broker BrokerChecker) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		db:     db,
		broker: broker,
	}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	dbStatus := "up"
	brokerStatus := "up"
	healthy := true

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("Health check: database unreachable",
				slog.String("error", err.Error()),
			)
			dbStatus = "down"
			healthy = false
		}
	}

	if h.broker != nil && !h.broker.IsConnected() {
		brokerStatus = "down"
		healthy = false
	}

	code := http.StatusOK
	status := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":   status,
		"service":  "posepipe-api-service",
		"database": dbStatus,
		"broker":   brokerStatus,
	})
}
