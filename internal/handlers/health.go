package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueChecker reports scheduler-queue connectivity.
type QueueChecker interface {
	IsConnected() bool
}

type HealthHandler struct {
	db    Pinger
	redis *redis.Client
	queue QueueChecker
}

func NewHealthHandler(db Pinger, rdb *redis.Client, queue QueueChecker) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, queue: queue}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)

	if h.db != nil && h.db.Ping(ctx) == nil {
		checks["postgres"] = "healthy"
	} else {
		checks["postgres"] = "unhealthy"
	}

	if h.redis != nil && h.redis.Ping(ctx).Err() == nil {
		checks["redis"] = "healthy"
	} else {
		checks["redis"] = "unhealthy"
	}

	if h.queue != nil && h.queue.IsConnected() {
		checks["rabbitmq"] = "healthy"
	} else {
		// Deferred dispatch degrades, immediate sends still work.
		checks["rabbitmq"] = "degraded"
	}

	overallStatus := "healthy"
	for _, status := range checks {
		if status == "unhealthy" {
			overallStatus = "unhealthy"
			break
		} else if status == "degraded" {
			overallStatus = "degraded"
		}
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
		"version":   "1.0.0",
	})
}
