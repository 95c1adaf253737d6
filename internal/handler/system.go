package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/healthcheck"
	"github.com/aman-churiwal/rpc-gateway/internal/proxy"
	"github.com/aman-churiwal/rpc-gateway/internal/ratelimit"
	"github.com/aman-churiwal/rpc-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handles system-related endpoints
type SystemHandler struct {
	proxy       *proxy.Proxy
	limiter     *ratelimit.Limiter
	checker     *healthcheck.Checker
	redis       *storage.RedisClient
	environment string
	startTime   time.Time
	logger      *zap.Logger
}

type SystemDeps struct {
	Proxy       *proxy.Proxy
	Limiter     *ratelimit.Limiter
	Checker     *healthcheck.Checker
	Redis       *storage.RedisClient // nil with the memory store
	Environment string
	Logger      *zap.Logger
}

func NewSystemHandler(deps SystemDeps) *SystemHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SystemHandler{
		proxy:       deps.Proxy,
		limiter:     deps.Limiter,
		checker:     deps.Checker,
		redis:       deps.Redis,
		environment: deps.Environment,
		startTime:   time.Now(),
		logger:      logger,
	}
}

// Health reports upstream probe results, the redis connection and the
// breaker state. It never exposes the upstream URL.
func (h *SystemHandler) Health(c *gin.Context) {
	overall := h.checker.OverallHealth()
	checks := gin.H{
		"upstream":            h.checker.GetAllStatus(),
		"upstream_configured": h.proxy.Configured(),
		"breaker":             h.proxy.BreakerState(),
	}

	healthy := overall != healthcheck.Unhealthy
	if h.redis != nil {
		redisHealthy := true
		if err := h.redis.Ping(c.Request.Context()); err != nil {
			redisHealthy = false
			h.logger.Warn("Redis health check failed", zap.Error(err))
		}
		checks["redis"] = redisHealthy
		healthy = healthy && redisHealthy
	}

	status := overall.String()
	statusCode := http.StatusOK
	if !healthy {
		status = healthcheck.Unhealthy.String()
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "rpc-gateway",
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

// AdminStatus reports limits, store backend and breaker counters.
func (h *SystemHandler) AdminStatus(c *gin.Context) {
	counts := h.proxy.BreakerCounts()

	c.JSON(http.StatusOK, gin.H{
		"gateway":     "running",
		"environment": h.environment,
		"uptime":      time.Since(h.startTime).Seconds(),
		"timestamp":   time.Now().Unix(),
		"rate_limit": gin.H{
			"store":    h.limiter.Store().Name(),
			"requests": h.limiter.Limit(),
			"window":   h.limiter.Window().String(),
		},
		"breaker": gin.H{
			"state":                 h.proxy.BreakerState(),
			"requests":              counts.Requests,
			"total_failures":        counts.TotalFailures,
			"consecutive_failures":  counts.ConsecutiveFailures,
			"consecutive_successes": counts.ConsecutiveSuccesses,
		},
		"upstream": h.checker.GetAllStatus(),
	})
}

// GetRateLimit returns the live window entry of one identity.
func (h *SystemHandler) GetRateLimit(c *gin.Context) {
	identity := c.Param("identity")

	entry, found, err := h.limiter.Store().Get(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("Failed to read rate limit entry", zap.String("identity", identity), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read rate limit entry",
		})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "No active window for identity",
			"identity": identity,
		})
		return
	}

	remaining := h.limiter.Limit() - entry.Count
	if remaining < 0 {
		remaining = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"identity":        identity,
		"count":           entry.Count,
		"remaining":       remaining,
		"window_reset_at": entry.ResetAt,
	})
}

// ResetRateLimit drops the window entry of one identity.
func (h *SystemHandler) ResetRateLimit(c *gin.Context) {
	identity := c.Param("identity")

	if err := h.limiter.Store().Reset(c.Request.Context(), identity); err != nil {
		h.logger.Error("Failed to reset rate limit entry", zap.String("identity", identity), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to reset rate limit",
		})
		return
	}

	subject, _ := c.Get("subject")
	h.logger.Info("Rate limit reset", zap.String("identity", identity), zap.Any("subject", subject))

	c.JSON(http.StatusOK, gin.H{
		"message":  "Rate limit reset successfully",
		"identity": identity,
	})
}
