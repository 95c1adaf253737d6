package middleware

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/jsonrpc"
	"github.com/aman-churiwal/rpc-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	IdentityKey  = "rate_limit_identity"
	RemainingKey = "rate_limit_remaining"
)

// RateLimit counts the request against the caller's identity and rejects it
// with -32429 once the window's quota is used up.
func RateLimit(limiter *ratelimit.Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := ratelimit.IdentityKey(c.ClientIP(), c.Request.UserAgent())
		c.Set(IdentityKey, identity)

		decision, err := limiter.Allow(c.Request.Context(), identity)
		if err != nil {
			logger.Error("Rate limit check failed",
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.String("store", limiter.Store().Name()),
				zap.Error(err),
			)
			AbortWithRPCError(c, http.StatusInternalServerError, jsonrpc.CodeInternalError, "Internal error", "rate limit check failed")
			return
		}

		c.Set(RemainingKey, decision.Remaining)

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(time.Until(decision.ResetAt).Seconds()))
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))

			env, _ := Envelope(c)
			logger.Warn("Rate limit exceeded",
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.String("identity", identity),
				zap.String("method", env.Method()),
				zap.ByteString("id", env.ID()),
				zap.Int("limit", decision.Limit),
				zap.Time("reset_at", decision.ResetAt),
			)

			AbortWithRPCError(c, http.StatusTooManyRequests, jsonrpc.CodeRateLimited, "Rate limit exceeded", gin.H{
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
