package middleware

import (
	"net/http"

	"github.com/aman-churiwal/rpc-gateway/internal/jsonrpc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a panic into a -32603 response.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic while handling request",
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.Any("panic", err),
					zap.Stack("stack"),
				)

				if c.Writer.Written() {
					c.Abort()
					return
				}
				AbortWithRPCError(c, http.StatusInternalServerError, jsonrpc.CodeInternalError, "Internal error", nil)
			}
		}()
		c.Next()
	}
}
