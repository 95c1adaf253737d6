package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/aman-churiwal/rpc-gateway/internal/jsonrpc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type originSet map[string]struct{}

func newOriginSet(origins []string) originSet {
	set := make(originSet, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return set
}

func (s originSet) has(origin string) bool {
	_, ok := s[origin]
	return ok
}

// check returns the origin that was evaluated, the header it came from and
// whether the request may proceed.
func (s originSet) check(r *http.Request, production bool) (string, string, bool) {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin, "origin", s.has(origin)
	}

	if referer := r.Header.Get("Referer"); referer != "" {
		origin := refererOrigin(referer)
		return origin, "referer", origin != "" && s.has(origin)
	}

	// Same-origin tooling such as curl sends neither header.
	return "", "none", !production
}

func refererOrigin(referer string) string {
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// OriginGuard rejects requests whose Origin (or Referer origin) is not in
// allowed. It runs before any other gateway work.
func OriginGuard(allowed []string, production bool, logger *zap.Logger) gin.HandlerFunc {
	set := newOriginSet(allowed)

	return func(c *gin.Context) {
		origin, source, ok := set.check(c.Request, production)
		if !ok {
			env, _ := Envelope(c)
			logger.Warn("Rejected request origin",
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.String("origin", origin),
				zap.String("source", source),
				zap.String("method", env.Method()),
				zap.ByteString("id", env.ID()),
			)
			AbortWithRPCError(c, http.StatusForbidden, jsonrpc.CodeForbidden, "Forbidden origin", nil)
			return
		}
		c.Next()
	}
}

// CORS echoes an allowed Origin and advertises the gateway's methods.
func CORS(allowed []string) gin.HandlerFunc {
	set := newOriginSet(allowed)

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if origin := c.GetHeader("Origin"); origin != "" && set.has(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Allow-Credentials", "true")

		c.Next()
	}
}

// RPCMethods answers preflight requests and rejects everything but POST.
func RPCMethods() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost:
			c.Next()
		case http.MethodOptions:
			c.AbortWithStatus(http.StatusOK)
		default:
			c.Header("Allow", "POST, OPTIONS")
			AbortWithRPCError(c, http.StatusMethodNotAllowed, jsonrpc.CodeInvalidRequest, "Method not allowed", nil)
		}
	}
}
