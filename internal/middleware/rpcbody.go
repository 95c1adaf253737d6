package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aman-churiwal/rpc-gateway/internal/jsonrpc"
	"github.com/gin-gonic/gin"
)

const (
	envelopeKey  = "rpc_envelope"
	bodyLimitKey = "rpc_body_limit"

	// DefaultBodyLimit applies when BodyLimit is not part of the chain.
	DefaultBodyLimit int64 = 1 << 20
)

var ErrBodyTooLarge = errors.New("request body too large")

type cachedEnvelope struct {
	env jsonrpc.Envelope
	err error
}

// BodyLimit records the largest body the gateway accepts. It does no I/O;
// the body is read lazily by Envelope.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(bodyLimitKey, maxBytes)
		c.Next()
	}
}

// RejectOversized answers 413 for bodies over the limit and 400 for bodies
// that could not be read.
func RejectOversized() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := Envelope(c); err != nil {
			if errors.Is(err, ErrBodyTooLarge) {
				AbortWithRPCError(c, http.StatusRequestEntityTooLarge, jsonrpc.CodeInvalidRequest, "Request body too large", nil)
				return
			}
			AbortWithRPCError(c, http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "Failed to read request body", nil)
			return
		}
		c.Next()
	}
}

// Envelope returns the decoded request body. The body is read once, cached
// on the context and put back on the request for later handlers.
func Envelope(c *gin.Context) (jsonrpc.Envelope, error) {
	if v, ok := c.Get(envelopeKey); ok {
		cached := v.(cachedEnvelope)
		return cached.env, cached.err
	}

	env, err := readEnvelope(c)
	c.Set(envelopeKey, cachedEnvelope{env: env, err: err})

	return env, err
}

func readEnvelope(c *gin.Context) (jsonrpc.Envelope, error) {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return jsonrpc.Parse(nil), nil
	}

	limit := c.GetInt64(bodyLimitKey)
	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	_ = c.Request.Body.Close()
	if err != nil {
		return jsonrpc.Parse(nil), fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(raw)) > limit {
		return jsonrpc.Parse(nil), ErrBodyTooLarge
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	c.Request.ContentLength = int64(len(raw))

	return jsonrpc.Parse(raw), nil
}

// AbortWithRPCError stops the chain with a JSON-RPC error body that echoes
// the caller's id.
func AbortWithRPCError(c *gin.Context, status, code int, message string, data any) {
	env, _ := Envelope(c)
	c.AbortWithStatusJSON(status, jsonrpc.NewErrorResponse(env.ID(), code, message, data))
}
