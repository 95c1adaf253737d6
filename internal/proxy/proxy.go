package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/jsonrpc"
	"github.com/aman-churiwal/rpc-gateway/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUpstreamNotConfigured is reported when RPC_UPSTREAM_URL is empty.
var ErrUpstreamNotConfigured = errors.New("upstream url is not configured")

// maxErrorBody caps the upstream body copied into error data.
const maxErrorBody = 512

// UpstreamStatusError is a non-2xx answer from the upstream.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

type Config struct {
	UpstreamURL string
	Timeout     time.Duration
	MaxFailures int
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration
	Transport      http.RoundTripper
	Logger         *zap.Logger
}

// Proxy relays accepted JSON-RPC requests to the single upstream.
type Proxy struct {
	target  *url.URL
	timeout time.Duration
	reverse *httputil.ReverseProxy
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// forward carries per-request state between Handle and the reverse proxy
// callbacks.
type forward struct {
	requestID string
	id        json.RawMessage
	raw       []byte
	err       error
}

type forwardKey struct{}

func New(cfg Config) (*Proxy, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	p := &Proxy{
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}

	if cfg.UpstreamURL != "" {
		target, err := url.Parse(cfg.UpstreamURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, errors.New("invalid upstream url")
		}
		p.target = target
	}

	p.reverse = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
		Transport:      cfg.Transport,
	}

	maxFailures := uint32(cfg.MaxFailures)
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	if p.target == nil {
		p.logger.Warn("Upstream URL is not configured, gateway requests will fail")
	} else {
		p.logger.Info("Proxy initialized",
			zap.Duration("timeout", p.timeout),
			zap.Int("breaker_max_failures", cfg.MaxFailures),
		)
	}

	return p, nil
}

// Handle forwards the request through the circuit breaker.
func (p *Proxy) Handle(c *gin.Context) {
	env, _ := middleware.Envelope(c)
	logger := p.logger.With(
		zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		zap.String("method", env.Method()),
		zap.ByteString("id", env.ID()),
		zap.String("identity", c.GetString(middleware.IdentityKey)),
	)

	if p.target == nil {
		logger.Error("Cannot forward request", zap.Error(ErrUpstreamNotConfigured))
		middleware.AbortWithRPCError(c, http.StatusInternalServerError, jsonrpc.CodeInternalError, "Internal error", "upstream not configured")
		return
	}

	logger.Info("Forwarding request", zap.Int("remaining", c.GetInt(middleware.RemainingKey)))
	start := time.Now()

	_, err := p.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), p.timeout)
		defer cancel()

		fwd := &forward{
			requestID: c.GetString(middleware.RequestIDKey),
			id:        env.ID(),
			raw:       env.Raw,
		}
		ctx = context.WithValue(ctx, forwardKey{}, fwd)

		p.reverse.ServeHTTP(c.Writer, c.Request.WithContext(ctx))

		return nil, fwd.err
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		logger.Warn("Upstream circuit open, request rejected")
		middleware.AbortWithRPCError(c, http.StatusBadGateway, jsonrpc.CodeInternalError, "Internal error", "upstream circuit open")
	case err != nil:
		// handleError already answered the caller.
		c.Abort()
	default:
		logger.Info("Received upstream response",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// rewrite sends the caller's body to the upstream with no caller headers.
func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	target := *p.target
	pr.Out.URL = &target
	pr.Out.Host = target.Host
	pr.Out.Method = http.MethodPost
	pr.Out.Header = http.Header{"Content-Type": []string{"application/json"}}

	if fwd, ok := pr.In.Context().Value(forwardKey{}).(*forward); ok {
		pr.Out.Body = io.NopCloser(bytes.NewReader(fwd.raw))
		pr.Out.ContentLength = int64(len(fwd.raw))
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UpstreamStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	// Only the body is relayed; upstream headers may carry provider details.
	resp.Header = http.Header{"Content-Type": []string{"application/json"}}
	resp.StatusCode = http.StatusOK

	return nil
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	fwd, ok := r.Context().Value(forwardKey{}).(*forward)
	if !ok {
		fwd = &forward{}
	}
	fwd.err = err

	data := p.describe(err)
	p.logger.Warn("Upstream request failed",
		zap.String("request_id", fwd.requestID),
		zap.Any("detail", data),
	)

	resp := jsonrpc.NewErrorResponse(fwd.id, jsonrpc.CodeInternalError, "Internal error", data)
	if werr := jsonrpc.WriteResponse(w, http.StatusBadGateway, resp); werr != nil {
		p.logger.Debug("Failed to write error response", zap.Error(werr))
	}
}

// describe turns a forwarding error into diagnostic data without the
// upstream URL.
func (p *Proxy) describe(err error) any {
	var statusErr *UpstreamStatusError
	if errors.As(err, &statusErr) {
		return map[string]any{
			"status": statusErr.StatusCode,
			"body":   p.scrub(statusErr.Body),
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "upstream timeout"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	return p.scrub(err.Error())
}

func (p *Proxy) scrub(s string) string {
	if p.target == nil {
		return s
	}
	s = strings.ReplaceAll(s, p.target.String(), "upstream")
	return strings.ReplaceAll(s, p.target.Host, "upstream")
}

// breakerSuccess decides which outcomes leave the upstream's health alone.
// Caller hang-ups and 4xx answers to a caller's bad request are not upstream
// failures; 429 means the upstream itself is saturated.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}

	var statusErr *UpstreamStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode < http.StatusInternalServerError &&
			statusErr.StatusCode != http.StatusTooManyRequests
	}

	return false
}

// BreakerState reports the upstream circuit breaker state.
func (p *Proxy) BreakerState() string {
	return p.breaker.State().String()
}

// BreakerCounts returns the breaker's counters for the current interval.
func (p *Proxy) BreakerCounts() gobreaker.Counts {
	return p.breaker.Counts()
}

// Configured reports whether an upstream URL is set.
func (p *Proxy) Configured() bool {
	return p.target != nil
}
