package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/config"
	"github.com/aman-churiwal/rpc-gateway/internal/handler"
	"github.com/aman-churiwal/rpc-gateway/internal/healthcheck"
	"github.com/aman-churiwal/rpc-gateway/internal/middleware"
	"github.com/aman-churiwal/rpc-gateway/internal/proxy"
	"github.com/aman-churiwal/rpc-gateway/internal/ratelimit"
	"github.com/aman-churiwal/rpc-gateway/internal/service"
	"github.com/aman-churiwal/rpc-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options carries collaborators that tests replace.
type Options struct {
	// Store overrides the store built from configuration.
	Store ratelimit.Store
	// Redis is required by the redis store and pinged by /health.
	Redis *storage.RedisClient
	// UpstreamTransport overrides the proxy's round tripper.
	UpstreamTransport http.RoundTripper
	// HealthClient is used by the upstream probe.
	HealthClient *http.Client
}

type Server struct {
	router        *gin.Engine
	config        *config.Config
	proxy         *proxy.Proxy
	limiter       *ratelimit.Limiter
	checker       *healthcheck.Checker
	systemHandler *handler.SystemHandler
	tokens        *service.TokenService
	httpServer    *http.Server
	logger        *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger, opts Options) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = ratelimit.NewStore(cfg.RateLimit, opts.Redis)
		if err != nil {
			return nil, err
		}
	}
	limiter := ratelimit.NewLimiter(store, cfg.RateLimit.Requests, cfg.RateLimit.Window)

	p, err := proxy.New(proxy.Config{
		UpstreamURL:    cfg.Gateway.UpstreamURL,
		Timeout:        cfg.Gateway.UpstreamTimeout,
		MaxFailures:    cfg.Breaker.MaxFailures,
		BreakerTimeout: cfg.Breaker.Timeout,
		Transport:      opts.UpstreamTransport,
		Logger:         logger.Named("proxy"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	var targets []healthcheck.Target
	if cfg.Gateway.UpstreamURL != "" {
		targets = append(targets, healthcheck.Target{Name: "upstream", URL: cfg.Gateway.UpstreamURL})
	}
	checker := healthcheck.NewChecker(healthcheck.Config{
		Targets:  targets,
		Interval: cfg.Health.Interval,
		Timeout:  cfg.Health.Timeout,
		Client:   opts.HealthClient,
		Logger:   logger.Named("healthcheck"),
	})

	s := &Server{
		router:  gin.New(),
		config:  cfg,
		proxy:   p,
		limiter: limiter,
		checker: checker,
		systemHandler: handler.NewSystemHandler(handler.SystemDeps{
			Proxy:       p,
			Limiter:     limiter,
			Checker:     checker,
			Redis:       opts.Redis,
			Environment: cfg.Server.Environment,
			Logger:      logger,
		}),
		logger: logger,
	}

	if cfg.Admin.JWTSecret != "" {
		s.tokens = service.NewTokenService(cfg.Admin.JWTSecret, time.Hour)
	}

	// X-Forwarded-For is only read from these peers
	if err := s.router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	// Setup middleware
	s.setupMiddleware()

	// Setup routes
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logger(s.logger.Named("http")))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.systemHandler.Health)

	if s.tokens != nil {
		admin := s.router.Group("/admin", middleware.RequireAdmin(s.tokens))
		{
			admin.GET("/status", s.systemHandler.AdminStatus)
			admin.GET("/ratelimit/:identity", s.systemHandler.GetRateLimit)
			admin.DELETE("/ratelimit/:identity", s.systemHandler.ResetRateLimit)
		}
	} else {
		s.logger.Info("Admin endpoints disabled, ADMIN_JWT_SECRET is not set")
	}

	s.setupGatewayRoute()
}

// setupGatewayRoute registers the JSON-RPC endpoint. The order of the chain
// is part of its contract: nothing runs before the origin check, and
// rejected requests never reach the limiter or the upstream.
func (s *Server) setupGatewayRoute() {
	gw := s.config.Gateway

	s.router.Any(gw.Path,
		middleware.BodyLimit(gw.MaxBodyBytes),
		middleware.OriginGuard(gw.AllowedOrigins, s.config.IsProduction(), s.logger.Named("gateway")),
		middleware.CORS(gw.AllowedOrigins),
		middleware.RPCMethods(),
		middleware.RejectOversized(),
		middleware.RateLimit(s.limiter, s.logger.Named("ratelimit")),
		s.proxy.Handle,
	)

	s.logger.Info("Registered gateway route",
		zap.String("path", gw.Path),
		zap.Int("allowed_origins", len(gw.AllowedOrigins)),
		zap.Int("rate_limit", s.limiter.Limit()),
		zap.Duration("rate_window", s.limiter.Window()),
		zap.String("store", s.limiter.Store().Name()),
	)
}

func (s *Server) Run(addr string) error {
	s.checker.Start()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.Gateway.UpstreamTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting RPC gateway",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
	)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	s.checker.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
