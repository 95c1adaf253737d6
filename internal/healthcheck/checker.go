package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Target is one probed JSON-RPC endpoint. Name is what gets reported; the
// URL never leaves the checker.
type Target struct {
	Name string
	URL  string
}

// Probes JSON-RPC targets with eth_chainId
type Checker struct {
	mu           sync.RWMutex
	targets      []Target
	healthStatus map[string]*Status
	client       *http.Client
	interval     time.Duration
	timeout      time.Duration
	maxFailures  int
	stopChan     chan struct{}
	running      bool
	now          func() time.Time
	logger       *zap.Logger
}

// Holds health checker configuration
type Config struct {
	Targets     []Target
	Interval    time.Duration // How often to check (default: 30s)
	Timeout     time.Duration // Probe timeout (default: 5s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
	Client      *http.Client
	Logger      *zap.Logger
}

func NewChecker(cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	checker := &Checker{
		targets:      cfg.Targets,
		healthStatus: make(map[string]*Status),
		client:       cfg.Client,
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		stopChan:     make(chan struct{}),
		now:          time.Now,
		logger:       cfg.Logger,
	}

	// Initialize status for all targets
	for _, target := range cfg.Targets {
		checker.healthStatus[target.Name] = &Status{
			Target:    target.Name,
			IsHealthy: true, // Assume healthy initially
			LastCheck: checker.now(),
		}
	}

	return checker
}

// Begins periodic health checks
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("Starting health checks",
		zap.Int("targets", len(c.targets)),
		zap.Duration("interval", c.interval),
	)

	// First check runs right away without holding up the caller
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.CheckAll(context.Background())
		for {
			select {
			case <-ticker.C:
				c.CheckAll(context.Background())
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stops the health checker
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		c.logger.Info("Health checker stopped")
	}
}

// CheckAll probes every target once
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			c.checkTarget(ctx, t)
		}(target)
	}

	wg.Wait()
}

// Performs health check on a single target
func (c *Checker) checkTarget(ctx context.Context, target Target) {
	chainID, err := c.probe(ctx, target.URL)
	if err != nil {
		c.recordFailure(target.Name, err)
		return
	}
	c.recordSuccess(target.Name, chainID)
}

func (c *Checker) probe(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := rpc.DialOptions(ctx, rawURL, rpc.WithHTTPClient(c.client))
	if err != nil {
		return "", fmt.Errorf("probe failed: %w", stripURL(err))
	}
	defer client.Close()

	var chainID hexutil.Big
	if err := client.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("probe returned error %d: %s", rpcErr.ErrorCode(), rpcErr.Error())
		}
		var httpErr rpc.HTTPError
		if errors.As(err, &httpErr) {
			return "", fmt.Errorf("probe returned status %d", httpErr.StatusCode)
		}
		return "", fmt.Errorf("probe failed: %w", stripURL(err))
	}

	return chainID.String(), nil
}

// stripURL drops the url.Error wrapper, which carries the target URL.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// Records a successful health check
func (c *Checker) recordSuccess(name, chainID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	status := c.healthStatus[name]
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0
	status.ChainID = chainID
	status.LastError = ""

	if !status.IsHealthy {
		c.logger.Info("Target is now healthy", zap.String("target", name))
		status.IsHealthy = true
	}
}

// Records a failed health check
func (c *Checker) recordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	status := c.healthStatus[name]
	status.LastCheck = now
	status.LastFailure = now
	status.LastError = err.Error()
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("Target is now unhealthy",
			zap.String("target", name),
			zap.Int("failures", status.FailureCount),
			zap.Error(err),
		)
		status.IsHealthy = false
	}
}

// Return the health status of a specific target
func (c *Checker) GetStatus(name string) *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if status, exists := c.healthStatus[name]; exists {
		// Return copy
		statusCopy := *status
		return &statusCopy
	}

	return nil
}

// Returns health status of all targets
func (c *Checker) GetAllStatus() map[string]*Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statusMap := make(map[string]*Status)
	for name, status := range c.healthStatus {
		statusCopy := *status
		statusMap[name] = &statusCopy
	}

	return statusMap
}

// Returns the overall health status
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := 0
	for _, status := range c.healthStatus {
		if status.IsHealthy {
			healthy++
		}
	}

	switch {
	case len(c.healthStatus) == 0, healthy == len(c.healthStatus):
		return Healthy
	case healthy == 0:
		return Unhealthy
	default:
		return Degraded
	}
}
