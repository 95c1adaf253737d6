package transport

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Caller is the subset of go-ethereum's rpc.Client the transport needs.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
	Close()
}

type endpoint struct {
	url    string
	label  string
	backup bool
	client Caller

	mu          sync.Mutex
	successes   int
	failures    int
	lastError   string
	lastFailure time.Time
}

// EndpointStatus is a snapshot of one endpoint's call history.
type EndpointStatus struct {
	Endpoint    string    `json:"endpoint"`
	Backup      bool      `json:"backup"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

func (e *endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.successes++
}

func (e *endpoint) recordFailure(err error, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	e.lastError = err.Error()
	e.lastFailure = at
}

func (e *endpoint) status() EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointStatus{
		Endpoint:    e.label,
		Backup:      e.backup,
		Successes:   e.successes,
		Failures:    e.failures,
		LastError:   e.lastError,
		LastFailure: e.lastFailure,
	}
}

// redact keeps scheme and host only; provider URLs often embed API keys.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid-url>"
	}
	return u.Scheme + "://" + u.Host
}

// rotation is the preferred endpoint index of a pool. Calls start at the
// current index; a failed call moves it forward unless another call already
// did.
type rotation struct {
	mu      sync.Mutex
	size    int
	current int
}

func (r *rotation) Current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Advance moves past failed and returns the new current index.
func (r *rotation) Advance(failed int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == failed {
		r.current = (failed + 1) % r.size
	}
	return r.current
}

// Pool is an ordered endpoint list with failover.
type Pool struct {
	name      string
	endpoints []*endpoint
	rot       rotation
	now       func() time.Time
	logger    *zap.Logger
}

func newPool(name string, endpoints []*endpoint, logger *zap.Logger) *Pool {
	return &Pool{
		name:      name,
		endpoints: endpoints,
		rot:       rotation{size: len(endpoints)},
		now:       time.Now,
		logger:    logger,
	}
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Len() int {
	return len(p.endpoints)
}

// bound returns the endpoint calls currently start from.
func (p *Pool) bound() (int, *endpoint) {
	idx := p.rot.Current()
	return idx, p.endpoints[idx]
}

// Do runs fn against the current endpoint and fails over through the rest of
// the pool, trying each endpoint at most once. A single-endpoint pool is a
// plain passthrough.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, ep *endpoint) error) error {
	if len(p.endpoints) == 0 {
		return ErrEmptyPool
	}

	if len(p.endpoints) == 1 {
		ep := p.endpoints[0]
		err := fn(ctx, ep)
		switch {
		case err == nil:
			ep.recordSuccess()
		case ctx.Err() != nil:
		case isEndpointFailure(err):
			ep.recordFailure(err, p.now())
		default:
			ep.recordSuccess()
		}
		return err
	}

	tried := make([]bool, len(p.endpoints))
	attempts := make([]Attempt, 0, len(p.endpoints))

	idx := p.rot.Current()
	for idx >= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		ep := p.endpoints[idx]
		tried[idx] = true

		err := fn(ctx, ep)
		if err == nil {
			ep.recordSuccess()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !isEndpointFailure(err) {
			// The node answered; the error belongs to the request.
			ep.recordSuccess()
			return err
		}

		at := p.now()
		ep.recordFailure(err, at)
		attempts = append(attempts, Attempt{Endpoint: ep.label, Err: err, At: at})

		next := p.rot.Advance(idx)
		if tried[next] {
			next = nextUntried(tried, idx)
		}

		p.logger.Warn("Endpoint failed, rotating",
			zap.String("pool", p.name),
			zap.String("endpoint", ep.label),
			zap.Int("attempt", len(attempts)),
			zap.Bool("exhausted", next < 0),
			zap.Error(err),
		)

		idx = next
	}

	return &PoolError{Pool: p.name, Attempts: attempts}
}

// nextUntried scans forward from idx, wrapping around, and returns -1 when
// every endpoint has been tried.
func nextUntried(tried []bool, idx int) int {
	for step := 1; step < len(tried); step++ {
		candidate := (idx + step) % len(tried)
		if !tried[candidate] {
			return candidate
		}
	}
	return -1
}

func (p *Pool) status() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, ep.status())
	}
	return out
}
