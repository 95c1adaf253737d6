package transport

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Dialer opens a JSON-RPC client for one endpoint URL.
type Dialer func(ctx context.Context, rawURL string) (Caller, error)

// HTTPDialer dials endpoints with go-ethereum's HTTP client.
func HTTPDialer(httpClient *http.Client) Dialer {
	return func(ctx context.Context, rawURL string) (Caller, error) {
		client, err := rpc.DialOptions(ctx, rawURL, rpc.WithHTTPClient(httpClient))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

type Config struct {
	// Endpoints are the public endpoints in order of preference.
	Endpoints []string
	// Backup is the optional private endpoint.
	Backup  string
	ChainID uint64

	ConfirmationTimeout time.Duration // default 15s
	PollInterval        time.Duration // default 2s
	MaxPollFailures     int           // default 3

	HTTPClient *http.Client
	Dialer     Dialer
	Logger     *zap.Logger
}

// Transport presents several RPC endpoints as one provider.
type Transport struct {
	chainID   *big.Int
	endpoints []*endpoint

	// calls serves ordinary requests: public endpoints, then the backup.
	calls *Pool
	// public is the phase one confirmation pool. It is empty when only a
	// backup is configured.
	public *Pool
	// confirm is the phase two pool: backup first, then public endpoints.
	confirm *Pool

	confirmationTimeout time.Duration
	pollInterval        time.Duration
	maxPollFailures     int

	logger *zap.Logger
}

func New(ctx context.Context, cfg Config) (*Transport, error) {
	if len(cfg.Endpoints) == 0 && cfg.Backup == "" {
		return nil, ErrEmptyPool
	}

	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 15 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dialer == nil {
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: 30 * time.Second}
		}
		cfg.Dialer = HTTPDialer(httpClient)
	}

	logger := cfg.Logger.With(zap.Uint64("chain_id", cfg.ChainID))
	t := &Transport{
		chainID:             new(big.Int).SetUint64(cfg.ChainID),
		confirmationTimeout: cfg.ConfirmationTimeout,
		pollInterval:        cfg.PollInterval,
		maxPollFailures:     cfg.MaxPollFailures,
		logger:              logger,
	}

	dialed := make(map[string]*endpoint)
	dial := func(rawURL string, backup bool) (*endpoint, error) {
		if ep, ok := dialed[rawURL]; ok {
			return ep, nil
		}
		client, err := cfg.Dialer(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", redact(rawURL), err)
		}
		ep := &endpoint{url: rawURL, label: redact(rawURL), backup: backup, client: client}
		dialed[rawURL] = ep
		t.endpoints = append(t.endpoints, ep)
		return ep, nil
	}

	public := make([]*endpoint, 0, len(cfg.Endpoints))
	for _, rawURL := range cfg.Endpoints {
		ep, err := dial(rawURL, false)
		if err != nil {
			t.Close()
			return nil, err
		}
		public = append(public, ep)
	}

	var backup *endpoint
	if cfg.Backup != "" {
		ep, err := dial(cfg.Backup, true)
		if err != nil {
			t.Close()
			return nil, err
		}
		backup = ep
	}

	t.public = newPool("public", public, logger)
	if backup == nil || !backup.backup {
		// no distinct backup: every pool is the public list
		t.calls = t.public
		t.confirm = newPool("confirm", public, logger)
	} else {
		t.calls = newPool("calls", append(append([]*endpoint{}, public...), backup), logger)
		t.confirm = newPool("confirm", append([]*endpoint{backup}, public...), logger)
	}

	logger.Info("Transport initialized",
		zap.Int("public_endpoints", len(public)),
		zap.Bool("backup", backup != nil && backup.backup),
		zap.Duration("confirmation_timeout", t.confirmationTimeout),
	)

	return t, nil
}

// Call issues one JSON-RPC call with endpoint failover.
func (t *Transport) Call(ctx context.Context, result any, method string, args ...any) error {
	return t.calls.Do(ctx, func(ctx context.Context, ep *endpoint) error {
		return ep.client.CallContext(ctx, result, method, args...)
	})
}

// ChainID returns the configured chain id.
func (t *Transport) ChainID() *big.Int {
	return new(big.Int).Set(t.chainID)
}

// CheckChainID asks the pool for eth_chainId and compares it with the
// configured chain.
func (t *Transport) CheckChainID(ctx context.Context) error {
	var remote hexutil.Big
	if err := t.Call(ctx, &remote, "eth_chainId"); err != nil {
		return fmt.Errorf("failed to fetch chain id: %w", err)
	}
	if (*big.Int)(&remote).Cmp(t.chainID) != 0 {
		return fmt.Errorf("endpoint chain id %s does not match configured %s", (*big.Int)(&remote), t.chainID)
	}
	return nil
}

func (t *Transport) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := t.Call(ctx, &result, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// SendTransaction broadcasts a signed transaction once. Submission is never
// rotated or retried: a failure here is returned to the caller.
func (t *Transport) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	hash, err := t.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, err
	}
	if hash != tx.Hash() {
		t.logger.Warn("Endpoint returned unexpected transaction hash",
			zap.Stringer("expected", tx.Hash()),
			zap.Stringer("returned", hash),
		)
		return tx.Hash(), nil
	}

	return hash, nil
}

// SendRawTransaction submits raw through the endpoint the pool is currently
// bound to.
func (t *Transport) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	idx, ep := t.calls.bound()

	var hash common.Hash
	err := ep.client.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw))
	if err != nil {
		if isEndpointFailure(err) && ctx.Err() == nil {
			ep.recordFailure(err, time.Now())
			// later calls move on, this one is not retried
			t.calls.rot.Advance(idx)
		}
		t.logger.Error("Transaction submission failed",
			zap.String("endpoint", ep.label),
			zap.Error(err),
		)
		return common.Hash{}, fmt.Errorf("failed to submit transaction: %w", err)
	}

	ep.recordSuccess()
	t.logger.Info("Transaction submitted",
		zap.String("endpoint", ep.label),
		zap.Stringer("hash", hash),
	)

	return hash, nil
}

// SubmitAndConfirm broadcasts tx and tracks its confirmation. Only submission
// can fail; confirmation problems end in StateAcceptedUnconfirmed.
func (t *Transport) SubmitAndConfirm(ctx context.Context, tx *types.Transaction) (*Confirmation, error) {
	hash, err := t.SendTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	return t.WaitForConfirmation(ctx, hash), nil
}

// Status reports call statistics for every endpoint.
func (t *Transport) Status() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(t.endpoints))
	for _, ep := range t.endpoints {
		out = append(out, ep.status())
	}
	return out
}

func (t *Transport) Close() {
	for _, ep := range t.endpoints {
		ep.client.Close()
	}
}
