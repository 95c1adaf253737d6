// Package devnode is a small in-memory JSON-RPC node for local runs of the
// gateway and the transport. It accepts signed transactions and mines each
// one after a fixed delay.
package devnode

import (
	"encoding/json"
	"math/big"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/jsonrpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const codeMethodNotFound = -32601

type Config struct {
	ChainID   uint64
	MineDelay time.Duration
	// FailRate is the share of requests answered with 503.
	FailRate float64
	Logger   *zap.Logger
}

type submitted struct {
	tx *types.Transaction
	at time.Time
}

type Node struct {
	chainID   uint64
	mineDelay time.Duration
	failRate  float64
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	block    uint64
	pending  map[common.Hash]submitted
	receipts map[common.Hash]*types.Receipt
}

func New(cfg Config) *Node {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Node{
		chainID:   cfg.ChainID,
		mineDelay: cfg.MineDelay,
		failRate:  cfg.FailRate,
		logger:    cfg.Logger,
		now:       time.Now,
		block:     1,
		pending:   make(map[common.Hash]submitted),
		receipts:  make(map[common.Hash]*types.Receipt),
	}
}

// Handler serves JSON-RPC on every path.
func (n *Node) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.NoRoute(n.serve)
	return router
}

func (n *Node) serve(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	if n.failRate > 0 && rand.Float64() < n.failRate {
		c.String(http.StatusServiceUnavailable, "injected failure")
		return
	}

	var req jsonrpc.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(nil, jsonrpc.CodeParseError, "Parse error", nil))
		return
	}

	result, rpcErr := n.dispatch(req)
	n.logger.Debug("Handled request", zap.String("method", req.Method), zap.Bool("error", rpcErr != nil))

	if rpcErr != nil {
		c.JSON(http.StatusOK, jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Error: rpcErr})
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, "Internal error", err.Error()))
		return
	}
	c.JSON(http.StatusOK, jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: raw})
}

func (n *Node) dispatch(req jsonrpc.Request) (any, *jsonrpc.Error) {
	switch req.Method {
	case "eth_chainId":
		return hexutil.Uint64(n.chainID), nil
	case "net_version":
		return new(big.Int).SetUint64(n.chainID).String(), nil
	case "eth_blockNumber":
		n.mu.Lock()
		defer n.mu.Unlock()
		n.mineLocked()
		return hexutil.Uint64(n.block), nil
	case "eth_sendRawTransaction":
		var params []hexutil.Bytes
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 1 {
			return nil, &jsonrpc.Error{Code: -32602, Message: "invalid params"}
		}
		return n.submit(params[0])
	case "eth_getTransactionReceipt":
		var params []common.Hash
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 1 {
			return nil, &jsonrpc.Error{Code: -32602, Message: "invalid params"}
		}
		return n.receipt(params[0]), nil
	default:
		return nil, &jsonrpc.Error{Code: codeMethodNotFound, Message: "the method " + req.Method + " does not exist/is not available"}
	}
}

func (n *Node) submit(raw []byte) (any, *jsonrpc.Error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &jsonrpc.Error{Code: -32602, Message: "invalid raw transaction: " + err.Error()}
	}
	if id := tx.ChainId(); id != nil && id.Sign() != 0 && id.Uint64() != n.chainID {
		return nil, &jsonrpc.Error{Code: -32000, Message: "invalid chain id"}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	hash := tx.Hash()
	if _, ok := n.pending[hash]; ok {
		return nil, &jsonrpc.Error{Code: -32000, Message: "already known"}
	}
	if _, ok := n.receipts[hash]; ok {
		return nil, &jsonrpc.Error{Code: -32000, Message: "already known"}
	}
	n.pending[hash] = submitted{tx: tx, at: n.now()}

	n.logger.Info("Transaction accepted", zap.Stringer("hash", hash))
	return hash, nil
}

// receipt returns nil while the transaction is pending or unknown.
func (n *Node) receipt(hash common.Hash) *types.Receipt {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mineLocked()
	return n.receipts[hash]
}

// mineLocked includes every transaction older than the mine delay, one
// block per transaction.
func (n *Node) mineLocked() {
	now := n.now()
	for hash, sub := range n.pending {
		if now.Sub(sub.at) < n.mineDelay {
			continue
		}
		n.block++
		n.receipts[hash] = &types.Receipt{
			Type:              sub.tx.Type(),
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: sub.tx.Gas(),
			GasUsed:           sub.tx.Gas(),
			Logs:              []*types.Log{},
			TxHash:            hash,
			BlockHash:         common.BigToHash(new(big.Int).SetUint64(n.block)),
			BlockNumber:       new(big.Int).SetUint64(n.block),
		}
		delete(n.pending, hash)
		n.logger.Info("Transaction mined", zap.Stringer("hash", hash), zap.Uint64("block", n.block))
	}
}
