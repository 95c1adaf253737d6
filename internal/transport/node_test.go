package transport

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aman-churiwal/rpc-gateway/internal/jsonrpc"
)

// fakeNode is a minimal JSON-RPC node for transport tests.
type fakeNode struct {
	server  *httptest.Server
	chainID uint64
	down    atomic.Bool
	revert  atomic.Bool

	mu       sync.Mutex
	calls    map[string]int
	receipts map[common.Hash]*types.Receipt
}

func newFakeNode(t *testing.T, chainID uint64) *fakeNode {
	t.Helper()

	n := &fakeNode{
		chainID:  chainID,
		calls:    make(map[string]int),
		receipts: make(map[common.Hash]*types.Receipt),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.server.Close)

	return n
}

func (n *fakeNode) URL() string {
	return n.server.URL
}

func (n *fakeNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) AddReceipt(receipt *types.Receipt) {
	n.addReceiptAs(receipt.TxHash, receipt)
}

// addReceiptAs answers lookups of hash with receipt, even when the receipt
// belongs to another transaction.
func (n *fakeNode) addReceiptAs(hash common.Hash, receipt *types.Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts[hash] = receipt
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	var req jsonrpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	n.mu.Unlock()

	if n.down.Load() {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID}
	var result any

	switch req.Method {
	case "eth_chainId":
		result = hexutil.Uint64(n.chainID)
	case "eth_blockNumber":
		result = hexutil.Uint64(100)
	case "eth_call":
		if n.revert.Load() {
			resp.Error = &jsonrpc.Error{Code: 3, Message: "execution reverted"}
		} else {
			result = hexutil.Bytes{0x01}
		}
	case "eth_getTransactionReceipt":
		var params []common.Hash
		_ = json.Unmarshal(req.Params, &params)
		n.mu.Lock()
		if len(params) == 1 {
			result = n.receipts[params[0]]
		}
		n.mu.Unlock()
	case "eth_sendRawTransaction":
		var params []hexutil.Bytes
		_ = json.Unmarshal(req.Params, &params)
		tx := new(types.Transaction)
		if len(params) != 1 || tx.UnmarshalBinary(params[0]) != nil {
			resp.Error = &jsonrpc.Error{Code: -32602, Message: "invalid raw transaction"}
			break
		}
		result = tx.Hash()
	default:
		resp.Error = &jsonrpc.Error{Code: -32601, Message: "method not found"}
	}

	if resp.Error == nil {
		raw, _ := json.Marshal(result)
		resp.Result = raw
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func testReceipt(hash common.Hash) *types.Receipt {
	return &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		GasUsed:           21000,
		Logs:              []*types.Log{},
		TxHash:            hash,
		BlockHash:         common.HexToHash("0xb1"),
		BlockNumber:       big.NewInt(42),
	}
}
