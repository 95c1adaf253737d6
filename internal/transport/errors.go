package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrEmptyPool is returned when a transport is built without endpoints.
	ErrEmptyPool = errors.New("endpoint pool is empty")

	// ErrConfirmationTimeout marks the end of the public confirmation phase.
	ErrConfirmationTimeout = errors.New("confirmation timed out")

	// ErrReceiptMismatch is returned when an endpoint answers with a receipt
	// for a different transaction.
	ErrReceiptMismatch = errors.New("receipt does not match transaction hash")
)

// JSON-RPC error codes that point at the endpoint rather than the request.
var endpointErrorCodes = map[int]bool{
	-32005: true, // limit exceeded
	-32429: true, // gateway rate limit
	-32603: true, // internal error
}

// Attempt records one failed endpoint call.
type Attempt struct {
	Endpoint string
	Err      error
	At       time.Time
}

// PoolError is returned when every endpoint of a pool failed one logical call.
type PoolError struct {
	Pool     string
	Attempts []Attempt
}

func (e *PoolError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Endpoint, a.Err))
	}
	return fmt.Sprintf("all %d endpoints of pool %s failed: %s", len(e.Attempts), e.Pool, strings.Join(parts, "; "))
}

// Unwrap returns the last endpoint error.
func (e *PoolError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// isEndpointFailure reports whether err should move the call to the next
// endpoint. Transport failures, non-2xx answers and malformed responses
// rotate; JSON-RPC errors produced by a healthy node (reverts, bad params)
// are returned to the caller as they are.
func isEndpointFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return endpointErrorCodes[rpcErr.ErrorCode()]
	}

	return true
}
