package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

type ConfirmationState int

const (
	StateSubmitted ConfirmationState = iota
	StateConfirmingPublic
	StateConfirmingBackup
	StateConfirmed
	// StateAcceptedUnconfirmed is terminal and not an error: the network took
	// the transaction, only tracking it failed.
	StateAcceptedUnconfirmed
)

func (s ConfirmationState) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateConfirmingPublic:
		return "confirming_public"
	case StateConfirmingBackup:
		return "confirming_backup"
	case StateConfirmed:
		return "confirmed"
	case StateAcceptedUnconfirmed:
		return "accepted_unconfirmed"
	default:
		return "unknown"
	}
}

// Confirmation is the outcome of tracking one submitted transaction.
type Confirmation struct {
	Hash    common.Hash
	State   ConfirmationState
	Receipt *types.Receipt
	// Phase is 1 or 2 for confirmed transactions, 0 otherwise.
	Phase int
	// Err keeps the last tracking error for diagnostics.
	Err error
}

func (c *Confirmation) Confirmed() bool {
	return c.State == StateConfirmed
}

// WaitForConfirmation waits for the receipt of hash. The public pool gets
// ConfirmationTimeout; after that the backup-first pool polls until a
// receipt shows up, polling keeps failing, or ctx ends. It never fails the
// caller: an untracked transaction ends in StateAcceptedUnconfirmed.
func (t *Transport) WaitForConfirmation(ctx context.Context, hash common.Hash) *Confirmation {
	c := &Confirmation{Hash: hash, State: StateSubmitted}
	logger := t.logger.With(zap.Stringer("hash", hash))

	if t.public.Len() > 0 {
		c.State = StateConfirmingPublic
		receipt, err := t.confirmPublic(ctx, hash)
		if err == nil {
			c.State, c.Receipt, c.Phase = StateConfirmed, receipt, 1
			logger.Info("Transaction confirmed", zap.Int("phase", 1), zap.Uint64("block", blockOf(receipt)))
			return c
		}
		logger.Warn("Public confirmation failed, switching to backup pool", zap.Error(err))
	} else {
		logger.Debug("No public endpoints, confirming through backup")
	}

	c.State = StateConfirmingBackup
	receipt, err := t.poll(ctx, t.confirm, hash)
	if err == nil {
		c.State, c.Receipt, c.Phase = StateConfirmed, receipt, 2
		logger.Info("Transaction confirmed", zap.Int("phase", 2), zap.Uint64("block", blockOf(receipt)))
		return c
	}

	logger.Error("Could not confirm transaction, it was accepted by the network", zap.Error(err))
	c.State, c.Err = StateAcceptedUnconfirmed, err

	return c
}

// confirmPublic races the public pool receipt wait against the confirmation
// timer. Losing the race cancels the wait.
func (t *Transport) confirmPublic(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		receipt *types.Receipt
		err     error
	}
	done := make(chan result, 1)

	go func() {
		receipt, err := t.poll(waitCtx, t.public, hash)
		done <- result{receipt: receipt, err: err}
	}()

	timer := time.NewTimer(t.confirmationTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.receipt, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrConfirmationTimeout, t.confirmationTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// poll asks pool for the receipt every pollInterval. A round where the whole
// pool fails counts against maxPollFailures; a pending answer resets it.
func (t *Transport) poll(ctx context.Context, pool *Pool, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		receipt, err := t.fetchReceipt(ctx, pool, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			failures++
			if failures >= t.maxPollFailures {
				return nil, fmt.Errorf("receipt polling on pool %s failed %d times in a row: %w", pool.Name(), failures, err)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// fetchReceipt returns nil without error while the transaction is pending.
func (t *Transport) fetchReceipt(ctx context.Context, pool *Pool, hash common.Hash) (*types.Receipt, error) {
	var found *types.Receipt

	err := pool.Do(ctx, func(ctx context.Context, ep *endpoint) error {
		var receipt *types.Receipt
		if err := ep.client.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
			return err
		}
		if receipt == nil {
			return nil
		}
		if receipt.TxHash != hash {
			return fmt.Errorf("%w: got %s", ErrReceiptMismatch, receipt.TxHash)
		}
		found = receipt
		return nil
	})

	return found, err
}

func blockOf(receipt *types.Receipt) uint64 {
	if receipt.BlockNumber == nil {
		return 0
	}
	return receipt.BlockNumber.Uint64()
}
