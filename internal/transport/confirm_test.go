package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmedByPublicPool(t *testing.T) {
	public := newFakeNode(t, testChainID)
	backup := newFakeNode(t, testChainID)
	hash := common.HexToHash("0x01")
	public.AddReceipt(testReceipt(hash))

	tr := newTestTransport(t, Config{
		Endpoints:    []string{public.URL()},
		Backup:       backup.URL(),
		PollInterval: 10 * time.Millisecond,
	})

	c := tr.WaitForConfirmation(context.Background(), hash)

	require.True(t, c.Confirmed())
	assert.Equal(t, 1, c.Phase)
	assert.Equal(t, hash, c.Receipt.TxHash)
	assert.NoError(t, c.Err)
	assert.Equal(t, 0, backup.Calls("eth_getTransactionReceipt"))
}

func TestConfirmedByBackupAfterTimeout(t *testing.T) {
	public := newFakeNode(t, testChainID)
	backup := newFakeNode(t, testChainID)
	hash := common.HexToHash("0x02")
	backup.AddReceipt(testReceipt(hash))

	tr := newTestTransport(t, Config{
		Endpoints:           []string{public.URL()},
		Backup:              backup.URL(),
		ConfirmationTimeout: 50 * time.Millisecond,
		PollInterval:        10 * time.Millisecond,
	})

	c := tr.WaitForConfirmation(context.Background(), hash)

	require.True(t, c.Confirmed())
	assert.Equal(t, 2, c.Phase)
	assert.Equal(t, StateConfirmed, c.State)
	assert.Positive(t, public.Calls("eth_getTransactionReceipt"), "public pool polls first")
	assert.Positive(t, backup.Calls("eth_getTransactionReceipt"))
}

func TestPublicFailuresEscalateBeforeTimeout(t *testing.T) {
	public := newFakeNode(t, testChainID)
	backup := newFakeNode(t, testChainID)
	public.down.Store(true)
	hash := common.HexToHash("0x03")
	backup.AddReceipt(testReceipt(hash))

	tr := newTestTransport(t, Config{
		Endpoints:           []string{public.URL()},
		Backup:              backup.URL(),
		ConfirmationTimeout: 10 * time.Second,
		PollInterval:        10 * time.Millisecond,
		MaxPollFailures:     2,
	})

	start := time.Now()
	c := tr.WaitForConfirmation(context.Background(), hash)

	require.True(t, c.Confirmed())
	assert.Equal(t, 2, c.Phase)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 2, public.Calls("eth_getTransactionReceipt"))
}

func TestUntrackableTransactionIsAccepted(t *testing.T) {
	public := newFakeNode(t, testChainID)
	backup := newFakeNode(t, testChainID)
	public.down.Store(true)
	backup.down.Store(true)

	tr := newTestTransport(t, Config{
		Endpoints:           []string{public.URL()},
		Backup:              backup.URL(),
		ConfirmationTimeout: 10 * time.Second,
		PollInterval:        10 * time.Millisecond,
		MaxPollFailures:     2,
	})

	c := tr.WaitForConfirmation(context.Background(), common.HexToHash("0x04"))

	assert.False(t, c.Confirmed())
	assert.Equal(t, StateAcceptedUnconfirmed, c.State)
	assert.Equal(t, 0, c.Phase)
	assert.Nil(t, c.Receipt)

	var poolErr *PoolError
	require.ErrorAs(t, c.Err, &poolErr)
	assert.Equal(t, "confirm", poolErr.Pool)
}

func TestPendingTransactionEndsWithContext(t *testing.T) {
	public := newFakeNode(t, testChainID)
	backup := newFakeNode(t, testChainID)

	tr := newTestTransport(t, Config{
		Endpoints:           []string{public.URL()},
		Backup:              backup.URL(),
		ConfirmationTimeout: 30 * time.Millisecond,
		PollInterval:        10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	c := tr.WaitForConfirmation(ctx, common.HexToHash("0x05"))

	assert.Equal(t, StateAcceptedUnconfirmed, c.State)
	assert.ErrorIs(t, c.Err, context.DeadlineExceeded)
	assert.Positive(t, backup.Calls("eth_getTransactionReceipt"))
}

func TestMismatchedReceiptRotates(t *testing.T) {
	a := newFakeNode(t, testChainID)
	b := newFakeNode(t, testChainID)
	hash := common.HexToHash("0x06")
	a.addReceiptAs(hash, testReceipt(common.HexToHash("0xdead")))
	b.AddReceipt(testReceipt(hash))

	tr := newTestTransport(t, Config{
		Endpoints:    []string{a.URL(), b.URL()},
		PollInterval: 10 * time.Millisecond,
	})

	c := tr.WaitForConfirmation(context.Background(), hash)

	require.True(t, c.Confirmed())
	assert.Equal(t, 1, c.Phase)
	assert.Equal(t, hash, c.Receipt.TxHash)

	status := tr.Status()
	assert.Equal(t, 1, status[0].Failures)
	assert.Contains(t, status[0].LastError, ErrReceiptMismatch.Error())
}

func TestSubmitAndConfirm(t *testing.T) {
	node := newFakeNode(t, testChainID)
	tx := signedTx(t)
	node.AddReceipt(testReceipt(tx.Hash()))

	tr := newTestTransport(t, Config{
		Endpoints:    []string{node.URL()},
		PollInterval: 10 * time.Millisecond,
	})

	c, err := tr.SubmitAndConfirm(context.Background(), tx)
	require.NoError(t, err)
	require.True(t, c.Confirmed())
	assert.Equal(t, tx.Hash(), c.Hash)
	assert.Equal(t, uint64(42), blockOf(c.Receipt))
}

func TestSubmitFailureIsReturned(t *testing.T) {
	node := newFakeNode(t, testChainID)
	node.down.Store(true)

	tr := newTestTransport(t, Config{Endpoints: []string{node.URL()}})

	c, err := tr.SubmitAndConfirm(context.Background(), signedTx(t))
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Equal(t, 0, node.Calls("eth_getTransactionReceipt"))
}

func TestConfirmationStateString(t *testing.T) {
	assert.Equal(t, "accepted_unconfirmed", StateAcceptedUnconfirmed.String())
	assert.Equal(t, "confirming_backup", StateConfirmingBackup.String())
	assert.Equal(t, "unknown", ConfirmationState(99).String())
}

func TestPublicPhaseTimesOut(t *testing.T) {
	public := newFakeNode(t, testChainID)
	tr := newTestTransport(t, Config{
		Endpoints:           []string{public.URL()},
		ConfirmationTimeout: 30 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
	})

	_, err := tr.confirmPublic(context.Background(), common.HexToHash("0x0a"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfirmationTimeout))
	assert.Positive(t, public.Calls("eth_getTransactionReceipt"))
}
