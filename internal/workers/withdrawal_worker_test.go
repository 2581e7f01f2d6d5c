package workers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/tron"
)

const (
	hotWalletKey = "hot-wallet-key"
	payeeAddr    = "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf"
)

type withdrawalFixture struct {
	ledger *memLedger
	store  *memWithdrawals
	chain  *MockChain
	worker *WithdrawalWorker
}

func newWithdrawalFixture(t *testing.T, funded string) *withdrawalFixture {
	t.Helper()
	ledger := newMemLedger()
	_, err := ledger.CreditDeposit(context.Background(), "user-1", d(funded), "seed", "")
	require.NoError(t, err)

	store := newMemWithdrawals(ledger)
	chain := new(MockChain)
	return &withdrawalFixture{
		ledger: ledger,
		store:  store,
		chain:  chain,
		worker: NewWithdrawalWorker(store, chain, hotWalletKey, 5, testLogger(), nil),
	}
}

func TestWithdrawalWorker_BroadcastFailureRefunds(t *testing.T) {
	f := newWithdrawalFixture(t, "100")
	wd, err := f.store.create("user-1", payeeAddr, "10", "1")
	require.NoError(t, err)

	b := f.ledger.Balance("user-1")
	require.True(t, b.available.Equal(d("89")))
	require.True(t, b.locked.Equal(d("11")))

	f.chain.On("BroadcastTransfer", mock.Anything, hotWalletKey, payeeAddr, amountEq("10")).Return("", tron.ErrBroadcastRejected)

	require.NoError(t, f.worker.Tick(context.Background()))

	got := f.store.get(wd.ID)
	assert.Equal(t, models.WithdrawalFailed, got.Status)
	assert.Equal(t, "Broadcast failed", got.FailureReason)

	b = f.ledger.Balance("user-1")
	assert.True(t, b.available.Equal(d("100")))
	assert.True(t, b.locked.IsZero())
	assert.True(t, b.settled.IsZero())
}

func TestWithdrawalWorker_NodeUnavailableRetriesLater(t *testing.T) {
	f := newWithdrawalFixture(t, "100")
	wd, err := f.store.create("user-1", payeeAddr, "10", "1")
	require.NoError(t, err)

	f.chain.On("BroadcastTransfer", mock.Anything, hotWalletKey, payeeAddr, amountEq("10")).
		Return("", tron.ErrUnavailable).Once()
	require.NoError(t, f.worker.Tick(context.Background()))

	got := f.store.get(wd.ID)
	assert.Equal(t, models.WithdrawalPending, got.Status)
	assert.Empty(t, got.FailureReason)
	b := f.ledger.Balance("user-1")
	assert.True(t, b.locked.Equal(d("11")), "funds stay locked")
	assert.Equal(t, 0, f.ledger.Count(models.EntryRefund))

	f.chain.On("BroadcastTransfer", mock.Anything, hotWalletKey, payeeAddr, amountEq("10")).
		Return("tx-retry", nil).Once()
	f.chain.On("GetConfirmationStatus", mock.Anything, "tx-retry").Return(tron.StatusPending, nil)
	require.NoError(t, f.worker.Tick(context.Background()))

	got = f.store.get(wd.ID)
	assert.Equal(t, models.WithdrawalProcessing, got.Status)
	require.NotNil(t, got.TxHash)
	assert.Equal(t, "tx-retry", *got.TxHash)
}

func TestWithdrawalWorker_BroadcastThenConfirm(t *testing.T) {
	f := newWithdrawalFixture(t, "100")
	wd, err := f.store.create("user-1", payeeAddr, "10", "1")
	require.NoError(t, err)

	f.chain.On("BroadcastTransfer", mock.Anything, hotWalletKey, payeeAddr, amountEq("10")).Return("txabc", nil).Once()
	statusCall := f.chain.On("GetConfirmationStatus", mock.Anything, "txabc").Return(tron.StatusPending, nil)

	// the same tick confirms what it just broadcast
	require.NoError(t, f.worker.Tick(context.Background()))
	got := f.store.get(wd.ID)
	assert.Equal(t, models.WithdrawalProcessing, got.Status)
	require.NotNil(t, got.TxHash)
	assert.Equal(t, "txabc", *got.TxHash)
	assert.True(t, f.ledger.Balance("user-1").locked.Equal(d("11")))

	statusCall.Unset()
	f.chain.On("GetConfirmationStatus", mock.Anything, "txabc").Return(tron.StatusConfirmed, nil)

	require.NoError(t, f.worker.Tick(context.Background()))
	got = f.store.get(wd.ID)
	assert.Equal(t, models.WithdrawalCompleted, got.Status)

	b := f.ledger.Balance("user-1")
	assert.True(t, b.available.Equal(d("89")))
	assert.True(t, b.locked.IsZero())
	assert.True(t, b.settled.Equal(d("11")))
	f.chain.AssertNumberOfCalls(t, "BroadcastTransfer", 1)
}

func TestWithdrawalWorker_ChainFailureRefunds(t *testing.T) {
	f := newWithdrawalFixture(t, "50")
	wd, err := f.store.create("user-1", payeeAddr, "20", "1")
	require.NoError(t, err)
	_, _ = f.store.MarkProcessing(context.Background(), wd.ID)
	require.NoError(t, f.store.SetTxHash(context.Background(), wd.ID, "txbad"))

	f.chain.On("GetConfirmationStatus", mock.Anything, "txbad").Return(tron.StatusFailed, nil)

	require.NoError(t, f.worker.Tick(context.Background()))
	got := f.store.get(wd.ID)
	assert.Equal(t, models.WithdrawalFailed, got.Status)
	assert.Equal(t, "Chain failure", got.FailureReason)
	assert.True(t, f.ledger.Balance("user-1").available.Equal(d("50")))
}

func TestWithdrawalWorker_AmbiguousBroadcastKeepsTxHash(t *testing.T) {
	f := newWithdrawalFixture(t, "50")
	wd, err := f.store.create("user-1", payeeAddr, "20", "1")
	require.NoError(t, err)

	f.chain.On("BroadcastTransfer", mock.Anything, hotWalletKey, payeeAddr, mock.Anything).Return("txmaybe", errors.New("timeout reading reply"))
	f.chain.On("GetConfirmationStatus", mock.Anything, "txmaybe").Return(tron.StatusPending, nil)

	require.NoError(t, f.worker.Tick(context.Background()))
	got := f.store.get(wd.ID)
	assert.Equal(t, models.WithdrawalProcessing, got.Status)
	require.NotNil(t, got.TxHash)
	assert.Equal(t, "txmaybe", *got.TxHash)
}

func TestWithdrawalWorker_ProcessingWithoutHashIsLeftAlone(t *testing.T) {
	f := newWithdrawalFixture(t, "50")
	wd, err := f.store.create("user-1", payeeAddr, "20", "1")
	require.NoError(t, err)
	_, _ = f.store.MarkProcessing(context.Background(), wd.ID)

	require.NoError(t, f.worker.Tick(context.Background()))

	assert.Equal(t, models.WithdrawalProcessing, f.store.get(wd.ID).Status)
	f.chain.AssertNotCalled(t, "GetConfirmationStatus", mock.Anything, mock.Anything)
	f.chain.AssertNotCalled(t, "BroadcastTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWithdrawalWorker_ConfirmationErrorLeavesRow(t *testing.T) {
	f := newWithdrawalFixture(t, "50")
	wd, err := f.store.create("user-1", payeeAddr, "20", "1")
	require.NoError(t, err)
	_, _ = f.store.MarkProcessing(context.Background(), wd.ID)
	require.NoError(t, f.store.SetTxHash(context.Background(), wd.ID, "tx1"))

	f.chain.On("GetConfirmationStatus", mock.Anything, "tx1").Return(tron.ConfirmationStatus(""), tron.ErrUnavailable)

	require.NoError(t, f.worker.Tick(context.Background()))
	assert.Equal(t, models.WithdrawalProcessing, f.store.get(wd.ID).Status)
	assert.True(t, f.ledger.Balance("user-1").locked.Equal(d("21")))
}

func TestWithdrawalWorker_BatchLimit(t *testing.T) {
	f := newWithdrawalFixture(t, "100")
	f.worker = NewWithdrawalWorker(f.store, f.chain, hotWalletKey, 2, testLogger(), nil)
	for i := 0; i < 3; i++ {
		_, err := f.store.create("user-1", payeeAddr, "10", "0")
		require.NoError(t, err)
	}
	f.chain.On("BroadcastTransfer", mock.Anything, hotWalletKey, payeeAddr, mock.Anything).Return("", tron.ErrBroadcastRejected)

	require.NoError(t, f.worker.Tick(context.Background()))
	pending, _ := f.store.ListPending(context.Background(), 0)
	assert.Len(t, pending, 1)
}

func TestWithdrawalWorker_TerminalTransitionHappensOnce(t *testing.T) {
	f := newWithdrawalFixture(t, "100")
	wd, err := f.store.create("user-1", payeeAddr, "40", "1")
	require.NoError(t, err)
	_, _ = f.store.MarkProcessing(context.Background(), wd.ID)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok, _ = f.store.Complete(context.Background(), wd)
			} else {
				ok, _ = f.store.FailAndRefund(context.Background(), wd, "Chain failure")
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.ledger.Count(models.EntryFinalize)+f.ledger.Count(models.EntryRefund))
	assert.True(t, f.ledger.Total("user-1").Equal(d("100")), "funds are conserved")
	assert.True(t, f.ledger.Balance("user-1").locked.IsZero())
}
