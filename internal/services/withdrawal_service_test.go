package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/models"
)

var withdrawalCols = []string{"id", "user_id", "destination_address", "usdt_amount", "fee", "status",
	"tx_hash", "failure_reason", "idempotency_key", "created_at", "updated_at"}

const (
	withdrawalByKeyQuery = `FROM usdt_withdrawals WHERE user_id = \$1 AND idempotency_key = \$2`
	lockWithdrawalQuery  = `FROM usdt_withdrawals\s+WHERE id = \$1 FOR UPDATE`
	settleWithdrawalExec = `UPDATE usdt_withdrawals SET status = \$2, failure_reason = \$3`
)

func newTestWithdrawals(t *testing.T, settings staticSettings) (*WithdrawalService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.New(io.Discard)
	ledger := NewLedgerService(db, logger, nil)
	return NewWithdrawalService(db, ledger, NewComplianceService(db, settings, logger), settings,
		audit.NewLogger(nil, logger), logger), mock
}

func processingWithdrawal() *models.UsdtWithdrawal {
	hash := "tx-1"
	return &models.UsdtWithdrawal{
		ID: "w-1", UserID: "user-1", DestinationAddress: testDepositAddress,
		UsdtAmount: d("50"), Fee: d("5"), Status: models.WithdrawalProcessing, TxHash: &hash,
	}
}

func TestWithdrawalService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("locks amount plus fee", func(t *testing.T) {
		svc, mock := newTestWithdrawals(t, defaultTestSettings())

		mock.ExpectQuery(withdrawalByKeyQuery).WithArgs("user-1", "key-1").WillReturnRows(sqlmock.NewRows(withdrawalCols))
		mock.ExpectQuery(`SUM\(usdt_amount\), 0\)::text FROM usdt_withdrawals`).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("0"))
		mock.ExpectBegin()
		mock.ExpectQuery(withdrawalByKeyQuery).WillReturnRows(sqlmock.NewRows(withdrawalCols))
		expectAccount(mock, "user-1", "100", "0", "0", 1)
		mock.ExpectQuery(findEntryQuery).WithArgs("lock", sqlmock.AnyArg()).WillReturnRows(sqlmock.NewRows(entryCols))
		expectUpdate(mock, "user-1", "45", "55", "0", 1)
		mock.ExpectExec(insertEntryQuery).
			WithArgs(sqlmock.AnyArg(), "user-1", "lock", "55", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery(`INSERT INTO usdt_withdrawals`).
			WithArgs(sqlmock.AnyArg(), "user-1", testDepositAddress, "50", "5", "pending", "key-1").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
		mock.ExpectCommit()

		w, err := svc.Create(ctx, CreateWithdrawalRequest{
			UserID: "user-1", Address: testDepositAddress, Amount: d("50"), IdempotencyKey: "key-1",
		})
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalPending, w.Status)
		assert.True(t, w.LockedAmount().Equal(d("55")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retry returns the original withdrawal", func(t *testing.T) {
		svc, mock := newTestWithdrawals(t, defaultTestSettings())
		now := time.Now()
		mock.ExpectQuery(withdrawalByKeyQuery).WillReturnRows(sqlmock.NewRows(withdrawalCols).
			AddRow("w-1", "user-1", testDepositAddress, "50.000000", "5.000000", "pending", nil, "", "key-1", now, now))

		w, err := svc.Create(ctx, CreateWithdrawalRequest{
			UserID: "user-1", Address: testDepositAddress, Amount: d("50"), IdempotencyKey: "key-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "w-1", w.ID)
		assert.Nil(t, w.TxHash)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("below minimum", func(t *testing.T) {
		svc, mock := newTestWithdrawals(t, defaultTestSettings())
		mock.ExpectQuery(withdrawalByKeyQuery).WillReturnRows(sqlmock.NewRows(withdrawalCols))

		_, err := svc.Create(ctx, CreateWithdrawalRequest{UserID: "user-1", Address: testDepositAddress, Amount: d("19.99")})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid address", func(t *testing.T) {
		svc, mock := newTestWithdrawals(t, defaultTestSettings())
		_, err := svc.Create(ctx, CreateWithdrawalRequest{UserID: "user-1", Address: "0xabc", Amount: d("50")})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paused", func(t *testing.T) {
		settings := defaultTestSettings()
		settings.Paused[models.ClassUSDTWithdrawals] = true
		svc, mock := newTestWithdrawals(t, settings)
		mock.ExpectQuery(withdrawalByKeyQuery).WillReturnRows(sqlmock.NewRows(withdrawalCols))

		_, err := svc.Create(ctx, CreateWithdrawalRequest{UserID: "user-1", Address: testDepositAddress, Amount: d("50")})
		assert.ErrorIs(t, err, ErrPaused)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("finalizes the lock", func(t *testing.T) {
		svc, mock := newTestWithdrawals(t, defaultTestSettings())
		mock.ExpectBegin()
		mock.ExpectQuery(lockWithdrawalQuery).WithArgs("w-1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "usdt_amount", "fee", "status"}).
				AddRow("user-1", "50.000000", "5.000000", "processing"))
		expectAccount(mock, "user-1", "45", "55", "0", 2)
		expectNoTerminal(mock, "w-1")
		expectEntry(mock, models.EntryLock, "user-1", "55", "w-1")
		expectUpdate(mock, "user-1", "45", "0", "55", 2)
		expectInsertEntry(mock, "user-1", models.EntryFinalize, "55", "w-1")
		mock.ExpectExec(settleWithdrawalExec).WithArgs("w-1", "completed", "").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := processingWithdrawal()
		applied, err := svc.Complete(ctx, w)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, models.WithdrawalCompleted, w.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal row is a no-op", func(t *testing.T) {
		svc, mock := newTestWithdrawals(t, defaultTestSettings())
		mock.ExpectBegin()
		mock.ExpectQuery(lockWithdrawalQuery).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "usdt_amount", "fee", "status"}).
				AddRow("user-1", "50", "5", "failed"))
		mock.ExpectCommit()

		applied, err := svc.Complete(ctx, processingWithdrawal())
		require.NoError(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row follows an existing refund", func(t *testing.T) {
		svc, mock := newTestWithdrawals(t, defaultTestSettings())
		mock.ExpectBegin()
		mock.ExpectQuery(lockWithdrawalQuery).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "usdt_amount", "fee", "status"}).
				AddRow("user-1", "50", "5", "processing"))
		expectAccount(mock, "user-1", "100", "0", "0", 3)
		mock.ExpectQuery(findTerminalQuery).WithArgs("w-1").
			WillReturnRows(sqlmock.NewRows(entryCols).AddRow("e-9", "user-1", "refund", "55", "w-1"))
		mock.ExpectExec(settleWithdrawalExec).WithArgs("w-1", "failed", "").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := processingWithdrawal()
		applied, err := svc.Complete(ctx, w)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, models.WithdrawalFailed, w.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_FailAndRefund(t *testing.T) {
	svc, mock := newTestWithdrawals(t, defaultTestSettings())
	mock.ExpectBegin()
	mock.ExpectQuery(lockWithdrawalQuery).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "usdt_amount", "fee", "status"}).
			AddRow("user-1", "50", "5", "processing"))
	expectAccount(mock, "user-1", "45", "55", "0", 2)
	expectNoTerminal(mock, "w-1")
	expectEntry(mock, models.EntryLock, "user-1", "55", "w-1")
	expectUpdate(mock, "user-1", "100", "0", "0", 2)
	expectInsertEntry(mock, "user-1", models.EntryRefund, "55", "w-1")
	mock.ExpectExec(settleWithdrawalExec).WithArgs("w-1", "failed", "Broadcast failed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := svc.FailAndRefund(context.Background(), processingWithdrawal(), "Broadcast failed")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalService_MarkProcessing(t *testing.T) {
	svc, mock := newTestWithdrawals(t, defaultTestSettings())
	mock.ExpectExec(`SET status = 'processing'`).WithArgs("w-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'processing'`).WithArgs("w-1").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := svc.MarkProcessing(context.Background(), "w-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.MarkProcessing(context.Background(), "w-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalService_ReleaseClaim(t *testing.T) {
	svc, mock := newTestWithdrawals(t, defaultTestSettings())
	mock.ExpectExec(`SET status = 'pending'.*status = 'processing' AND tx_hash IS NULL`).
		WithArgs("w-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'pending'`).WithArgs("w-1").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := svc.ReleaseClaim(context.Background(), "w-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// a row that already carries a hash is not released
	ok, err = svc.ReleaseClaim(context.Background(), "w-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalService_Reconcile(t *testing.T) {
	svc, mock := newTestWithdrawals(t, defaultTestSettings())
	w := processingWithdrawal()
	w.Status = models.WithdrawalCompleted

	mock.ExpectBegin()
	expectAccount(mock, "user-1", "45", "55", "0", 2)
	expectNoTerminal(mock, "w-1")
	expectEntry(mock, models.EntryLock, "user-1", "55", "w-1")
	expectUpdate(mock, "user-1", "45", "0", "55", 2)
	expectInsertEntry(mock, "user-1", models.EntryFinalize, "55", "w-1")
	mock.ExpectCommit()

	res, err := svc.Reconcile(context.Background(), w)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, models.EntryFinalize, res.Kind)

	w.Status = models.WithdrawalPending
	_, err = svc.Reconcile(context.Background(), w)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}
