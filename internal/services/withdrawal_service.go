package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/tron"
)

type CreateWithdrawalRequest struct {
	UserID         string
	Address        string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// WithdrawalService creates on-chain USDT withdrawals and owns their state
// transitions. A terminal transition and its ledger call commit together.
type WithdrawalService struct {
	db         *sql.DB
	ledger     *LedgerService
	compliance *ComplianceService
	settings   SettingsProvider
	audit      *audit.Logger
	logger     zerolog.Logger
}

func NewWithdrawalService(db *sql.DB, ledger *LedgerService, compliance *ComplianceService, settings SettingsProvider, auditLog *audit.Logger, logger zerolog.Logger) *WithdrawalService {
	return &WithdrawalService{
		db:         db,
		ledger:     ledger,
		compliance: compliance,
		settings:   settings,
		audit:      auditLog,
		logger:     logger,
	}
}

// Create locks amount + fee and inserts the pending withdrawal.
func (s *WithdrawalService) Create(ctx context.Context, req CreateWithdrawalRequest) (*models.UsdtWithdrawal, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !tron.IsValidAddress(req.Address) {
		return nil, fmt.Errorf("%w: invalid TRON address", ErrInvalidInput)
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(6)) {
		return nil, ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	if prior, err := s.findByIdempotencyKey(ctx, s.db, req.UserID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}

	settings := s.settings.Settings(ctx)
	if req.Amount.LessThan(settings.MinUSDTWithdrawal) {
		return nil, fmt.Errorf("%w: minimum withdrawal is %s USDT", ErrInvalidInput, settings.MinUSDTWithdrawal)
	}
	if err := s.compliance.CheckLimit(ctx, req.UserID, req.Amount, models.ClassUSDTWithdrawals); err != nil {
		return nil, err
	}

	w := &models.UsdtWithdrawal{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		DestinationAddress: req.Address,
		UsdtAmount:         req.Amount,
		Fee:                settings.USDTWithdrawalFee,
		Status:             models.WithdrawalPending,
		IdempotencyKey:     req.IdempotencyKey,
	}

	var prior *models.UsdtWithdrawal
	err := s.ledger.inTx(ctx, func(tx *sql.Tx) error {
		prior = nil
		existing, err := s.findByIdempotencyKey(ctx, tx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			prior = existing
			return nil
		}

		if _, err := s.ledger.LockFundsTx(ctx, tx, w.UserID, w.LockedAmount(), w.ID, "USDT withdrawal "+w.ID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO usdt_withdrawals (id, user_id, destination_address, usdt_amount, fee, status, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at`,
			w.ID, w.UserID, w.DestinationAddress, w.UsdtAmount.String(), w.Fee.String(), w.Status, w.IdempotencyKey,
		).Scan(&w.CreatedAt, &w.UpdatedAt)
	})
	if isUniqueViolation(err) {
		o, ferr := s.findByIdempotencyKey(ctx, s.db, req.UserID, req.IdempotencyKey)
		if ferr != nil {
			return nil, ferr
		}
		if o == nil {
			return nil, ErrOrderNotFound
		}
		return o, nil
	}
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior, nil
	}

	s.audit.Log(ctx, models.AuditEntry{
		ActorType:   audit.ActorUser,
		ActorID:     w.UserID,
		Action:      "usdt_withdrawal_requested",
		ReferenceID: w.ID,
		Metadata: map[string]any{
			"amount":  w.UsdtAmount.String(),
			"fee":     w.Fee.String(),
			"address": w.DestinationAddress,
		},
	})
	return w, nil
}

const withdrawalColumns = `id, user_id, destination_address, usdt_amount::text, fee::text, status,
		tx_hash, failure_reason, idempotency_key, created_at, updated_at`

func scanWithdrawal(row rowScanner) (*models.UsdtWithdrawal, error) {
	var w models.UsdtWithdrawal
	var amount, fee string
	var txHash sql.NullString
	err := row.Scan(&w.ID, &w.UserID, &w.DestinationAddress, &amount, &fee, &w.Status,
		&txHash, &w.FailureReason, &w.IdempotencyKey, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if w.UsdtAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse usdt_amount: %w", err)
	}
	if w.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	if txHash.Valid {
		w.TxHash = &txHash.String
	}
	return &w, nil
}

func (s *WithdrawalService) findByIdempotencyKey(ctx context.Context, q queryer, userID, key string) (*models.UsdtWithdrawal, error) {
	w, err := scanWithdrawal(q.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM usdt_withdrawals WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (s *WithdrawalService) Get(ctx context.Context, id string) (*models.UsdtWithdrawal, error) {
	w, err := scanWithdrawal(s.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM usdt_withdrawals WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return w, err
}

func (s *WithdrawalService) list(ctx context.Context, query string, args ...any) ([]models.UsdtWithdrawal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.UsdtWithdrawal{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *WithdrawalService) ListByUser(ctx context.Context, userID string, limit int) ([]models.UsdtWithdrawal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.list(ctx, `SELECT `+withdrawalColumns+` FROM usdt_withdrawals
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

// ListPending returns the oldest pending withdrawals.
func (s *WithdrawalService) ListPending(ctx context.Context, limit int) ([]models.UsdtWithdrawal, error) {
	return s.list(ctx, `SELECT `+withdrawalColumns+` FROM usdt_withdrawals
		WHERE status = 'pending' ORDER BY created_at LIMIT $1`, limit)
}

// ListProcessing returns every processing withdrawal, with or without tx hash.
func (s *WithdrawalService) ListProcessing(ctx context.Context) ([]models.UsdtWithdrawal, error) {
	return s.list(ctx, `SELECT `+withdrawalColumns+` FROM usdt_withdrawals
		WHERE status = 'processing' ORDER BY created_at`)
}

// ListUnsettled finds terminal withdrawals whose ledger lock was never closed.
func (s *WithdrawalService) ListUnsettled(ctx context.Context) ([]models.UsdtWithdrawal, error) {
	return s.list(ctx, `SELECT `+withdrawalColumns+` FROM usdt_withdrawals w
		WHERE w.status IN ('completed', 'failed')
		AND NOT EXISTS (
			SELECT 1 FROM ledger_entries e
			WHERE e.reference_id = w.id::text AND e.kind IN ('finalize', 'refund')
		)
		ORDER BY w.updated_at`)
}

// MarkProcessing moves pending to processing. False means another worker
// already claimed it.
func (s *WithdrawalService) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE usdt_withdrawals SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseClaim returns a processing withdrawal with no tx hash to pending so
// the next tick retries the broadcast.
func (s *WithdrawalService) ReleaseClaim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE usdt_withdrawals SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND tx_hash IS NULL`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *WithdrawalService) SetTxHash(ctx context.Context, id, txHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE usdt_withdrawals SET tx_hash = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id, txHash)
	return err
}

// Complete finalizes the lock and marks the withdrawal completed.
func (s *WithdrawalService) Complete(ctx context.Context, w *models.UsdtWithdrawal) (bool, error) {
	return s.settle(ctx, w, models.EntryFinalize, "")
}

// FailAndRefund refunds the lock and marks the withdrawal failed.
func (s *WithdrawalService) FailAndRefund(ctx context.Context, w *models.UsdtWithdrawal, reason string) (bool, error) {
	return s.settle(ctx, w, models.EntryRefund, reason)
}

// settle reports false when the row was already terminal. The row status
// follows whatever terminal entry the ledger holds for the withdrawal.
func (s *WithdrawalService) settle(ctx context.Context, w *models.UsdtWithdrawal, kind models.EntryKind, reason string) (bool, error) {
	var applied bool
	err := s.ledger.inTx(ctx, func(tx *sql.Tx) error {
		applied = false
		var userID, amount, fee, status string
		err := tx.QueryRowContext(ctx, `
			SELECT user_id, usdt_amount::text, fee::text, status FROM usdt_withdrawals
			WHERE id = $1 FOR UPDATE`, w.ID).Scan(&userID, &amount, &fee, &status)
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if status == models.WithdrawalCompleted || status == models.WithdrawalFailed {
			return nil
		}

		locked, err := sumDecimals(amount, fee)
		if err != nil {
			return err
		}
		var res *LedgerResult
		if kind == models.EntryFinalize {
			res, err = s.ledger.FinalizeTx(ctx, tx, userID, locked, w.ID)
		} else {
			res, err = s.ledger.FailTx(ctx, tx, userID, locked, w.ID)
		}
		if err != nil {
			return err
		}

		final := models.WithdrawalCompleted
		if res.Kind == models.EntryRefund {
			final = models.WithdrawalFailed
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE usdt_withdrawals SET status = $2, failure_reason = $3, updated_at = NOW()
			WHERE id = $1`, w.ID, final, reason); err != nil {
			return err
		}
		w.Status = final
		w.FailureReason = reason
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.audit.System(ctx, "usdt_withdrawal_"+w.Status, w.ID, map[string]any{"reason": reason})
	}
	return applied, nil
}

// Reconcile replays the ledger call for a terminal withdrawal found by
// ListUnsettled. Both ledger calls are idempotent by withdrawal id.
func (s *WithdrawalService) Reconcile(ctx context.Context, w *models.UsdtWithdrawal) (*LedgerResult, error) {
	switch w.Status {
	case models.WithdrawalCompleted:
		return s.ledger.Finalize(ctx, w.UserID, w.LockedAmount(), w.ID)
	case models.WithdrawalFailed:
		return s.ledger.Fail(ctx, w.UserID, w.LockedAmount(), w.ID)
	default:
		return nil, fmt.Errorf("%w: withdrawal %s is %s", ErrInvalidInput, w.ID, w.Status)
	}
}

func sumDecimals(values ...string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse amount %q: %w", v, err)
		}
		total = total.Add(d)
	}
	return total, nil
}
