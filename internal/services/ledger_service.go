package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/observability"
)

const maxTxAttempts = 3

// LedgerResult describes the outcome of a ledger movement. Applied is false when
// the reference was already processed and nothing changed.
type LedgerResult struct {
	Applied bool
	Kind    models.EntryKind
	Amount  decimal.Decimal
}

type account struct {
	available decimal.Decimal
	locked    decimal.Decimal
	settled   decimal.Decimal
	version   int
}

// LedgerService owns every balance mutation. Each operation runs in one
// transaction holding the account row lock and is idempotent by reference id.
type LedgerService struct {
	db      *sql.DB
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewLedgerService(db *sql.DB, logger zerolog.Logger, metrics *observability.Metrics) *LedgerService {
	return &LedgerService{db: db, logger: logger, metrics: metrics}
}

// EnsureAccount creates a zeroed account row if missing.
func (s *LedgerService) EnsureAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, ensureAccountSQL, userID)
	return err
}

const ensureAccountSQL = `
		INSERT INTO ledger_accounts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`

// CreditDeposit credits an on-chain deposit keyed by its transaction hash.
func (s *LedgerService) CreditDeposit(ctx context.Context, userID string, amount decimal.Decimal, txHash, description string) (*LedgerResult, error) {
	return s.credit(ctx, models.EntryDeposit, userID, amount, txHash, description)
}

// ManualCredit is the admin credit path.
func (s *LedgerService) ManualCredit(ctx context.Context, userID string, amount decimal.Decimal, referenceID, description string) (*LedgerResult, error) {
	return s.credit(ctx, models.EntryManualCredit, userID, amount, referenceID, description)
}

func (s *LedgerService) credit(ctx context.Context, kind models.EntryKind, userID string, amount decimal.Decimal, ref, description string) (*LedgerResult, error) {
	if err := validateMovement(userID, amount, ref); err != nil {
		return nil, err
	}

	var result *LedgerResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ensureAccountSQL, userID); err != nil {
			return fmt.Errorf("ensure account: %w", err)
		}

		acct, err := s.lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}

		existing, err := s.findEntry(ctx, tx, kind, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.UserID != userID {
				return ErrReferenceConflict
			}
			result = &LedgerResult{Applied: false, Kind: kind, Amount: existing.Amount}
			return nil
		}

		acct.available = acct.available.Add(amount)
		if err := s.updateAccount(ctx, tx, userID, acct); err != nil {
			return err
		}
		if err := s.createLedgerEntry(ctx, tx, userID, kind, amount, ref, description); err != nil {
			return err
		}
		result = &LedgerResult{Applied: true, Kind: kind, Amount: amount}
		return nil
	})
	if isUniqueViolation(err) {
		// lost a race with a concurrent credit of the same reference
		s.metrics.LedgerOp(string(kind), "duplicate")
		return s.creditOutcome(ctx, kind, userID, ref)
	}
	if err != nil {
		s.metrics.LedgerOp(string(kind), outcome(err))
		return nil, err
	}

	s.recordResult(string(kind), result)
	if result.Applied {
		s.logger.Info().Str("user_id", userID).Str("kind", string(kind)).Str("amount", amount.String()).
			Str("reference_id", ref).Msg("credited")
	}
	return result, nil
}

// LockFunds moves amount from available to locked under ref.
func (s *LedgerService) LockFunds(ctx context.Context, userID string, amount decimal.Decimal, ref, description string) (*LedgerResult, error) {
	var result *LedgerResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = s.LockFundsTx(ctx, tx, userID, amount, ref, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LockFundsTx is LockFunds inside a caller-owned transaction.
func (s *LedgerService) LockFundsTx(ctx context.Context, tx *sql.Tx, userID string, amount decimal.Decimal, ref, description string) (*LedgerResult, error) {
	if err := validateMovement(userID, amount, ref); err != nil {
		return nil, err
	}

	acct, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		s.metrics.LedgerOp("lock", outcome(err))
		return nil, err
	}

	existing, err := s.findEntry(ctx, tx, models.EntryLock, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.UserID != userID || !existing.Amount.Equal(amount) {
			s.metrics.LedgerOp("lock", "rejected")
			return nil, ErrReferenceConflict
		}
		s.metrics.LedgerOp("lock", "duplicate")
		return &LedgerResult{Applied: false, Kind: models.EntryLock, Amount: existing.Amount}, nil
	}

	if acct.available.LessThan(amount) {
		s.metrics.LedgerOp("lock", "rejected")
		return nil, ErrInsufficientFunds
	}

	acct.available = acct.available.Sub(amount)
	acct.locked = acct.locked.Add(amount)
	if err := s.updateAccount(ctx, tx, userID, acct); err != nil {
		return nil, err
	}
	if err := s.createLedgerEntry(ctx, tx, userID, models.EntryLock, amount, ref, description); err != nil {
		return nil, err
	}

	s.metrics.LedgerOp("lock", "applied")
	return &LedgerResult{Applied: true, Kind: models.EntryLock, Amount: amount}, nil
}

// Finalize settles a lock: locked -> settled. Once per reference.
func (s *LedgerService) Finalize(ctx context.Context, userID string, amount decimal.Decimal, ref string) (*LedgerResult, error) {
	return s.closeLock(ctx, models.EntryFinalize, userID, amount, ref)
}

// Fail refunds a lock: locked -> available. Once per reference, and never after Finalize.
func (s *LedgerService) Fail(ctx context.Context, userID string, amount decimal.Decimal, ref string) (*LedgerResult, error) {
	return s.closeLock(ctx, models.EntryRefund, userID, amount, ref)
}

func (s *LedgerService) FinalizeTx(ctx context.Context, tx *sql.Tx, userID string, amount decimal.Decimal, ref string) (*LedgerResult, error) {
	return s.closeLockTx(ctx, tx, models.EntryFinalize, userID, amount, ref)
}

func (s *LedgerService) FailTx(ctx context.Context, tx *sql.Tx, userID string, amount decimal.Decimal, ref string) (*LedgerResult, error) {
	return s.closeLockTx(ctx, tx, models.EntryRefund, userID, amount, ref)
}

func (s *LedgerService) closeLock(ctx context.Context, kind models.EntryKind, userID string, amount decimal.Decimal, ref string) (*LedgerResult, error) {
	var result *LedgerResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = s.closeLockTx(ctx, tx, kind, userID, amount, ref)
		return err
	})
	if isUniqueViolation(err) {
		// a concurrent finalize/fail won; report its outcome
		return s.terminalOutcome(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LedgerService) closeLockTx(ctx context.Context, tx *sql.Tx, kind models.EntryKind, userID string, amount decimal.Decimal, ref string) (*LedgerResult, error) {
	op := string(kind)
	if err := validateMovement(userID, amount, ref); err != nil {
		return nil, err
	}

	acct, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		s.metrics.LedgerOp(op, outcome(err))
		return nil, err
	}

	terminal, err := s.findTerminalEntry(ctx, tx, ref)
	if err != nil {
		return nil, err
	}
	if terminal != nil {
		s.metrics.LedgerOp(op, "duplicate")
		return &LedgerResult{Applied: false, Kind: terminal.Kind, Amount: terminal.Amount}, nil
	}

	lock, err := s.findEntry(ctx, tx, models.EntryLock, ref)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		s.metrics.LedgerOp(op, "rejected")
		return nil, ErrLockNotFound
	}
	if lock.UserID != userID || !lock.Amount.Equal(amount) {
		s.metrics.LedgerOp(op, "rejected")
		return nil, fmt.Errorf("%w: %s amount %s does not match lock %s", ErrInvalidInput, op, amount, lock.Amount)
	}
	if acct.locked.LessThan(amount) {
		return nil, fmt.Errorf("locked balance %s below lock %s for %s", acct.locked, amount, ref)
	}

	acct.locked = acct.locked.Sub(amount)
	if kind == models.EntryFinalize {
		acct.settled = acct.settled.Add(amount)
	} else {
		acct.available = acct.available.Add(amount)
	}
	if err := s.updateAccount(ctx, tx, userID, acct); err != nil {
		return nil, err
	}
	if err := s.createLedgerEntry(ctx, tx, userID, kind, amount, ref, ""); err != nil {
		return nil, err
	}

	s.metrics.LedgerOp(op, "applied")
	s.logger.Info().Str("user_id", userID).Str("kind", op).Str("amount", amount.String()).
		Str("reference_id", ref).Msg("lock closed")
	return &LedgerResult{Applied: true, Kind: kind, Amount: amount}, nil
}

// TerminalKind returns the finalize/refund kind recorded for ref, or "" if none.
func (s *LedgerService) TerminalKind(ctx context.Context, ref string) (models.EntryKind, error) {
	res, err := s.terminalOutcome(ctx, ref)
	if errors.Is(err, ErrLockNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return res.Kind, nil
}

// creditOutcome reports the stored credit for ref after a concurrent insert won.
func (s *LedgerService) creditOutcome(ctx context.Context, kind models.EntryKind, userID, ref string) (*LedgerResult, error) {
	var owner, amount string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, amount::text FROM ledger_entries
		WHERE kind = $1 AND reference_id = $2`, string(kind), ref).Scan(&owner, &amount)
	if err != nil {
		return nil, fmt.Errorf("read winning %s entry: %w", kind, err)
	}
	if owner != userID {
		return nil, ErrReferenceConflict
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &LedgerResult{Applied: false, Kind: kind, Amount: amt}, nil
}

func (s *LedgerService) terminalOutcome(ctx context.Context, ref string) (*LedgerResult, error) {
	var kind, amount string
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, amount::text FROM ledger_entries
		WHERE reference_id = $1 AND kind IN ('finalize', 'refund')`, ref).Scan(&kind, &amount)
	if err == sql.ErrNoRows {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, err
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &LedgerResult{Applied: false, Kind: models.EntryKind(kind), Amount: amt}, nil
}

// GetBalance returns the account row together with a replay check of the entry
// log. An unknown account reads as zero. A failed replay reports inconsistent.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	var available, locked, settled string
	err := s.db.QueryRowContext(ctx, `
		SELECT available_balance::text, locked_balance::text, settled_balance::text
		FROM ledger_accounts WHERE user_id = $1`, userID).Scan(&available, &locked, &settled)
	if err == sql.ErrNoRows {
		return &models.Balance{IsConsistent: true}, nil
	}
	if err != nil {
		return nil, err
	}

	bal := &models.Balance{}
	if bal.Available, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("parse available: %w", err)
	}
	if bal.Locked, err = decimal.NewFromString(locked); err != nil {
		return nil, fmt.Errorf("parse locked: %w", err)
	}
	if bal.Settled, err = decimal.NewFromString(settled); err != nil {
		return nil, fmt.Errorf("parse settled: %w", err)
	}

	sums, err := s.entrySums(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("balance replay failed")
		return bal, nil
	}
	ra, rl, rs := models.ReplayBalance(sums)
	bal.IsConsistent = ra.Equal(bal.Available) && rl.Equal(bal.Locked) && rs.Equal(bal.Settled)
	if !bal.IsConsistent {
		s.logger.Warn().Str("user_id", userID).
			Str("available", bal.Available.String()).Str("replay_available", ra.String()).
			Str("locked", bal.Locked.String()).Str("replay_locked", rl.String()).
			Msg("balance does not match entry log")
	}
	return bal, nil
}

func (s *LedgerService) entrySums(ctx context.Context, userID string) (map[models.EntryKind]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COALESCE(SUM(amount), 0)::text
		FROM ledger_entries WHERE user_id = $1
		GROUP BY kind`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[models.EntryKind]decimal.Decimal)
	for rows.Next() {
		var kind, total string
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(total)
		if err != nil {
			return nil, err
		}
		sums[models.EntryKind(kind)] = d
	}
	return sums, rows.Err()
}

// History returns the newest entries first.
func (s *LedgerService) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount::text, reference_id, description, created_at
		FROM ledger_entries WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		var kind, amount string
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &amount, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = models.EntryKind(kind)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// inTx runs fn in a transaction, retrying transient storage failures.
func (s *LedgerService) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = runInTx(ctx, s.db, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying ledger transaction")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return err
}

func runInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, userID string) (*account, error) {
	var available, locked, settled string
	var acct account
	err := tx.QueryRowContext(ctx, `
		SELECT available_balance::text, locked_balance::text, settled_balance::text, version
		FROM ledger_accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&available, &locked, &settled, &acct.version)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	if acct.available, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("parse available: %w", err)
	}
	if acct.locked, err = decimal.NewFromString(locked); err != nil {
		return nil, fmt.Errorf("parse locked: %w", err)
	}
	if acct.settled, err = decimal.NewFromString(settled); err != nil {
		return nil, fmt.Errorf("parse settled: %w", err)
	}
	return &acct, nil
}

func (s *LedgerService) findEntry(ctx context.Context, tx *sql.Tx, kind models.EntryKind, ref string) (*models.LedgerEntry, error) {
	return scanEntry(tx.QueryRowContext(ctx, `
		SELECT id, user_id, kind, amount::text, reference_id
		FROM ledger_entries
		WHERE kind = $1 AND reference_id = $2`, string(kind), ref))
}

func (s *LedgerService) findTerminalEntry(ctx context.Context, tx *sql.Tx, ref string) (*models.LedgerEntry, error) {
	return scanEntry(tx.QueryRowContext(ctx, `
		SELECT id, user_id, kind, amount::text, reference_id
		FROM ledger_entries
		WHERE reference_id = $1 AND kind IN ('finalize', 'refund')`, ref))
}

func scanEntry(row *sql.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var kind, amount string
	err := row.Scan(&e.ID, &e.UserID, &kind, &amount, &e.ReferenceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Kind = models.EntryKind(kind)
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &e, nil
}

func (s *LedgerService) createLedgerEntry(ctx context.Context, tx *sql.Tx, userID string, kind models.EntryKind, amount decimal.Decimal, ref, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, amount, reference_id, description)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), userID, string(kind), amount.String(), ref, description)
	return err
}

func (s *LedgerService) updateAccount(ctx context.Context, tx *sql.Tx, userID string, acct *account) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE ledger_accounts
		SET available_balance = $1, locked_balance = $2, settled_balance = $3,
		    version = version + 1, updated_at = NOW()
		WHERE user_id = $4 AND version = $5`,
		acct.available.String(), acct.locked.String(), acct.settled.String(), userID, acct.version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w for account %s", ErrConcurrentUpdate, userID)
	}
	return nil
}

func (s *LedgerService) recordResult(op string, r *LedgerResult) {
	if r.Applied {
		s.metrics.LedgerOp(op, "applied")
		return
	}
	s.metrics.LedgerOp(op, "duplicate")
}

func validateMovement(userID string, amount decimal.Decimal, ref string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if ref == "" {
		return fmt.Errorf("%w: reference id is required", ErrInvalidInput)
	}
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(6)) {
		return ErrInvalidAmount
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}
