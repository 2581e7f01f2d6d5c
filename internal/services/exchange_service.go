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
)

// CreateExchangeRequest is one USDT to INR conversion. Either BankAccountID or
// BankDetails must be set.
type CreateExchangeRequest struct {
	UserID         string
	UsdtAmount     decimal.Decimal
	BankAccountID  string
	BankDetails    *models.BankDetails
	IdempotencyKey string
}

type ExchangeService struct {
	db         *sql.DB
	ledger     *LedgerService
	compliance *ComplianceService
	rates      *RateService
	audit      *audit.Logger
	validation *ValidationHelper
	logger     zerolog.Logger
}

func NewExchangeService(db *sql.DB, ledger *LedgerService, compliance *ComplianceService, rates *RateService, auditLog *audit.Logger, logger zerolog.Logger) *ExchangeService {
	return &ExchangeService{
		db:         db,
		ledger:     ledger,
		compliance: compliance,
		rates:      rates,
		audit:      auditLog,
		validation: NewValidationHelper(),
		logger:     logger,
	}
}

func (s *ExchangeService) GetRate(ctx context.Context) decimal.Decimal {
	return s.rates.Rate(ctx)
}

// CreateOrder locks the USDT and inserts the pending order in one transaction.
// A retry with the same idempotency key returns the original order.
func (s *ExchangeService) CreateOrder(ctx context.Context, req CreateExchangeRequest) (*models.ExchangeOrder, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !req.UsdtAmount.IsPositive() || !req.UsdtAmount.Equal(req.UsdtAmount.Truncate(6)) {
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

	if s.compliance.IsPaused(ctx, models.ClassExchanges) {
		return nil, fmt.Errorf("exchanges: %w", ErrPaused)
	}

	rate := s.rates.Rate(ctx)
	inr := req.UsdtAmount.Mul(rate).Round(2)

	if err := s.compliance.CheckLimit(ctx, req.UserID, req.UsdtAmount, models.ClassExchanges); err != nil {
		return nil, err
	}
	if err := s.compliance.CheckLimit(ctx, req.UserID, inr, models.ClassWithdrawals); err != nil {
		return nil, err
	}

	bankID, err := s.resolveBankAccount(ctx, req)
	if err != nil {
		return nil, err
	}

	order := &models.ExchangeOrder{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		UsdtAmount:     req.UsdtAmount,
		InrAmount:      inr,
		Rate:           rate,
		BankAccountID:  bankID,
		Status:         models.ExchangePending,
		IdempotencyKey: req.IdempotencyKey,
	}

	var prior *models.ExchangeOrder
	err = s.ledger.inTx(ctx, func(tx *sql.Tx) error {
		prior = nil
		existing, err := s.findByIdempotencyKey(ctx, tx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			prior = existing
			return nil
		}

		if _, err := s.ledger.LockFundsTx(ctx, tx, req.UserID, order.UsdtAmount, order.ID, "Exchange order "+order.ID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO exchange_orders (id, user_id, usdt_amount, inr_amount, rate, bank_account_id, status, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at`,
			order.ID, order.UserID, order.UsdtAmount.String(), order.InrAmount.String(), order.Rate.String(),
			order.BankAccountID, order.Status, order.IdempotencyKey,
		).Scan(&order.CreatedAt, &order.UpdatedAt)
	})
	if isUniqueViolation(err) {
		// a concurrent retry with the same key won; its transaction holds the lock
		return s.mustFindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior, nil
	}

	s.audit.Log(ctx, models.AuditEntry{
		ActorType:   audit.ActorUser,
		ActorID:     req.UserID,
		Action:      "exchange_order_created",
		ReferenceID: order.ID,
		Metadata: map[string]any{
			"usdt_amount": order.UsdtAmount.String(),
			"inr_amount":  order.InrAmount.String(),
			"rate":        order.Rate.String(),
		},
	})
	s.logger.Info().Str("order_id", order.ID).Str("user_id", order.UserID).
		Str("usdt", order.UsdtAmount.String()).Str("inr", order.InrAmount.String()).Msg("exchange order created")
	return order, nil
}

func (s *ExchangeService) resolveBankAccount(ctx context.Context, req CreateExchangeRequest) (string, error) {
	if req.BankAccountID != "" {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM bank_accounts WHERE id = $1 AND user_id = $2`,
			req.BankAccountID, req.UserID).Scan(&id)
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("bank account %w", ErrNotFound)
		}
		return id, err
	}

	if req.BankDetails == nil {
		return "", fmt.Errorf("%w: bank account required for exchange", ErrInvalidInput)
	}
	if err := s.validation.ValidateStruct(req.BankDetails); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bank_accounts (id, user_id, account_holder_name, account_number, ifsc_code, bank_name)
		VALUES ($1, $2, $3, $4, $5, 'Bank')
		ON CONFLICT (user_id, account_number, ifsc_code)
		DO UPDATE SET account_holder_name = EXCLUDED.account_holder_name
		RETURNING id`,
		uuid.NewString(), req.UserID, req.BankDetails.AccountHolderName,
		req.BankDetails.AccountNumber, req.BankDetails.IFSC,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("save bank account: %w", err)
	}
	return id, nil
}

const exchangeOrderColumns = `id, user_id, usdt_amount::text, inr_amount::text, rate::text,
		bank_account_id, status, idempotency_key, failure_reason, created_at, updated_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchangeOrder(row rowScanner) (*models.ExchangeOrder, error) {
	var o models.ExchangeOrder
	var usdt, inr, rate string
	err := row.Scan(&o.ID, &o.UserID, &usdt, &inr, &rate, &o.BankAccountID, &o.Status,
		&o.IdempotencyKey, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.UsdtAmount, err = decimal.NewFromString(usdt); err != nil {
		return nil, fmt.Errorf("parse usdt_amount: %w", err)
	}
	if o.InrAmount, err = decimal.NewFromString(inr); err != nil {
		return nil, fmt.Errorf("parse inr_amount: %w", err)
	}
	if o.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse rate: %w", err)
	}
	return &o, nil
}

func (s *ExchangeService) findByIdempotencyKey(ctx context.Context, q queryer, userID, key string) (*models.ExchangeOrder, error) {
	o, err := scanExchangeOrder(q.QueryRowContext(ctx,
		`SELECT `+exchangeOrderColumns+` FROM exchange_orders WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (s *ExchangeService) mustFindByIdempotencyKey(ctx context.Context, userID, key string) (*models.ExchangeOrder, error) {
	o, err := s.findByIdempotencyKey(ctx, s.db, userID, key)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// ListOrders returns the user's orders, newest first.
func (s *ExchangeService) ListOrders(ctx context.Context, userID string, limit int) ([]models.ExchangeOrder, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+exchangeOrderColumns+` FROM exchange_orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []models.ExchangeOrder{}
	for rows.Next() {
		o, err := scanExchangeOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *ExchangeService) GetOrder(ctx context.Context, id string) (*models.ExchangeOrder, error) {
	o, err := scanExchangeOrder(s.db.QueryRowContext(ctx,
		`SELECT `+exchangeOrderColumns+` FROM exchange_orders WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func lockExchangeOrder(ctx context.Context, tx *sql.Tx, id string) (*models.ExchangeOrder, error) {
	o, err := scanExchangeOrder(tx.QueryRowContext(ctx,
		`SELECT `+exchangeOrderColumns+` FROM exchange_orders WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// ApproveOrder hands a pending order to the payout pipeline.
func (s *ExchangeService) ApproveOrder(ctx context.Context, orderID, adminID string) (*models.ExchangeOrder, error) {
	var order *models.ExchangeOrder
	err := s.ledger.inTx(ctx, func(tx *sql.Tx) error {
		o, err := lockExchangeOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != models.ExchangePending {
			return fmt.Errorf("%w: order is %s", ErrAlreadyProcessed, o.Status)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE exchange_orders SET status = $1, updated_at = NOW() WHERE id = $2`,
			models.ExchangeApproved, o.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payout_orders (id, user_id, usdt_amount, inr_amount, bank_account_id, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.UserID, o.UsdtAmount.String(), o.InrAmount.String(), o.BankAccountID, models.PayoutApproved); err != nil {
			return err
		}
		o.Status = models.ExchangeApproved
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, models.AuditEntry{
		ActorType:   audit.ActorAdmin,
		ActorID:     adminID,
		Action:      "exchange_order_approved",
		ReferenceID: order.ID,
		Metadata:    map[string]any{"inr_amount": order.InrAmount.String()},
	})
	return order, nil
}

// RejectOrder fails a pending order and refunds its lock in the same transaction.
// Once approved the order belongs to the payout pipeline and settles there.
func (s *ExchangeService) RejectOrder(ctx context.Context, orderID, adminID, reason string) (*models.ExchangeOrder, error) {
	if reason == "" {
		reason = "Rejected by admin"
	}
	var order *models.ExchangeOrder
	err := s.ledger.inTx(ctx, func(tx *sql.Tx) error {
		o, err := lockExchangeOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != models.ExchangePending {
			return fmt.Errorf("%w: order is %s", ErrAlreadyProcessed, o.Status)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE exchange_orders SET status = $1, failure_reason = $2, updated_at = NOW() WHERE id = $3`,
			models.ExchangeFailed, reason, o.ID); err != nil {
			return err
		}
		if _, err := s.ledger.FailTx(ctx, tx, o.UserID, o.UsdtAmount, o.ID); err != nil {
			return err
		}
		o.Status = models.ExchangeFailed
		o.FailureReason = reason
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, models.AuditEntry{
		ActorType:   audit.ActorAdmin,
		ActorID:     adminID,
		Action:      "exchange_order_rejected",
		ReferenceID: order.ID,
		Metadata:    map[string]any{"reason": reason},
	})
	return order, nil
}
