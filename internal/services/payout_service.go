package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/observability"
	"github.com/usdtpay/settlement/internal/payout"
)

// PayoutService owns payout order transitions. Settle is the single terminal
// path used by both the worker and the gateway webhook.
type PayoutService struct {
	db            *sql.DB
	ledger        *LedgerService
	gateway       payout.Gateway
	webhookSecret string
	audit         *audit.Logger
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

func NewPayoutService(db *sql.DB, ledger *LedgerService, gateway payout.Gateway, webhookSecret string, auditLog *audit.Logger, logger zerolog.Logger, metrics *observability.Metrics) *PayoutService {
	return &PayoutService{
		db:            db,
		ledger:        ledger,
		gateway:       gateway,
		webhookSecret: webhookSecret,
		audit:         auditLog,
		logger:        logger,
		metrics:       metrics,
	}
}

// Settle applies a terminal gateway outcome once. It returns false when the
// payout was already terminal. PROCESSING outcomes are ignored.
func (s *PayoutService) Settle(ctx context.Context, orderID string, outcome payout.Status, gatewayRef, reason string) (bool, error) {
	var kind models.EntryKind
	switch outcome {
	case payout.StatusSuccess:
		kind = models.EntryFinalize
	case payout.StatusFailed:
		kind = models.EntryRefund
	default:
		return false, nil
	}

	var final string
	err := s.ledger.inTx(ctx, func(tx *sql.Tx) error {
		final = ""
		var userID, usdt, status string
		err := tx.QueryRowContext(ctx, `
			SELECT user_id, usdt_amount::text, status FROM payout_orders
			WHERE id = $1 FOR UPDATE`, orderID).Scan(&userID, &usdt, &status)
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if status == models.PayoutCompleted || status == models.PayoutFailed {
			return nil
		}

		amount, err := decimal.NewFromString(usdt)
		if err != nil {
			return fmt.Errorf("parse usdt_amount: %w", err)
		}
		var res *LedgerResult
		if kind == models.EntryFinalize {
			res, err = s.ledger.FinalizeTx(ctx, tx, userID, amount, orderID)
		} else {
			res, err = s.ledger.FailTx(ctx, tx, userID, amount, orderID)
		}
		if err != nil {
			return err
		}

		payoutStatus, exchangeStatus, failure := models.PayoutCompleted, models.ExchangeCompleted, ""
		if res.Kind == models.EntryRefund {
			payoutStatus, exchangeStatus, failure = models.PayoutFailed, models.ExchangeFailed, reason
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE payout_orders
			SET status = $2, gateway_ref_id = COALESCE(NULLIF($3, ''), gateway_ref_id),
			    failure_reason = $4, updated_at = NOW()
			WHERE id = $1`, orderID, payoutStatus, gatewayRef, failure); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE exchange_orders SET status = $2, failure_reason = $3, updated_at = NOW()
			WHERE id = $1`, orderID, exchangeStatus, failure); err != nil {
			return err
		}
		final = payoutStatus
		return nil
	})
	if err != nil {
		return false, err
	}
	if final == "" {
		s.logger.Info().Str("order_id", orderID).Str("outcome", string(outcome)).Msg("payout already settled")
		return false, nil
	}

	s.metrics.Settled("payout", final)
	s.audit.System(ctx, "payout_"+final, orderID, map[string]any{
		"gateway_ref_id": gatewayRef,
		"reason":         reason,
	})
	s.logger.Info().Str("order_id", orderID).Str("status", final).Str("gateway_ref_id", gatewayRef).Msg("payout settled")
	return true, nil
}

// HandleWebhook verifies and applies a gateway status push. Events that carry
// no terminal status are acknowledged and ignored.
func (s *PayoutService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !payout.VerifySignature(body, signature, s.webhookSecret) {
		s.logger.Warn().Msg("payout webhook signature mismatch")
		return fmt.Errorf("%w: invalid webhook signature", ErrUnauthorized)
	}

	event, err := s.gateway.ParseWebhook(body)
	if errors.Is(err, payout.ErrUnhandledEvent) {
		s.logger.Debug().Err(err).Msg("ignoring payout webhook")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	_, err = s.Settle(ctx, event.OrderID, event.Status, event.RefID, event.Reason)
	if errors.Is(err, ErrOrderNotFound) {
		s.logger.Warn().Str("order_id", event.OrderID).Msg("webhook for unknown payout")
	}
	return err
}

const payoutColumns = `id, user_id, usdt_amount::text, inr_amount::text, bank_account_id, status,
		gateway_ref_id, failure_reason, created_at, updated_at`

func scanPayout(row rowScanner) (*models.PayoutOrder, error) {
	var p models.PayoutOrder
	var usdt, inr string
	err := row.Scan(&p.ID, &p.UserID, &usdt, &inr, &p.BankAccountID, &p.Status,
		&p.GatewayRefID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.UsdtAmount, err = decimal.NewFromString(usdt); err != nil {
		return nil, fmt.Errorf("parse usdt_amount: %w", err)
	}
	if p.InrAmount, err = decimal.NewFromString(inr); err != nil {
		return nil, fmt.Errorf("parse inr_amount: %w", err)
	}
	return &p, nil
}

// NextApproved returns the oldest APPROVED payout, or nil.
func (s *PayoutService) NextApproved(ctx context.Context) (*models.PayoutOrder, error) {
	p, err := scanPayout(s.db.QueryRowContext(ctx, `
		SELECT `+payoutColumns+` FROM payout_orders
		WHERE status = 'APPROVED' ORDER BY created_at LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// MarkProcessing claims an APPROVED payout. False means someone else has it.
func (s *PayoutService) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payout_orders SET status = 'PROCESSING', updated_at = NOW()
		WHERE id = $1 AND status = 'APPROVED'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n != 1 {
		return false, err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE exchange_orders SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'approved'`, id); err != nil {
		return false, err
	}
	return true, nil
}

// SetGatewayRef records the gateway reference of an in-flight payout.
func (s *PayoutService) SetGatewayRef(ctx context.Context, id, ref string) error {
	if ref == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE payout_orders SET gateway_ref_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'`, id, ref)
	return err
}

func (s *PayoutService) BankAccount(ctx context.Context, id string) (*models.BankAccount, error) {
	var b models.BankAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_holder_name, account_number, ifsc_code, bank_name, gateway_contact_id
		FROM bank_accounts WHERE id = $1`, id).
		Scan(&b.ID, &b.UserID, &b.AccountHolderName, &b.AccountNumber, &b.IFSCCode, &b.BankName, &b.GatewayContactID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bank account %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveContactID caches the gateway beneficiary id on the bank account.
func (s *PayoutService) SaveContactID(ctx context.Context, bankAccountID, contactID string) error {
	if contactID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE bank_accounts SET gateway_contact_id = $2
		WHERE id = $1 AND gateway_contact_id = ''`, bankAccountID, contactID)
	return err
}

// ListUnsettled finds terminal payouts whose ledger lock was never closed.
func (s *PayoutService) ListUnsettled(ctx context.Context) ([]models.PayoutOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payout_orders p
		WHERE p.status IN ('COMPLETED', 'FAILED')
		AND NOT EXISTS (
			SELECT 1 FROM ledger_entries e
			WHERE e.reference_id = p.id::text AND e.kind IN ('finalize', 'refund')
		)
		ORDER BY p.updated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.PayoutOrder{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Reconcile replays the ledger call for a terminal payout from ListUnsettled.
func (s *PayoutService) Reconcile(ctx context.Context, p *models.PayoutOrder) (*LedgerResult, error) {
	switch p.Status {
	case models.PayoutCompleted:
		return s.ledger.Finalize(ctx, p.UserID, p.UsdtAmount, p.ID)
	case models.PayoutFailed:
		return s.ledger.Fail(ctx, p.UserID, p.UsdtAmount, p.ID)
	default:
		return nil, fmt.Errorf("%w: payout %s is %s", ErrInvalidInput, p.ID, p.Status)
	}
}

// Initiate calls the gateway for a claimed payout.
func (s *PayoutService) Initiate(ctx context.Context, p *models.PayoutOrder, bank *models.BankAccount) (*payout.Result, error) {
	return s.gateway.InitiatePayout(ctx, payout.Request{
		OrderID: p.ID,
		UserID:  p.UserID,
		Amount:  p.InrAmount,
		Bank:    *bank,
	})
}
