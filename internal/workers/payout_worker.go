package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/payout"
	"github.com/usdtpay/settlement/internal/services"
)

type PayoutStore interface {
	NextApproved(ctx context.Context) (*models.PayoutOrder, error)
	BankAccount(ctx context.Context, id string) (*models.BankAccount, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	Initiate(ctx context.Context, p *models.PayoutOrder, bank *models.BankAccount) (*payout.Result, error)
	SaveContactID(ctx context.Context, bankAccountID, contactID string) error
	SetGatewayRef(ctx context.Context, id, ref string) error
	Settle(ctx context.Context, orderID string, outcome payout.Status, gatewayRef, reason string) (bool, error)
}

// PayoutWorker pays out one approved exchange order per tick.
type PayoutWorker struct {
	store  PayoutStore
	logger zerolog.Logger
}

func NewPayoutWorker(store PayoutStore, logger zerolog.Logger) *PayoutWorker {
	return &PayoutWorker{store: store, logger: logger}
}

func (w *PayoutWorker) Tick(ctx context.Context) error {
	p, err := w.store.NextApproved(ctx)
	if err != nil {
		return fmt.Errorf("next approved payout: %w", err)
	}
	if p == nil {
		return nil
	}
	log := w.logger.With().Str("order_id", p.ID).Logger()

	bank, err := w.store.BankAccount(ctx, p.BankAccountID)
	if errors.Is(err, services.ErrNotFound) {
		log.Error().Str("bank_account_id", p.BankAccountID).Msg("bank account missing, failing payout")
		_, err = w.store.Settle(ctx, p.ID, payout.StatusFailed, "", "Bank account not found")
		return err
	}
	if err != nil {
		return fmt.Errorf("load bank account: %w", err)
	}

	claimed, err := w.store.MarkProcessing(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("claim payout: %w", err)
	}
	if !claimed {
		return nil
	}

	res, err := w.store.Initiate(ctx, p, bank)
	if err != nil {
		// the gateway may still have accepted it; the webhook decides
		log.Warn().Err(err).Msg("payout initiation failed, leaving as processing")
		return nil
	}

	if bank.GatewayContactID == "" && res.ContactID != "" {
		if err := w.store.SaveContactID(ctx, bank.ID, res.ContactID); err != nil {
			log.Warn().Err(err).Msg("failed to cache gateway contact id")
		}
	}

	switch res.Status {
	case payout.StatusSuccess, payout.StatusFailed:
		if _, err := w.store.Settle(ctx, p.ID, res.Status, res.RefID, res.Reason); err != nil {
			return fmt.Errorf("settle payout: %w", err)
		}
	default:
		if err := w.store.SetGatewayRef(ctx, p.ID, res.RefID); err != nil {
			log.Warn().Err(err).Str("gateway_ref_id", res.RefID).Msg("failed to record gateway ref")
		}
		log.Info().Str("gateway_ref_id", res.RefID).Msg("payout accepted, awaiting webhook")
	}
	return nil
}
