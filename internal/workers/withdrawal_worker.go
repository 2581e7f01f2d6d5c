package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/observability"
	"github.com/usdtpay/settlement/internal/tron"
)

const (
	reasonBroadcastFailed  = "Broadcast failed"
	reasonChainFailure     = "Chain failure"
	defaultWithdrawalBatch = 5
)

type WithdrawalStore interface {
	ListPending(ctx context.Context, limit int) ([]models.UsdtWithdrawal, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	ReleaseClaim(ctx context.Context, id string) (bool, error)
	SetTxHash(ctx context.Context, id, txHash string) error
	ListProcessing(ctx context.Context) ([]models.UsdtWithdrawal, error)
	Complete(ctx context.Context, w *models.UsdtWithdrawal) (bool, error)
	FailAndRefund(ctx context.Context, w *models.UsdtWithdrawal, reason string) (bool, error)
}

type WithdrawalChain interface {
	BroadcastTransfer(ctx context.Context, fromKey, to string, amount decimal.Decimal) (string, error)
	GetConfirmationStatus(ctx context.Context, txID string) (tron.ConfirmationStatus, error)
}

// WithdrawalWorker broadcasts pending USDT withdrawals from the hot wallet
// and settles them once the chain reports an outcome.
type WithdrawalWorker struct {
	store     WithdrawalStore
	chain     WithdrawalChain
	hotWallet string
	batch     int
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewWithdrawalWorker(store WithdrawalStore, chain WithdrawalChain, hotWalletKey string, batch int, logger zerolog.Logger, metrics *observability.Metrics) *WithdrawalWorker {
	if batch <= 0 {
		batch = defaultWithdrawalBatch
	}
	return &WithdrawalWorker{
		store:     store,
		chain:     chain,
		hotWallet: hotWalletKey,
		batch:     batch,
		logger:    logger,
		metrics:   metrics,
	}
}

func (w *WithdrawalWorker) Tick(ctx context.Context) error {
	broadcastErr := w.broadcastPending(ctx)
	confirmErr := w.confirmProcessing(ctx)
	return errors.Join(broadcastErr, confirmErr)
}

func (w *WithdrawalWorker) broadcastPending(ctx context.Context) error {
	pending, err := w.store.ListPending(ctx, w.batch)
	if err != nil {
		return fmt.Errorf("list pending withdrawals: %w", err)
	}

	for i := range pending {
		wd := &pending[i]
		claimed, err := w.store.MarkProcessing(ctx, wd.ID)
		if err != nil {
			w.logger.Error().Err(err).Str("withdrawal_id", wd.ID).Msg("failed to claim withdrawal")
			continue
		}
		if !claimed {
			continue
		}
		wd.Status = models.WithdrawalProcessing
		w.broadcast(ctx, wd)
	}
	return nil
}

func (w *WithdrawalWorker) broadcast(ctx context.Context, wd *models.UsdtWithdrawal) {
	log := w.logger.With().Str("withdrawal_id", wd.ID).Str("to", wd.DestinationAddress).Logger()

	txID, err := w.chain.BroadcastTransfer(ctx, w.hotWallet, wd.DestinationAddress, wd.UsdtAmount)
	if txID == "" && errors.Is(err, tron.ErrUnavailable) {
		// node unreachable before anything was signed
		log.Warn().Err(err).Msg("tron node unavailable, withdrawal back to pending")
		if _, rerr := w.store.ReleaseClaim(ctx, wd.ID); rerr != nil {
			log.Error().Err(rerr).Msg("failed to release withdrawal claim")
		}
		return
	}
	if txID == "" {
		log.Warn().Err(err).Msg("broadcast failed, refunding")
		if _, ferr := w.store.FailAndRefund(ctx, wd, reasonBroadcastFailed); ferr != nil {
			log.Error().Err(ferr).Msg("failed to refund withdrawal after broadcast failure")
			return
		}
		w.metrics.Settled("withdrawal", models.WithdrawalFailed)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("tx_id", txID).Msg("broadcast returned an error with a tx id, tracking it")
	}

	if err := w.store.SetTxHash(ctx, wd.ID, txID); err != nil {
		log.Error().Err(err).Str("tx_id", txID).Msg("failed to persist tx hash, manual check required")
		return
	}
	log.Info().Str("tx_id", txID).Str("amount", wd.UsdtAmount.String()).Msg("withdrawal broadcast")
}

func (w *WithdrawalWorker) confirmProcessing(ctx context.Context) error {
	processing, err := w.store.ListProcessing(ctx)
	if err != nil {
		return fmt.Errorf("list processing withdrawals: %w", err)
	}

	for i := range processing {
		wd := &processing[i]
		if wd.TxHash == nil || *wd.TxHash == "" {
			w.logger.Warn().Str("withdrawal_id", wd.ID).Msg("withdrawal processing without tx hash, needs manual review")
			continue
		}

		status, err := w.chain.GetConfirmationStatus(ctx, *wd.TxHash)
		if err != nil {
			w.logger.Warn().Err(err).Str("withdrawal_id", wd.ID).Msg("confirmation check failed")
			continue
		}

		var applied bool
		var outcome string
		switch status {
		case tron.StatusConfirmed:
			outcome = models.WithdrawalCompleted
			applied, err = w.store.Complete(ctx, wd)
		case tron.StatusFailed:
			outcome = models.WithdrawalFailed
			applied, err = w.store.FailAndRefund(ctx, wd, reasonChainFailure)
		default:
			continue
		}
		if err != nil {
			w.logger.Error().Err(err).Str("withdrawal_id", wd.ID).Str("chain_status", string(status)).Msg("failed to settle withdrawal")
			continue
		}
		if applied {
			w.metrics.Settled("withdrawal", outcome)
		}
	}
	return nil
}
