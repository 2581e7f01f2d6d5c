package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/observability"
	"github.com/usdtpay/settlement/internal/services"
)

type WithdrawalReconciler interface {
	ListUnsettled(ctx context.Context) ([]models.UsdtWithdrawal, error)
	Reconcile(ctx context.Context, w *models.UsdtWithdrawal) (*services.LedgerResult, error)
}

type PayoutReconciler interface {
	ListUnsettled(ctx context.Context) ([]models.PayoutOrder, error)
	Reconcile(ctx context.Context, p *models.PayoutOrder) (*services.LedgerResult, error)
}

// Recovery replays the ledger call for rows that reached a terminal status
// without a matching finalize or refund entry.
type Recovery struct {
	withdrawals WithdrawalReconciler
	payouts     PayoutReconciler
	audit       *audit.Logger
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

func NewRecovery(withdrawals WithdrawalReconciler, payouts PayoutReconciler, auditLog *audit.Logger, logger zerolog.Logger, metrics *observability.Metrics) *Recovery {
	return &Recovery{withdrawals: withdrawals, payouts: payouts, audit: auditLog, logger: logger, metrics: metrics}
}

func (r *Recovery) Tick(ctx context.Context) error {
	return errors.Join(r.recoverWithdrawals(ctx), r.recoverPayouts(ctx))
}

func (r *Recovery) recoverWithdrawals(ctx context.Context) error {
	rows, err := r.withdrawals.ListUnsettled(ctx)
	if err != nil {
		return fmt.Errorf("list unsettled withdrawals: %w", err)
	}
	for i := range rows {
		res, err := r.withdrawals.Reconcile(ctx, &rows[i])
		r.report(ctx, "withdrawal", rows[i].ID, rows[i].Status, res, err)
	}
	return nil
}

func (r *Recovery) recoverPayouts(ctx context.Context) error {
	rows, err := r.payouts.ListUnsettled(ctx)
	if err != nil {
		return fmt.Errorf("list unsettled payouts: %w", err)
	}
	for i := range rows {
		res, err := r.payouts.Reconcile(ctx, &rows[i])
		r.report(ctx, "payout", rows[i].ID, rows[i].Status, res, err)
	}
	return nil
}

func (r *Recovery) report(ctx context.Context, pipeline, ref, status string, res *services.LedgerResult, err error) {
	log := r.logger.With().Str("pipeline", pipeline).Str("reference_id", ref).Str("status", status).Logger()
	if err != nil {
		log.Error().Err(err).Msg("ledger replay failed")
		return
	}
	if !res.Applied {
		return
	}
	r.metrics.Settled(pipeline+"_recovery", string(res.Kind))
	r.audit.System(ctx, "ledger_replayed", ref, map[string]any{
		"pipeline": pipeline,
		"status":   status,
		"kind":     string(res.Kind),
		"amount":   res.Amount.String(),
	})
	log.Warn().Str("kind", string(res.Kind)).Msg("replayed missing ledger entry")
}
