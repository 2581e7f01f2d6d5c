package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/observability"
	"github.com/usdtpay/settlement/internal/services"
	"github.com/usdtpay/settlement/internal/tron"
)

type DepositStore interface {
	ListUnused(ctx context.Context) ([]models.DepositAddress, error)
	MarkUsed(ctx context.Context, id string, observed decimal.Decimal) (bool, error)
}

type DepositLedger interface {
	CreditDeposit(ctx context.Context, userID string, amount decimal.Decimal, txHash, description string) (*services.LedgerResult, error)
}

type ChainReader interface {
	GetTokenBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// TransferLister is implemented by chain clients that index incoming
// transfers. Without it deposits are keyed by address and observed balance.
type TransferLister interface {
	ListIncomingTransfers(ctx context.Context, address string) ([]tron.Transfer, error)
}

// DepositWorker credits on-chain deposits to unused deposit addresses.
type DepositWorker struct {
	store   DepositStore
	ledger  DepositLedger
	chain   ChainReader
	queue   SweepQueue
	audit   *audit.Logger
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewDepositWorker(store DepositStore, ledger DepositLedger, chain ChainReader, queue SweepQueue, auditLog *audit.Logger, logger zerolog.Logger, metrics *observability.Metrics) *DepositWorker {
	return &DepositWorker{
		store:   store,
		ledger:  ledger,
		chain:   chain,
		queue:   queue,
		audit:   auditLog,
		logger:  logger,
		metrics: metrics,
	}
}

// Tick scans every unused address once. A failure on one address leaves it
// for the next tick and does not stop the others.
func (w *DepositWorker) Tick(ctx context.Context) error {
	addrs, err := w.store.ListUnused(ctx)
	if err != nil {
		return fmt.Errorf("list deposit addresses: %w", err)
	}

	failed := 0
	for i := range addrs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.scan(ctx, &addrs[i]); err != nil {
			failed++
			w.logger.Warn().Err(err).Str("address", addrs[i].Address).Msg("deposit scan failed")
		}
	}
	if failed > 0 {
		w.logger.Debug().Int("failed", failed).Int("scanned", len(addrs)).Msg("deposit tick finished with errors")
	}
	return nil
}

func (w *DepositWorker) scan(ctx context.Context, addr *models.DepositAddress) error {
	balance, err := w.chain.GetTokenBalance(ctx, addr.Address)
	if err != nil {
		return err
	}
	if !balance.IsPositive() {
		return nil
	}

	credited, err := w.credit(ctx, addr, balance)
	if err != nil {
		return err
	}
	if credited.LessThan(balance) {
		// the address stays open until every transfer behind the balance is credited
		if credited.IsPositive() {
			w.logger.Info().Str("address", addr.Address).Str("balance", balance.String()).
				Str("credited", credited.String()).Msg("balance only partly indexed, waiting")
		} else {
			w.logger.Info().Str("address", addr.Address).Str("balance", balance.String()).
				Msg("balance seen before any indexed transfer, waiting")
		}
		return nil
	}

	marked, err := w.store.MarkUsed(ctx, addr.ID, credited)
	if err != nil {
		return fmt.Errorf("mark address used: %w", err)
	}
	if !marked {
		return nil
	}

	job := SweepJob{DepositID: addr.ID, Address: addr.Address, QueuedAt: time.Now().UTC()}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.logger.Error().Err(err).Str("deposit_id", addr.ID).Msg("failed to enqueue sweep")
		w.audit.System(ctx, "sweep_failed", addr.ID, map[string]any{"address": addr.Address, "reason": "enqueue: " + err.Error()})
	}
	return nil
}

// credit credits every indexed transfer into addr and returns their total.
// Without an index the whole balance is credited under a synthetic reference.
func (w *DepositWorker) credit(ctx context.Context, addr *models.DepositAddress, balance decimal.Decimal) (decimal.Decimal, error) {
	lister, ok := w.chain.(TransferLister)
	if !ok {
		ref := fmt.Sprintf("deposit:%s:%s", addr.Address, balance.String())
		if err := w.creditOne(ctx, addr, balance, ref); err != nil {
			return decimal.Zero, err
		}
		return balance, nil
	}

	transfers, err := lister.ListIncomingTransfers(ctx, addr.Address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list transfers: %w", err)
	}

	total := decimal.Zero
	for _, t := range transfers {
		if t.TxID == "" || !t.Amount.IsPositive() {
			continue
		}
		if err := w.creditOne(ctx, addr, t.Amount, t.TxID); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(t.Amount)
	}
	return total, nil
}

func (w *DepositWorker) creditOne(ctx context.Context, addr *models.DepositAddress, amount decimal.Decimal, ref string) error {
	res, err := w.ledger.CreditDeposit(ctx, addr.UserID, amount, ref, "USDT deposit to "+addr.Address)
	if err != nil {
		return fmt.Errorf("credit %s: %w", ref, err)
	}
	if !res.Applied {
		return nil
	}

	w.metrics.Settled("deposit", "credited")
	w.audit.System(ctx, "deposit_credited", addr.ID, map[string]any{
		"user_id": addr.UserID,
		"address": addr.Address,
		"amount":  amount.String(),
		"tx_hash": ref,
	})
	w.logger.Info().Str("user_id", addr.UserID).Str("address", addr.Address).
		Str("amount", amount.String()).Str("tx_hash", ref).Msg("deposit credited")
	return nil
}
