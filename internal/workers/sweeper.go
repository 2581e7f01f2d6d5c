package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/models"
)

// SweepJob asks for the token balance of a credited deposit address to be
// moved to treasury.
type SweepJob struct {
	DepositID string    `json:"deposit_id"`
	Address   string    `json:"address"`
	QueuedAt  time.Time `json:"queued_at"`
}

type SweepQueue interface {
	Enqueue(ctx context.Context, job SweepJob) error
	// Dequeue waits up to timeout. A nil job means nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*SweepJob, error)
}

// RedisSweepQueue is a Redis list shared by all instances.
type RedisSweepQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisSweepQueue(rdb *redis.Client, key string) *RedisSweepQueue {
	return &RedisSweepQueue{rdb: rdb, key: key}
}

func (q *RedisSweepQueue) Enqueue(ctx context.Context, job SweepJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, q.key, data).Err()
}

func (q *RedisSweepQueue) Dequeue(ctx context.Context, timeout time.Duration) (*SweepJob, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}

	var job SweepJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode sweep job: %w", err)
	}
	return &job, nil
}

// MemorySweepQueue is the in-process fallback when Redis is not configured.
type MemorySweepQueue struct {
	jobs chan SweepJob
}

func NewMemorySweepQueue(size int) *MemorySweepQueue {
	return &MemorySweepQueue{jobs: make(chan SweepJob, size)}
}

func (q *MemorySweepQueue) Enqueue(ctx context.Context, job SweepJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemorySweepQueue) Dequeue(ctx context.Context, timeout time.Duration) (*SweepJob, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case job := <-q.jobs:
		return &job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type SweepStore interface {
	Get(ctx context.Context, id string) (*models.DepositAddress, error)
	DecryptKey(addr *models.DepositAddress) (string, bool)
	RecordSweep(ctx context.Context, id, txHash string) error
}

type SweepChain interface {
	GetTokenBalance(ctx context.Context, address string) (decimal.Decimal, error)
	BroadcastTransfer(ctx context.Context, fromKey, to string, amount decimal.Decimal) (string, error)
}

// Sweeper moves credited deposits to the treasury address. A failed sweep
// is logged and audited; the user's credit is never touched.
type Sweeper struct {
	queue    SweepQueue
	store    SweepStore
	chain    SweepChain
	treasury string
	audit    *audit.Logger
	logger   zerolog.Logger
}

func NewSweeper(queue SweepQueue, store SweepStore, chain SweepChain, treasury string, auditLog *audit.Logger, logger zerolog.Logger) *Sweeper {
	return &Sweeper{queue: queue, store: store, chain: chain, treasury: treasury, audit: auditLog, logger: logger}
}

// Run consumes sweep jobs until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().Msg("sweeper started")
	for {
		job, err := s.queue.Dequeue(ctx, 5*time.Second)
		if ctx.Err() != nil {
			s.logger.Info().Msg("sweeper stopped")
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("sweep queue unavailable")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		if err := s.Sweep(ctx, *job); err != nil {
			s.logger.Error().Err(err).Str("deposit_id", job.DepositID).Msg("sweep failed")
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context, job SweepJob) error {
	addr, err := s.store.Get(ctx, job.DepositID)
	if err != nil {
		return err
	}
	if addr.SweepTxHash != nil {
		return nil
	}

	key, ok := s.store.DecryptKey(addr)
	if !ok {
		s.logger.Error().Str("deposit_id", addr.ID).Str("address", addr.Address).Msg("cannot decrypt deposit key, skipping sweep")
		s.audit.System(ctx, "sweep_failed", addr.ID, map[string]any{"address": addr.Address, "reason": "key decryption failed"})
		return nil
	}

	balance, err := s.chain.GetTokenBalance(ctx, addr.Address)
	if err != nil {
		return err
	}
	if !balance.IsPositive() {
		return nil
	}

	// only what was credited to the user moves; later transfers to a used
	// address stay on-chain for manual handling
	amount := balance
	if credited := addr.LastObservedBalance; credited.IsPositive() && balance.GreaterThan(credited) {
		amount = credited
		s.logger.Warn().Str("deposit_id", addr.ID).Str("balance", balance.String()).
			Str("credited", credited.String()).Msg("uncredited funds on used deposit address")
		s.audit.System(ctx, "deposit_uncredited_funds", addr.ID, map[string]any{
			"address":  addr.Address,
			"balance":  balance.String(),
			"credited": credited.String(),
			"excess":   balance.Sub(credited).String(),
		})
	}

	txID, err := s.chain.BroadcastTransfer(ctx, key, s.treasury, amount)
	if txID == "" {
		s.audit.System(ctx, "sweep_failed", addr.ID, map[string]any{
			"address": addr.Address,
			"amount":  amount.String(),
			"reason":  errString(err),
		})
		return fmt.Errorf("broadcast sweep: %w", err)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("tx_id", txID).Msg("sweep broadcast outcome unknown, recording tx id")
	}

	if err := s.store.RecordSweep(ctx, addr.ID, txID); err != nil {
		return fmt.Errorf("record sweep %s: %w", txID, err)
	}
	s.audit.System(ctx, "deposit_swept", addr.ID, map[string]any{
		"address": addr.Address,
		"amount":  amount.String(),
		"tx_hash": txID,
	})
	s.logger.Info().Str("deposit_id", addr.ID).Str("tx_id", txID).Str("amount", amount.String()).Msg("deposit swept")
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
