package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/models"
)

type limitSource struct {
	query string
	limit func(Settings) decimal.Decimal
}

// Daily totals exclude failed rows; a failed operation released its funds.
var limitSources = map[models.OperationClass]limitSource{
	models.ClassExchanges: {
		query: `SELECT COALESCE(SUM(usdt_amount), 0)::text FROM exchange_orders
			WHERE user_id = $1 AND created_at >= $2 AND status <> 'failed'`,
		limit: func(s Settings) decimal.Decimal { return s.DailyExchangeUSDT },
	},
	models.ClassWithdrawals: {
		query: `SELECT COALESCE(SUM(inr_amount), 0)::text FROM exchange_orders
			WHERE user_id = $1 AND created_at >= $2 AND status <> 'failed'`,
		limit: func(s Settings) decimal.Decimal { return s.DailyWithdrawalINR },
	},
	models.ClassUSDTWithdrawals: {
		query: `SELECT COALESCE(SUM(usdt_amount), 0)::text FROM usdt_withdrawals
			WHERE user_id = $1 AND created_at >= $2 AND status <> 'failed'`,
		limit: func(s Settings) decimal.Decimal { return s.DailyWithdrawalUSDT },
	},
}

// ComplianceService enforces pause switches and per-user daily limits.
// The limit check is advisory under concurrency; LockFunds is the balance backstop.
type ComplianceService struct {
	db       *sql.DB
	settings SettingsProvider
	logger   zerolog.Logger
	now      func() time.Time
}

func NewComplianceService(db *sql.DB, settings SettingsProvider, logger zerolog.Logger) *ComplianceService {
	return &ComplianceService{db: db, settings: settings, logger: logger, now: time.Now}
}

func (s *ComplianceService) IsPaused(ctx context.Context, class models.OperationClass) bool {
	return s.settings.Settings(ctx).Paused[class]
}

// CheckLimit fails with ErrPaused or *LimitExceededError.
func (s *ComplianceService) CheckLimit(ctx context.Context, userID string, amount decimal.Decimal, class models.OperationClass) error {
	if !class.Valid() {
		return fmt.Errorf("%w: unknown operation class %q", ErrInvalidInput, class)
	}
	settings := s.settings.Settings(ctx)
	if settings.Paused[class] {
		return fmt.Errorf("%s: %w", class, ErrPaused)
	}

	src, ok := limitSources[class]
	if !ok {
		return nil
	}

	var raw string
	if err := s.db.QueryRowContext(ctx, src.query, userID, s.startOfDay()).Scan(&raw); err != nil {
		return fmt.Errorf("sum daily %s: %w", class, err)
	}
	used, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse daily %s total: %w", class, err)
	}

	limit := src.limit(settings)
	if used.Add(amount).GreaterThan(limit) {
		s.logger.Info().Str("user_id", userID).Str("class", string(class)).
			Str("used", used.String()).Str("amount", amount.String()).Str("limit", limit.String()).
			Msg("daily limit exceeded")
		return &LimitExceededError{Class: string(class), Limit: limit, Used: used}
	}
	return nil
}

// startOfDay is local midnight of the server clock.
func (s *ComplianceService) startOfDay() time.Time {
	t := s.now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
