package services

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/config"
	"github.com/usdtpay/settlement/internal/models"
)

// Settings is a snapshot of the live operational configuration.
type Settings struct {
	Paused                map[models.OperationClass]bool
	DailyExchangeUSDT     decimal.Decimal
	DailyWithdrawalINR    decimal.Decimal
	DailyWithdrawalUSDT   decimal.Decimal
	MinUSDTWithdrawal     decimal.Decimal
	USDTWithdrawalFee     decimal.Decimal
	ExchangeSpreadPercent decimal.Decimal
}

func (s Settings) clone() Settings {
	out := s
	out.Paused = make(map[models.OperationClass]bool, len(s.Paused))
	for k, v := range s.Paused {
		out.Paused[k] = v
	}
	return out
}

// SettingsProvider is the live configuration source.
type SettingsProvider interface {
	Settings(ctx context.Context) Settings
}

var decimalSettings = map[string]func(*Settings, decimal.Decimal){
	"daily_exchange_usdt":     func(s *Settings, v decimal.Decimal) { s.DailyExchangeUSDT = v },
	"daily_withdrawal_inr":    func(s *Settings, v decimal.Decimal) { s.DailyWithdrawalINR = v },
	"daily_withdrawal_usdt":   func(s *Settings, v decimal.Decimal) { s.DailyWithdrawalUSDT = v },
	"min_usdt_withdrawal":     func(s *Settings, v decimal.Decimal) { s.MinUSDTWithdrawal = v },
	"usdt_withdrawal_fee":     func(s *Settings, v decimal.Decimal) { s.USDTWithdrawalFee = v },
	"exchange_spread_percent": func(s *Settings, v decimal.Decimal) { s.ExchangeSpreadPercent = v },
}

var switchSettings = map[string]models.OperationClass{
	"deposits_enabled":         models.ClassDeposits,
	"exchanges_enabled":        models.ClassExchanges,
	"withdrawals_enabled":      models.ClassWithdrawals,
	"usdt_withdrawals_enabled": models.ClassUSDTWithdrawals,
}

// ConfigService reads system_settings with a refresh TTL. Unset keys and an
// unreadable table fall back to the static defaults.
type ConfigService struct {
	db       *sql.DB
	defaults Settings
	ttl      time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	cached   *Settings
	loadedAt time.Time
}

func NewConfigService(db *sql.DB, limits config.LimitsConfig, ttl time.Duration, logger zerolog.Logger) (*ConfigService, error) {
	defaults, err := defaultSettings(limits)
	if err != nil {
		return nil, err
	}
	return &ConfigService{
		db:       db,
		defaults: defaults,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func defaultSettings(limits config.LimitsConfig) (Settings, error) {
	s := Settings{Paused: make(map[models.OperationClass]bool)}
	values := map[string]string{
		"daily_exchange_usdt":     limits.DailyExchangeUSDT,
		"daily_withdrawal_inr":    limits.DailyWithdrawalINR,
		"daily_withdrawal_usdt":   limits.DailyWithdrawalUSDT,
		"min_usdt_withdrawal":     limits.MinUSDTWithdrawal,
		"usdt_withdrawal_fee":     limits.USDTWithdrawalFee,
		"exchange_spread_percent": limits.ExchangeSpreadPercent,
	}
	for key, raw := range values {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return s, fmt.Errorf("invalid default %s %q: %w", key, raw, err)
		}
		decimalSettings[key](&s, v)
	}
	for _, p := range limits.Paused {
		class := models.OperationClass(p)
		if !class.Valid() {
			return s, fmt.Errorf("invalid paused class %q", p)
		}
		s.Paused[class] = true
	}
	return s, nil
}

func (c *ConfigService) Settings(ctx context.Context) Settings {
	c.mu.RLock()
	if c.cached != nil && c.now().Sub(c.loadedAt) < c.ttl {
		s := c.cached.clone()
		c.mu.RUnlock()
		return s
	}
	c.mu.RUnlock()

	loaded, err := c.load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to load system settings, using last known values")
		if c.cached != nil {
			return c.cached.clone()
		}
		return c.defaults.clone()
	}
	c.cached = &loaded
	c.loadedAt = c.now()
	return loaded.clone()
}

func (c *ConfigService) load(ctx context.Context) (Settings, error) {
	s := c.defaults.clone()
	rows, err := c.db.QueryContext(ctx, `SELECT key, value FROM system_settings`)
	if err != nil {
		return s, err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return s, err
		}
		if err := applySetting(&s, key, value); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("ignoring invalid system setting")
		}
	}
	return s, rows.Err()
}

func applySetting(s *Settings, key, value string) error {
	if class, ok := switchSettings[key]; ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidInput, key)
		}
		s.Paused[class] = !enabled
		return nil
	}
	if set, ok := decimalSettings[key]; ok {
		v, err := decimal.NewFromString(value)
		if err != nil || v.IsNegative() {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidInput, key)
		}
		set(s, v)
		return nil
	}
	return fmt.Errorf("%w: unknown setting %s", ErrInvalidInput, key)
}

// Update upserts one setting and drops the cache so the next read sees it.
func (c *ConfigService) Update(ctx context.Context, key, value string) error {
	scratch := c.defaults.clone()
	if err := applySetting(&scratch, key, value); err != nil {
		return err
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("update setting %s: %w", key, err)
	}

	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	return nil
}
