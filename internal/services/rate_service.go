package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/config"
	"github.com/usdtpay/settlement/internal/observability"
)

const rateCacheKey = "rate:usdt_inr"

var hundred = decimal.NewFromInt(100)

// RateService quotes the USDT/INR rate offered to users. The market rate is
// cached for the configured TTL, in Redis when available so all instances
// quote the same number.
type RateService struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	redis      *redis.Client
	settings   SettingsProvider
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu       sync.Mutex
	last     decimal.Decimal
	lastSeen time.Time
}

func NewRateService(cfg config.ExchangeConfig, rdb *redis.Client, settings SettingsProvider, logger zerolog.Logger, metrics *observability.Metrics) (*RateService, error) {
	fallback, err := decimal.NewFromString(cfg.DefaultRate)
	if err != nil || !fallback.IsPositive() {
		return nil, fmt.Errorf("exchange.default_rate %q is not a positive decimal", cfg.DefaultRate)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RateService{
		url:        cfg.RateURL,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		redis:      rdb,
		settings:   settings,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		last:       fallback,
	}, nil
}

// Rate is the market rate less the live spread, rounded to paise.
func (s *RateService) Rate(ctx context.Context) decimal.Decimal {
	market := s.MarketRate(ctx)
	spread := s.settings.Settings(ctx).ExchangeSpreadPercent
	factor := decimal.NewFromInt(1).Sub(spread.Div(hundred))
	return market.Mul(factor).Round(2)
}

// MarketRate never fails: on a source outage it returns the last known rate,
// which starts at the configured default.
func (s *RateService) MarketRate(ctx context.Context) decimal.Decimal {
	if rate, ok := s.cached(ctx); ok {
		s.metrics.RateFetched("cache")
		return rate
	}

	rate, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rate fetch failed, using last known rate")
		s.metrics.RateFetched("fallback")
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.last
	}

	s.mu.Lock()
	s.last = rate
	s.lastSeen = s.now()
	s.mu.Unlock()

	if s.redis != nil {
		if err := s.redis.Set(ctx, rateCacheKey, rate.String(), s.ttl).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache rate")
		}
	}
	s.metrics.RateFetched("api")
	return rate
}

func (s *RateService) cached(ctx context.Context) (decimal.Decimal, bool) {
	if s.redis != nil {
		val, err := s.redis.Get(ctx, rateCacheKey).Result()
		if err == nil {
			if rate, perr := decimal.NewFromString(val); perr == nil && rate.IsPositive() {
				return rate, true
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("rate cache unavailable")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastSeen.IsZero() && s.now().Sub(s.lastSeen) < s.ttl {
		return s.last, true
	}
	return decimal.Zero, false
}

func (s *RateService) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: rate source returned %d", ErrExternalUnavailable, resp.StatusCode)
	}

	var body struct {
		Tether struct {
			INR decimal.Decimal `json:"inr"`
		} `json:"tether"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate: %w", err)
	}
	if !body.Tether.INR.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate source returned no tether/inr price")
	}
	return body.Tether.INR, nil
}
