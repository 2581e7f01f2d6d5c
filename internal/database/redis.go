package database

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/usdtpay/settlement/internal/config"
)

// InitRedis returns nil when Redis is unreachable; callers fall back to
// in-process caching and goroutine sweeps.
func InitRedis(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		rdb.Close()
		return nil
	}

	logger.Info().Msg("redis connection established")
	return rdb
}
