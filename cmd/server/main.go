package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/config"
	"github.com/usdtpay/settlement/internal/database"
	"github.com/usdtpay/settlement/internal/handlers"
	"github.com/usdtpay/settlement/internal/observability"
	"github.com/usdtpay/settlement/internal/payout"
	"github.com/usdtpay/settlement/internal/services"
	"github.com/usdtpay/settlement/internal/tron"
	"github.com/usdtpay/settlement/internal/vault"
	"github.com/usdtpay/settlement/internal/workers"
)

// @title USDT Settlement API
// @version 1.0
// @description USDT wallet, USDT/INR exchange and on-chain withdrawal API
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		bootLogger := observability.NewLogger("main")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	observability.SetLevel(cfg.Log.Level)
	logger := observability.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(ctx, cfg.Database, observability.NewLogger("database"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, observability.NewLogger("database")); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate schema")
		}
	}

	// nil when unreachable; rates and the sweep queue fall back to memory
	rdb := database.InitRedis(ctx, cfg.Redis, observability.NewLogger("redis"))
	if rdb != nil {
		defer rdb.Close()
	}

	keyVault, err := vault.New(cfg.Vault.Secret, cfg.Vault.Salt)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise key vault")
	}
	hotWalletKey, ok := keyVault.Decrypt(cfg.Tron.HotWalletKeyEncrypted)
	if !ok {
		logger.Fatal().Msg("failed to decrypt hot wallet key")
	}

	chain, err := tron.NewClient(tron.Config{
		BaseURL:      cfg.Tron.APIURL,
		APIKey:       cfg.Tron.APIKey,
		USDTContract: cfg.Tron.USDTContract,
		FeeLimitSun:  cfg.Tron.FeeLimitSun,
		Timeout:      cfg.Tron.Timeout,
	}, observability.NewLogger("tron"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create tron client")
	}

	gateway := newGateway(cfg.Payout, logger)
	metrics := observability.NewMetrics()
	auditLog := audit.NewLogger(db, observability.NewLogger("audit"))

	settings, err := services.NewConfigService(db, cfg.Limits, cfg.Workers.SettingsTTL, observability.NewLogger("settings"))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid limit configuration")
	}
	compliance := services.NewComplianceService(db, settings, observability.NewLogger("compliance"))
	ledger := services.NewLedgerService(db, observability.NewLogger("ledger"), metrics)
	rates, err := services.NewRateService(cfg.Exchange, rdb, settings, observability.NewLogger("rates"), metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid exchange configuration")
	}
	exchange := services.NewExchangeService(db, ledger, compliance, rates, auditLog, observability.NewLogger("exchange"))
	deposits := services.NewDepositService(db, keyVault, compliance, auditLog, observability.NewLogger("deposits"))
	withdrawals := services.NewWithdrawalService(db, ledger, compliance, settings, auditLog, observability.NewLogger("withdrawals"))
	payouts := services.NewPayoutService(db, ledger, gateway, cfg.Payout.WebhookSecret, auditLog, observability.NewLogger("payouts"), metrics)

	var queue workers.SweepQueue
	if rdb != nil {
		queue = workers.NewRedisSweepQueue(rdb, cfg.Workers.SweepQueue)
	} else {
		logger.Warn().Msg("redis unavailable, sweep jobs are held in memory")
		queue = workers.NewMemorySweepQueue(1024)
	}

	depositWorker := workers.NewDepositWorker(deposits, ledger, chain, queue, auditLog, observability.NewLogger("deposit_worker"), metrics)
	withdrawalWorker := workers.NewWithdrawalWorker(withdrawals, chain, hotWalletKey, cfg.Workers.WithdrawalBatch, observability.NewLogger("withdrawal_worker"), metrics)
	payoutWorker := workers.NewPayoutWorker(payouts, observability.NewLogger("payout_worker"))
	recovery := workers.NewRecovery(withdrawals, payouts, auditLog, observability.NewLogger("recovery"), metrics)
	sweeper := workers.NewSweeper(queue, deposits, chain, cfg.Tron.TreasuryAddress, auditLog, observability.NewLogger("sweeper"))

	schedulers := []*workers.Scheduler{
		workers.NewScheduler("deposits", cfg.Workers.DepositInterval, cfg.Workers.TickTimeout, depositWorker.Tick, observability.NewLogger("deposit_worker"), metrics),
		workers.NewScheduler("withdrawals", cfg.Workers.WithdrawalInterval, cfg.Workers.TickTimeout, withdrawalWorker.Tick, observability.NewLogger("withdrawal_worker"), metrics),
		workers.NewScheduler("payouts", cfg.Workers.PayoutInterval, cfg.Workers.TickTimeout, payoutWorker.Tick, observability.NewLogger("payout_worker"), metrics),
		workers.NewScheduler("recovery", cfg.Workers.RecoveryInterval, cfg.Workers.TickTimeout, recovery.Tick, observability.NewLogger("recovery"), metrics),
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, s := range schedulers {
		wg.Add(1)
		go func(s *workers.Scheduler) {
			defer wg.Done()
			s.Run(workerCtx)
		}(s)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(workerCtx)
	}()

	router := handlers.NewRouter(handlers.RouterConfig{
		Wallet:         handlers.NewWalletHandler(ledger, deposits),
		Exchange:       handlers.NewExchangeHandler(exchange),
		Withdrawals:    handlers.NewWithdrawalHandler(withdrawals),
		Webhooks:       handlers.NewWebhookHandler(payouts, observability.NewLogger("webhooks")),
		Admin:          handlers.NewAdminHandler(exchange, ledger, settings, auditLog),
		Health:         handlers.NewHealthHandler(db, rdb),
		Metrics:        metrics.Handler(),
		JWTSecret:      cfg.JWT.Secret,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         observability.NewLogger("http"),
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// in-flight ticks finish their current transaction before exit
	cancelWorkers()
	wg.Wait()
	logger.Info().Msg("server stopped")
}

func newGateway(cfg config.PayoutConfig, logger zerolog.Logger) payout.Gateway {
	switch cfg.Provider {
	case "iso20022":
		return payout.NewISO20022(payout.ISO20022Config{
			Endpoint:   cfg.BankEndpoint,
			DebtorName: cfg.DebtorName,
			DebtorBIC:  cfg.DebtorBIC,
			Timeout:    cfg.Timeout,
		}, observability.NewLogger("iso20022"))
	case "razorpay", "":
		return payout.NewRazorpay(payout.RazorpayConfig{
			BaseURL:       cfg.BaseURL,
			KeyID:         cfg.KeyID,
			KeySecret:     cfg.KeySecret,
			AccountNumber: cfg.AccountNumber,
			Timeout:       cfg.Timeout,
		}, observability.NewLogger("razorpay"))
	default:
		logger.Fatal().Str("provider", cfg.Provider).Msg("unknown payout provider")
		return nil
	}
}
