package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/usdtpay/settlement/internal/docs"
	mW "github.com/usdtpay/settlement/internal/middleware"
)

type RouterConfig struct {
	Wallet      *WalletHandler
	Exchange    *ExchangeHandler
	Withdrawals *WithdrawalHandler
	Webhooks    *WebhookHandler
	Admin       *AdminHandler
	Health      *HealthHandler
	Metrics     http.Handler

	JWTSecret      string
	AllowedOrigins []string
	Logger         zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mW.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(mW.SecurityHeaders)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		// authenticated by signature, not by token
		r.Post("/webhooks/payout", cfg.Webhooks.Payout)

		r.Group(func(r chi.Router) {
			r.Use(mW.Auth(cfg.JWTSecret))

			r.Get("/wallet/balance", cfg.Wallet.Balance)
			r.Get("/wallet/history", cfg.Wallet.History)
			r.Post("/wallet/deposit-address", cfg.Wallet.DepositAddress)

			r.Get("/exchange/rate", cfg.Exchange.Rate)
			r.Post("/exchange/orders", cfg.Exchange.CreateOrder)
			r.Get("/exchange/orders", cfg.Exchange.ListOrders)

			r.Post("/withdrawals/usdt", cfg.Withdrawals.Create)
			r.Get("/withdrawals/usdt", cfg.Withdrawals.List)

			r.Route("/admin", func(r chi.Router) {
				r.Use(mW.RequireRole(mW.RoleAdmin))

				r.Post("/exchange-orders/{id}/approve", cfg.Admin.ApproveOrder)
				r.Post("/exchange-orders/{id}/reject", cfg.Admin.RejectOrder)
				r.Post("/credits", cfg.Admin.Credit)
				r.Put("/settings/{key}", cfg.Admin.UpdateSetting)
			})
		})
	})

	return r
}
