package handlers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/services"
)

type Exchanger interface {
	GetRate(ctx context.Context) decimal.Decimal
	CreateOrder(ctx context.Context, req services.CreateExchangeRequest) (*models.ExchangeOrder, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]models.ExchangeOrder, error)
}

type ExchangeHandler struct {
	exchange  Exchanger
	validator *services.ValidationHelper
}

func NewExchangeHandler(exchange Exchanger) *ExchangeHandler {
	return &ExchangeHandler{
		exchange:  exchange,
		validator: services.NewValidationHelper(),
	}
}

type createOrderRequest struct {
	UsdtAmount     string              `json:"usdt_amount" validate:"required,usdt_amount"`
	BankAccountID  string              `json:"bank_account_id" validate:"omitempty,uuid"`
	BankDetails    *models.BankDetails `json:"bank_details" validate:"required_without=BankAccountID"`
	IdempotencyKey string              `json:"idempotency_key" validate:"omitempty,max=64"`
}

// @Summary Current USDT/INR rate after spread
// @Tags exchange
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /exchange/rate [get]
func (h *ExchangeHandler) Rate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"pair":    "USDT/INR",
		"rate":    h.exchange.GetRate(r.Context()),
	})
}

// CreateOrder locks the USDT and records a pending exchange order. Retries
// with the same idempotency key return the original order.
// @Summary Create exchange order
// @Tags exchange
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Idempotency key"
// @Param order body createOrderRequest true "Order"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /exchange/orders [post]
func (h *ExchangeHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	order, err := h.exchange.CreateOrder(r.Context(), services.CreateExchangeRequest{
		UserID:         userID,
		UsdtAmount:     decimal.RequireFromString(req.UsdtAmount),
		BankAccountID:  req.BankAccountID,
		BankDetails:    req.BankDetails,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"order":   order,
	})
}

// @Summary List exchange orders
// @Tags exchange
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum orders"
// @Success 200 {object} map[string]interface{}
// @Router /exchange/orders [get]
func (h *ExchangeHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	orders, err := h.exchange.ListOrders(r.Context(), userID, queryLimit(r))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"orders":  orders,
	})
}
