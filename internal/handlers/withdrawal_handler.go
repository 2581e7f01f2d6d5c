package handlers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/services"
)

type Withdrawer interface {
	Create(ctx context.Context, req services.CreateWithdrawalRequest) (*models.UsdtWithdrawal, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.UsdtWithdrawal, error)
}

type WithdrawalHandler struct {
	withdrawals Withdrawer
	validator   *services.ValidationHelper
}

func NewWithdrawalHandler(withdrawals Withdrawer) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		validator:   services.NewValidationHelper(),
	}
}

type createWithdrawalRequest struct {
	Address        string `json:"address" validate:"required,tron_address"`
	Amount         string `json:"amount" validate:"required,usdt_amount"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=64"`
}

// Create locks amount plus fee and queues the on-chain transfer.
// @Summary Create USDT withdrawal
// @Tags withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Idempotency key"
// @Param withdrawal body createWithdrawalRequest true "Withdrawal"
// @Success 201 {object} map[string]interface{}
// @Failure 422 {object} services.ErrorResponse
// @Router /withdrawals/usdt [post]
func (h *WithdrawalHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createWithdrawalRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	wd, err := h.withdrawals.Create(r.Context(), services.CreateWithdrawalRequest{
		UserID:         userID,
		Address:        req.Address,
		Amount:         decimal.RequireFromString(req.Amount),
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"withdrawal": wd,
	})
}

// @Summary List USDT withdrawals
// @Tags withdrawals
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum withdrawals"
// @Success 200 {object} map[string]interface{}
// @Router /withdrawals/usdt [get]
func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.withdrawals.ListByUser(r.Context(), userID, queryLimit(r))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"withdrawals": list,
	})
}
