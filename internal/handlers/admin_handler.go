package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/middleware"
	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/services"
)

type OrderModerator interface {
	ApproveOrder(ctx context.Context, orderID, adminID string) (*models.ExchangeOrder, error)
	RejectOrder(ctx context.Context, orderID, adminID, reason string) (*models.ExchangeOrder, error)
}

type ManualCreditor interface {
	ManualCredit(ctx context.Context, userID string, amount decimal.Decimal, referenceID, description string) (*services.LedgerResult, error)
}

type SettingsUpdater interface {
	Update(ctx context.Context, key, value string) error
}

type AdminHandler struct {
	orders    OrderModerator
	ledger    ManualCreditor
	settings  SettingsUpdater
	audit     *audit.Logger
	validator *services.ValidationHelper
}

func NewAdminHandler(orders OrderModerator, ledger ManualCreditor, settings SettingsUpdater, auditLog *audit.Logger) *AdminHandler {
	return &AdminHandler{
		orders:    orders,
		ledger:    ledger,
		settings:  settings,
		audit:     auditLog,
		validator: services.NewValidationHelper(),
	}
}

// ApproveOrder hands a pending order to the payout pipeline.
// @Summary Approve a pending exchange order for payout
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/exchange-orders/{id}/approve [post]
func (h *AdminHandler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.ApproveOrder(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": order})
}

type rejectOrderRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// RejectOrder fails the order and returns the locked USDT to the user.
// @Summary Reject a pending exchange order and refund its lock
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Param body body rejectOrderRequest true "Reason"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/exchange-orders/{id}/reject [post]
func (h *AdminHandler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	var req rejectOrderRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	order, err := h.orders.RejectOrder(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()), req.Reason)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": order})
}

type manualCreditRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	Amount      string `json:"amount" validate:"required,usdt_amount"`
	ReferenceID string `json:"reference_id" validate:"required,max=128"`
	Description string `json:"description" validate:"max=500"`
}

// @Summary Manual credit
// @Description Idempotent by reference_id. 201 when applied, 200 for a repeat
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param credit body manualCreditRequest true "Credit"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/credits [post]
func (h *AdminHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req manualCreditRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	amount := decimal.RequireFromString(req.Amount)
	res, err := h.ledger.ManualCredit(r.Context(), req.UserID, amount, req.ReferenceID, req.Description)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	if res.Applied {
		h.audit.Log(r.Context(), models.AuditEntry{
			ActorType:   audit.ActorAdmin,
			ActorID:     middleware.UserID(r.Context()),
			Action:      "manual_credit",
			ReferenceID: req.ReferenceID,
			Metadata: map[string]any{
				"user_id":     req.UserID,
				"amount":      amount.String(),
				"description": req.Description,
			},
		})
	}

	status := http.StatusCreated
	if !res.Applied {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"success": true, "applied": res.Applied})
}

type updateSettingRequest struct {
	Value string `json:"value" validate:"required,max=64"`
}

// @Summary Update a live setting
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "Setting key"
// @Param body body updateSettingRequest true "Value"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/settings/{key} [put]
func (h *AdminHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req updateSettingRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.settings.Update(r.Context(), key, req.Value); err != nil {
		services.SendServiceError(w, err)
		return
	}

	h.audit.Log(r.Context(), models.AuditEntry{
		ActorType:   audit.ActorAdmin,
		ActorID:     middleware.UserID(r.Context()),
		Action:      "setting_updated",
		ReferenceID: key,
		Metadata:    map[string]any{"value": req.Value},
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "key": key, "value": req.Value})
}
