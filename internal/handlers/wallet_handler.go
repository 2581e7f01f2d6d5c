package handlers

import (
	"context"
	"net/http"

	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/services"
)

type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (*models.Balance, error)
	History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}

type AddressIssuer interface {
	IssueAddress(ctx context.Context, userID string) (*services.IssuedAddress, error)
}

type WalletHandler struct {
	ledger   BalanceReader
	deposits AddressIssuer
}

func NewWalletHandler(ledger BalanceReader, deposits AddressIssuer) *WalletHandler {
	return &WalletHandler{ledger: ledger, deposits: deposits}
}

// Balance returns the caller's available, locked and settled USDT.
// @Summary Get wallet balance
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/balance [get]
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"currency": "USDT",
		"balance":  balance,
	})
}

// @Summary List ledger entries
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum entries"
// @Success 200 {object} map[string]interface{}
// @Router /wallet/history [get]
func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	entries, err := h.ledger.History(r.Context(), userID, queryLimit(r))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": entries,
	})
}

// DepositAddress hands out the caller's live deposit address, creating one
// when none is active.
// @Summary Issue deposit address
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 201 {object} map[string]interface{}
// @Failure 403 {object} services.ErrorResponse
// @Router /wallet/deposit-address [post]
func (h *WalletHandler) DepositAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	addr, err := h.deposits.IssueAddress(r.Context(), userID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"address":    addr.Address,
		"network":    "TRC20",
		"expires_at": addr.ExpiresAt,
		"qr_code":    addr.QRCode,
	})
}
