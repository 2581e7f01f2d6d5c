package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/usdtpay/settlement/internal/services"
)

// Razorpay sends its own header; ISO 20022 bank hosts use the generic one.
var signatureHeaders = []string{"X-Razorpay-Signature", "X-Payout-Signature"}

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) error
}

type WebhookHandler struct {
	payouts WebhookProcessor
	logger  zerolog.Logger
}

func NewWebhookHandler(payouts WebhookProcessor, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{payouts: payouts, logger: logger}
}

// Payout verifies the signature over the raw body before anything is parsed.
// @Summary Payout gateway webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} services.ErrorResponse
// @Router /webhooks/payout [post]
func (h *WebhookHandler) Payout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	var signature string
	for _, name := range signatureHeaders {
		if signature = r.Header.Get(name); signature != "" {
			break
		}
	}

	if err := h.payouts.HandleWebhook(r.Context(), body, signature); err != nil {
		h.logger.Warn().Err(err).Msg("payout webhook rejected")
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
