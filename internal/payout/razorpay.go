package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type RazorpayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	AccountNumber string // merchant virtual account debited for payouts
	Timeout       time.Duration
}

// Razorpay pays out through the contacts -> fund accounts -> payouts flow.
type Razorpay struct {
	cfg        RazorpayConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewRazorpay(cfg RazorpayConfig, logger zerolog.Logger) *Razorpay {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Razorpay{cfg: cfg, httpClient: &http.Client{Timeout: timeout}, logger: logger}
}

func (r *Razorpay) Name() string { return "razorpay" }

type razorpayPayout struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	UTR           string `json:"utr"`
	ReferenceID   string `json:"reference_id"`
	FailureReason string `json:"failure_reason"`
	StatusDetails struct {
		Description string `json:"description"`
	} `json:"status_details"`
}

func (r *Razorpay) InitiatePayout(ctx context.Context, req Request) (*Result, error) {
	contactID := req.Bank.GatewayContactID
	if contactID == "" {
		var contact struct {
			ID string `json:"id"`
		}
		err := r.call(ctx, "/contacts", "", map[string]any{
			"name":         req.Bank.AccountHolderName,
			"type":         "customer",
			"reference_id": req.UserID,
		}, &contact)
		if err != nil {
			return nil, fmt.Errorf("create contact: %w", err)
		}
		contactID = contact.ID
	}

	var fundAccount struct {
		ID string `json:"id"`
	}
	err := r.call(ctx, "/fund_accounts", "", map[string]any{
		"contact_id":   contactID,
		"account_type": "bank_account",
		"bank_account": map[string]string{
			"name":           req.Bank.AccountHolderName,
			"ifsc":           req.Bank.IFSCCode,
			"account_number": req.Bank.AccountNumber,
		},
	}, &fundAccount)
	if err != nil {
		return nil, fmt.Errorf("create fund account: %w", err)
	}

	var p razorpayPayout
	err = r.call(ctx, "/payouts", req.OrderID, map[string]any{
		"account_number":       r.cfg.AccountNumber,
		"fund_account_id":      fundAccount.ID,
		"amount":               req.Amount.Shift(2).Round(0).IntPart(), // paise
		"currency":             "INR",
		"mode":                 "IMPS",
		"purpose":              "payout",
		"queue_if_low_balance": true,
		"reference_id":         req.OrderID,
		"narration":            "USDT exchange payout",
	}, &p)
	if err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}

	status := mapRazorpayStatus(p.Status)
	r.logger.Info().Str("order_id", req.OrderID).Str("payout_id", p.ID).Str("status", p.Status).Msg("payout created")
	return &Result{
		Status:    status,
		RefID:     firstNonEmpty(p.UTR, p.ID),
		Reason:    firstNonEmpty(p.FailureReason, p.StatusDetails.Description),
		ContactID: contactID,
	}, nil
}

func mapRazorpayStatus(s string) Status {
	switch s {
	case "processed":
		return StatusSuccess
	case "reversed", "rejected", "failed", "cancelled":
		return StatusFailed
	default:
		return StatusProcessing
	}
}

func (r *Razorpay) ParseWebhook(body []byte) (*Event, error) {
	var payload struct {
		Event   string `json:"event"`
		Payload struct {
			Payout struct {
				Entity razorpayPayout `json:"entity"`
			} `json:"payout"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	entity := payload.Payload.Payout.Entity
	var status Status
	switch payload.Event {
	case "payout.processed":
		status = StatusSuccess
	case "payout.reversed", "payout.rejected", "payout.failed":
		status = StatusFailed
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, payload.Event)
	}
	if entity.ReferenceID == "" {
		return nil, fmt.Errorf("%w: missing reference_id", ErrMalformedWebhook)
	}

	return &Event{
		OrderID: entity.ReferenceID,
		RefID:   firstNonEmpty(entity.UTR, entity.ID),
		Status:  status,
		Reason:  firstNonEmpty(entity.FailureReason, entity.StatusDetails.Description, payload.Event),
	}, nil
}

func (r *Razorpay) call(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Payout-Idempotency", idempotencyKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		json.Unmarshal(data, &apiErr)
		return fmt.Errorf("%s returned %d: %s %s", path, resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
	}
	return json.Unmarshal(data, out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
