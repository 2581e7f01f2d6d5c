package payout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/usdtpay/settlement/internal/models"
)

type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusProcessing Status = "PROCESSING"
)

var (
	ErrUnavailable      = errors.New("payout gateway unavailable")
	ErrUnhandledEvent   = errors.New("unhandled webhook event")
	ErrMalformedWebhook = errors.New("malformed webhook payload")
)

// Request is one INR bank payout for an approved exchange order.
type Request struct {
	OrderID string
	UserID  string
	Amount  decimal.Decimal // INR, 2 dp
	Bank    models.BankAccount
}

type Result struct {
	Status    Status
	RefID     string
	Reason    string
	ContactID string // gateway-side beneficiary id, cached on the bank account
}

// Event is a terminal status pushed by the gateway.
type Event struct {
	OrderID string
	RefID   string
	Status  Status
	Reason  string
}

// Gateway is the banking rail used to pay INR out.
type Gateway interface {
	Name() string
	InitiatePayout(ctx context.Context, req Request) (*Result, error)
	ParseWebhook(body []byte) (*Event, error)
}

// VerifySignature checks a hex HMAC-SHA256 of the raw body in constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, computeMAC(body, secret))
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	return hex.EncodeToString(computeMAC(body, secret))
}

func computeMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
