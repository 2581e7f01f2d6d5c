package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange order statuses
const (
	ExchangePending    = "pending"
	ExchangeProcessing = "processing"
	ExchangeApproved   = "approved"
	ExchangeCompleted  = "completed"
	ExchangeFailed     = "failed"
)

// USDT withdrawal statuses
const (
	WithdrawalPending    = "pending"
	WithdrawalProcessing = "processing"
	WithdrawalCompleted  = "completed"
	WithdrawalFailed     = "failed"
)

// Payout order statuses
const (
	PayoutApproved   = "APPROVED"
	PayoutProcessing = "PROCESSING"
	PayoutCompleted  = "COMPLETED"
	PayoutFailed     = "FAILED"
)

type ExchangeOrder struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	UsdtAmount     decimal.Decimal `json:"usdt_amount" db:"usdt_amount"`
	InrAmount      decimal.Decimal `json:"inr_amount" db:"inr_amount"`
	Rate           decimal.Decimal `json:"rate" db:"rate"`
	BankAccountID  string          `json:"bank_account_id" db:"bank_account_id"`
	Status         string          `json:"status" db:"status"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	FailureReason  string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

type UsdtWithdrawal struct {
	ID                 string          `json:"id" db:"id"`
	UserID             string          `json:"user_id" db:"user_id"`
	DestinationAddress string          `json:"destination_address" db:"destination_address"`
	UsdtAmount         decimal.Decimal `json:"usdt_amount" db:"usdt_amount"`
	Fee                decimal.Decimal `json:"fee" db:"fee"`
	Status             string          `json:"status" db:"status"`
	TxHash             *string         `json:"tx_hash" db:"tx_hash"`
	FailureReason      string          `json:"failure_reason,omitempty" db:"failure_reason"`
	IdempotencyKey     string          `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// LockedAmount is what the ledger holds against the withdrawal.
func (w *UsdtWithdrawal) LockedAmount() decimal.Decimal {
	return w.UsdtAmount.Add(w.Fee)
}

type PayoutOrder struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	UsdtAmount    decimal.Decimal `json:"usdt_amount" db:"usdt_amount"`
	InrAmount     decimal.Decimal `json:"inr_amount" db:"inr_amount"`
	BankAccountID string          `json:"bank_account_id" db:"bank_account_id"`
	Status        string          `json:"status" db:"status"`
	GatewayRefID  string          `json:"gateway_ref_id,omitempty" db:"gateway_ref_id"`
	FailureReason string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

type BankAccount struct {
	ID                string `json:"id" db:"id"`
	UserID            string `json:"user_id" db:"user_id"`
	AccountHolderName string `json:"account_holder_name" db:"account_holder_name"`
	AccountNumber     string `json:"account_number" db:"account_number"`
	IFSCCode          string `json:"ifsc_code" db:"ifsc_code"`
	BankName          string `json:"bank_name" db:"bank_name"`
	GatewayContactID  string `json:"-" db:"gateway_contact_id"`
}

// BankDetails is the inline bank account submitted with an exchange request
type BankDetails struct {
	AccountNumber     string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	IFSC              string `json:"ifsc" validate:"required,len=11,alphanum"`
	AccountHolderName string `json:"account_holder_name" validate:"required,max=140"`
}
