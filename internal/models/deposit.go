package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepositAddress struct {
	ID                  string          `json:"id" db:"id"`
	UserID              string          `json:"user_id" db:"user_id"`
	Address             string          `json:"address" db:"address"`
	PrivateKeyEncrypted string          `json:"-" db:"private_key_encrypted"`
	ExpiresAt           time.Time       `json:"expires_at" db:"expires_at"`
	IsUsed              bool            `json:"is_used" db:"is_used"`
	LastObservedBalance decimal.Decimal `json:"last_observed_balance" db:"last_observed_balance"`
	SweepTxHash         *string         `json:"sweep_tx_hash,omitempty" db:"sweep_tx_hash"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// Expired addresses are still scanned; expiry only stops them being handed out.
func (d *DepositAddress) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}
