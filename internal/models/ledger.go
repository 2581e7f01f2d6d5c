package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind is the kind of movement recorded in the ledger log
type EntryKind string

const (
	EntryDeposit      EntryKind = "deposit"
	EntryManualCredit EntryKind = "manual_credit"
	EntryLock         EntryKind = "lock"
	EntryFinalize     EntryKind = "finalize"
	EntryRefund       EntryKind = "refund"
)

// IsTerminal reports whether the kind closes a lock
func (k EntryKind) IsTerminal() bool {
	return k == EntryFinalize || k == EntryRefund
}

type LedgerAccount struct {
	UserID           string          `json:"user_id" db:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	LockedBalance    decimal.Decimal `json:"locked_balance" db:"locked_balance"`
	SettledBalance   decimal.Decimal `json:"settled_balance" db:"settled_balance"`
	Version          int             `json:"-" db:"version"` // for optimistic locking
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

type LedgerEntry struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Kind        EntryKind       `json:"kind" db:"kind"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	ReferenceID string          `json:"reference_id" db:"reference_id"`
	Description string          `json:"description" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Balance is the read model returned to the request layer
type Balance struct {
	Available    decimal.Decimal `json:"available"`
	Locked       decimal.Decimal `json:"locked"`
	Settled      decimal.Decimal `json:"settled"`
	IsConsistent bool            `json:"is_consistent"`
}

// ReplayBalance rebuilds available/locked/settled from per-kind entry sums.
func ReplayBalance(sums map[EntryKind]decimal.Decimal) (available, locked, settled decimal.Decimal) {
	credit := sums[EntryDeposit].Add(sums[EntryManualCredit])
	available = credit.Sub(sums[EntryLock]).Add(sums[EntryRefund])
	locked = sums[EntryLock].Sub(sums[EntryFinalize]).Sub(sums[EntryRefund])
	settled = sums[EntryFinalize]
	return available, locked, settled
}
