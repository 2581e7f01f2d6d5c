package models

// OperationClass groups operations for pause switches and daily limits
type OperationClass string

const (
	ClassDeposits        OperationClass = "deposits"
	ClassExchanges       OperationClass = "exchanges"
	ClassWithdrawals     OperationClass = "withdrawals"
	ClassUSDTWithdrawals OperationClass = "usdt_withdrawals"
)

func (c OperationClass) Valid() bool {
	switch c {
	case ClassDeposits, ClassExchanges, ClassWithdrawals, ClassUSDTWithdrawals:
		return true
	}
	return false
}

// AuditEntry is one row of the append-only audit trail
type AuditEntry struct {
	ActorType   string         `json:"actor_type"` // user, admin or system
	ActorID     string         `json:"actor_id"`
	Action      string         `json:"action"`
	ReferenceID string         `json:"reference_id"`
	Metadata    map[string]any `json:"metadata"`
}
