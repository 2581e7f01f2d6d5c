package workers

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/services"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func amountEq(s string) any {
	want := d(s)
	return mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(want) })
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testAudit() *audit.Logger {
	return audit.NewLogger(nil, testLogger())
}

type memBalance struct {
	available, locked, settled decimal.Decimal
}

type memLock struct {
	userID   string
	amount   decimal.Decimal
	terminal models.EntryKind
}

// memLedger keeps the same movement rules as the SQL ledger in memory.
type memLedger struct {
	mu       sync.Mutex
	accounts map[string]*memBalance
	credits  map[string]string
	locks    map[string]*memLock
	entries  []models.EntryKind
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts: map[string]*memBalance{},
		credits:  map[string]string{},
		locks:    map[string]*memLock{},
	}
}

func (l *memLedger) account(userID string) *memBalance {
	a, ok := l.accounts[userID]
	if !ok {
		a = &memBalance{}
		l.accounts[userID] = a
	}
	return a
}

func (l *memLedger) CreditDeposit(_ context.Context, userID string, amount decimal.Decimal, txHash, _ string) (*services.LedgerResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if owner, ok := l.credits[txHash]; ok {
		if owner != userID {
			return nil, services.ErrReferenceConflict
		}
		return &services.LedgerResult{Kind: models.EntryDeposit, Amount: amount}, nil
	}
	l.credits[txHash] = userID
	a := l.account(userID)
	a.available = a.available.Add(amount)
	l.entries = append(l.entries, models.EntryDeposit)
	return &services.LedgerResult{Applied: true, Kind: models.EntryDeposit, Amount: amount}, nil
}

func (l *memLedger) LockFunds(userID string, amount decimal.Decimal, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[ref]; ok {
		return nil
	}
	a := l.account(userID)
	if a.available.LessThan(amount) {
		return services.ErrInsufficientFunds
	}
	a.available = a.available.Sub(amount)
	a.locked = a.locked.Add(amount)
	l.locks[ref] = &memLock{userID: userID, amount: amount}
	l.entries = append(l.entries, models.EntryLock)
	return nil
}

func (l *memLedger) close(userID string, amount decimal.Decimal, ref string, kind models.EntryKind) (*services.LedgerResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[ref]
	if !ok || lk.userID != userID {
		return nil, services.ErrLockNotFound
	}
	if !lk.amount.Equal(amount) {
		return nil, services.ErrReferenceConflict
	}
	if lk.terminal != "" {
		return &services.LedgerResult{Kind: lk.terminal, Amount: amount}, nil
	}
	a := l.account(userID)
	a.locked = a.locked.Sub(amount)
	if kind == models.EntryFinalize {
		a.settled = a.settled.Add(amount)
	} else {
		a.available = a.available.Add(amount)
	}
	lk.terminal = kind
	l.entries = append(l.entries, kind)
	return &services.LedgerResult{Applied: true, Kind: kind, Amount: amount}, nil
}

func (l *memLedger) Balance(userID string) memBalance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.account(userID)
}

func (l *memLedger) Total(userID string) decimal.Decimal {
	b := l.Balance(userID)
	return b.available.Add(b.locked).Add(b.settled)
}

func (l *memLedger) Count(kind models.EntryKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, k := range l.entries {
		if k == kind {
			n++
		}
	}
	return n
}

type memDeposits struct {
	mu     sync.Mutex
	rows   []*models.DepositAddress
	keys   map[string]string
	sweeps map[string]string
}

func newMemDeposits(addrs ...models.DepositAddress) *memDeposits {
	m := &memDeposits{keys: map[string]string{}, sweeps: map[string]string{}}
	for i := range addrs {
		a := addrs[i]
		m.rows = append(m.rows, &a)
		m.keys[a.ID] = "key-" + a.ID
	}
	return m
}

func (m *memDeposits) ListUnused(_ context.Context) ([]models.DepositAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DepositAddress
	for _, r := range m.rows {
		if !r.IsUsed {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memDeposits) MarkUsed(_ context.Context, id string, observed decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id && !r.IsUsed {
			r.IsUsed = true
			r.LastObservedBalance = observed
			return true, nil
		}
	}
	return false, nil
}

func (m *memDeposits) Get(_ context.Context, id string) (*models.DepositAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, fmt.Errorf("deposit address %w", services.ErrNotFound)
}

func (m *memDeposits) DecryptKey(addr *models.DepositAddress) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[addr.ID]
	return k, ok
}

func (m *memDeposits) RecordSweep(_ context.Context, id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			h := txHash
			r.SweepTxHash = &h
			m.sweeps[id] = txHash
		}
	}
	return nil
}

func (m *memDeposits) used(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r.IsUsed
		}
	}
	return false
}

// memWithdrawals mirrors WithdrawalService: the row transition and the ledger
// call happen under one lock.
type memWithdrawals struct {
	mu     sync.Mutex
	ledger *memLedger
	rows   map[string]*models.UsdtWithdrawal
	seq    int
}

func newMemWithdrawals(ledger *memLedger) *memWithdrawals {
	return &memWithdrawals{ledger: ledger, rows: map[string]*models.UsdtWithdrawal{}}
}

func (m *memWithdrawals) create(userID, to, amount, fee string) (*models.UsdtWithdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	w := &models.UsdtWithdrawal{
		ID:                 fmt.Sprintf("wd-%d", m.seq),
		UserID:             userID,
		DestinationAddress: to,
		UsdtAmount:         d(amount),
		Fee:                d(fee),
		Status:             models.WithdrawalPending,
		CreatedAt:          time.Now().Add(time.Duration(m.seq) * time.Millisecond),
	}
	if err := m.ledger.LockFunds(userID, w.LockedAmount(), w.ID); err != nil {
		return nil, err
	}
	m.rows[w.ID] = w
	c := *w
	return &c, nil
}

func (m *memWithdrawals) list(status string, limit int) []models.UsdtWithdrawal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UsdtWithdrawal
	for _, r := range m.rows {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memWithdrawals) ListPending(_ context.Context, limit int) ([]models.UsdtWithdrawal, error) {
	return m.list(models.WithdrawalPending, limit), nil
}

func (m *memWithdrawals) ListProcessing(_ context.Context) ([]models.UsdtWithdrawal, error) {
	return m.list(models.WithdrawalProcessing, 0), nil
}

func (m *memWithdrawals) MarkProcessing(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != models.WithdrawalPending {
		return false, nil
	}
	r.Status = models.WithdrawalProcessing
	return true, nil
}

func (m *memWithdrawals) ReleaseClaim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != models.WithdrawalProcessing || r.TxHash != nil {
		return false, nil
	}
	r.Status = models.WithdrawalPending
	return true, nil
}

func (m *memWithdrawals) SetTxHash(_ context.Context, id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		h := txHash
		r.TxHash = &h
	}
	return nil
}

func (m *memWithdrawals) Complete(_ context.Context, w *models.UsdtWithdrawal) (bool, error) {
	return m.settle(w.ID, models.EntryFinalize, "")
}

func (m *memWithdrawals) FailAndRefund(_ context.Context, w *models.UsdtWithdrawal, reason string) (bool, error) {
	return m.settle(w.ID, models.EntryRefund, reason)
}

func (m *memWithdrawals) settle(id string, kind models.EntryKind, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return false, services.ErrOrderNotFound
	}
	if r.Status == models.WithdrawalCompleted || r.Status == models.WithdrawalFailed {
		return false, nil
	}
	res, err := m.ledger.close(r.UserID, r.LockedAmount(), r.ID, kind)
	if err != nil {
		return false, err
	}
	if res.Kind == models.EntryFinalize {
		r.Status = models.WithdrawalCompleted
	} else {
		r.Status, r.FailureReason = models.WithdrawalFailed, reason
	}
	return true, nil
}

func (m *memWithdrawals) get(id string) models.UsdtWithdrawal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}
