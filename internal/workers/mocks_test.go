package workers

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/payout"
	"github.com/usdtpay/settlement/internal/services"
	"github.com/usdtpay/settlement/internal/tron"
)

type MockChain struct {
	mock.Mock
}

func (m *MockChain) GetTokenBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockChain) BroadcastTransfer(ctx context.Context, fromKey, to string, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, fromKey, to, amount)
	return args.String(0), args.Error(1)
}

func (m *MockChain) GetConfirmationStatus(ctx context.Context, txID string) (tron.ConfirmationStatus, error) {
	args := m.Called(ctx, txID)
	return args.Get(0).(tron.ConfirmationStatus), args.Error(1)
}

// MockIndexedChain also lists incoming transfers.
type MockIndexedChain struct {
	MockChain
}

func (m *MockIndexedChain) ListIncomingTransfers(ctx context.Context, address string) ([]tron.Transfer, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tron.Transfer), args.Error(1)
}

type MockPayoutStore struct {
	mock.Mock
}

func (m *MockPayoutStore) NextApproved(ctx context.Context) (*models.PayoutOrder, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PayoutOrder), args.Error(1)
}

func (m *MockPayoutStore) BankAccount(ctx context.Context, id string) (*models.BankAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BankAccount), args.Error(1)
}

func (m *MockPayoutStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockPayoutStore) Initiate(ctx context.Context, p *models.PayoutOrder, bank *models.BankAccount) (*payout.Result, error) {
	args := m.Called(ctx, p, bank)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payout.Result), args.Error(1)
}

func (m *MockPayoutStore) SaveContactID(ctx context.Context, bankAccountID, contactID string) error {
	args := m.Called(ctx, bankAccountID, contactID)
	return args.Error(0)
}

func (m *MockPayoutStore) SetGatewayRef(ctx context.Context, id, ref string) error {
	args := m.Called(ctx, id, ref)
	return args.Error(0)
}

func (m *MockPayoutStore) Settle(ctx context.Context, orderID string, outcome payout.Status, gatewayRef, reason string) (bool, error) {
	args := m.Called(ctx, orderID, outcome, gatewayRef, reason)
	return args.Bool(0), args.Error(1)
}

type MockWithdrawalReconciler struct {
	mock.Mock
}

func (m *MockWithdrawalReconciler) ListUnsettled(ctx context.Context) ([]models.UsdtWithdrawal, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UsdtWithdrawal), args.Error(1)
}

func (m *MockWithdrawalReconciler) Reconcile(ctx context.Context, w *models.UsdtWithdrawal) (*services.LedgerResult, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LedgerResult), args.Error(1)
}

type MockPayoutReconciler struct {
	mock.Mock
}

func (m *MockPayoutReconciler) ListUnsettled(ctx context.Context) ([]models.PayoutOrder, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PayoutOrder), args.Error(1)
}

func (m *MockPayoutReconciler) Reconcile(ctx context.Context, p *models.PayoutOrder) (*services.LedgerResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LedgerResult), args.Error(1)
}
