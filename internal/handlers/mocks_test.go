package handlers

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/services"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Balance), args.Error(1)
}

func (m *MockLedger) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

func (m *MockLedger) ManualCredit(ctx context.Context, userID string, amount decimal.Decimal, referenceID, description string) (*services.LedgerResult, error) {
	args := m.Called(ctx, userID, amount, referenceID, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LedgerResult), args.Error(1)
}

type MockDeposits struct {
	mock.Mock
}

func (m *MockDeposits) IssueAddress(ctx context.Context, userID string) (*services.IssuedAddress, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.IssuedAddress), args.Error(1)
}

type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) GetRate(ctx context.Context) decimal.Decimal {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal)
}

func (m *MockExchange) CreateOrder(ctx context.Context, req services.CreateExchangeRequest) (*models.ExchangeOrder, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExchangeOrder), args.Error(1)
}

func (m *MockExchange) ListOrders(ctx context.Context, userID string, limit int) ([]models.ExchangeOrder, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ExchangeOrder), args.Error(1)
}

func (m *MockExchange) ApproveOrder(ctx context.Context, orderID, adminID string) (*models.ExchangeOrder, error) {
	args := m.Called(ctx, orderID, adminID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExchangeOrder), args.Error(1)
}

func (m *MockExchange) RejectOrder(ctx context.Context, orderID, adminID, reason string) (*models.ExchangeOrder, error) {
	args := m.Called(ctx, orderID, adminID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExchangeOrder), args.Error(1)
}

type MockWithdrawals struct {
	mock.Mock
}

func (m *MockWithdrawals) Create(ctx context.Context, req services.CreateWithdrawalRequest) (*models.UsdtWithdrawal, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UsdtWithdrawal), args.Error(1)
}

func (m *MockWithdrawals) ListByUser(ctx context.Context, userID string, limit int) ([]models.UsdtWithdrawal, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UsdtWithdrawal), args.Error(1)
}

type MockWebhooks struct {
	mock.Mock
}

func (m *MockWebhooks) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	args := m.Called(ctx, body, signature)
	return args.Error(0)
}

type MockSettings struct {
	mock.Mock
}

func (m *MockSettings) Update(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}
