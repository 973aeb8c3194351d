package handler

import (
	"context"
	"time"

	"riplimit/internal/model"
	"riplimit/internal/service"

	"github.com/stretchr/testify/mock"
)

type mockAccounts struct{ mock.Mock }

func (m *mockAccounts) GetBalance(ctx context.Context, userID string) (*service.Balance, error) {
	args := m.Called(ctx, userID)
	if v := args.Get(0); v != nil {
		return v.(*service.Balance), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockMutator struct{ mock.Mock }

func (m *mockMutator) Credit(ctx context.Context, userID string, amount int64, txType model.TransactionType, meta service.CreditMeta) (*model.Transaction, error) {
	args := m.Called(ctx, userID, amount, txType, meta)
	if v := args.Get(0); v != nil {
		return v.(*model.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMutator) Adjust(ctx context.Context, caller model.Caller, userID string, delta int64, reason string) (*model.Transaction, error) {
	args := m.Called(ctx, caller, userID, delta, reason)
	if v := args.Get(0); v != nil {
		return v.(*model.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockHolds struct{ mock.Mock }

func (m *mockHolds) PlaceHold(ctx context.Context, userID, bidID, auctionID string, amount int64) (*model.Hold, error) {
	args := m.Called(ctx, userID, bidID, auctionID, amount)
	if v := args.Get(0); v != nil {
		return v.(*model.Hold), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockHolds) ResolveHold(ctx context.Context, bidID string, outcome model.HoldOutcome) (*service.ResolveResult, error) {
	args := m.Called(ctx, bidID, outcome)
	if v := args.Get(0); v != nil {
		return v.(*service.ResolveResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockHistory struct{ mock.Mock }

func (m *mockHistory) List(ctx context.Context, userID string, filter service.ListFilter) (*service.TransactionPage, error) {
	args := m.Called(ctx, userID, filter)
	if v := args.Get(0); v != nil {
		return v.(*service.TransactionPage), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAdmin struct{ mock.Mock }

func (m *mockAdmin) GetSystemStats(ctx context.Context, caller model.Caller) (*service.SystemStats, error) {
	args := m.Called(ctx, caller)
	if v := args.Get(0); v != nil {
		return v.(*service.SystemStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdmin) GetAccountDetail(ctx context.Context, caller model.Caller, userID string) (*service.AccountDetail, error) {
	args := m.Called(ctx, caller, userID)
	if v := args.Get(0); v != nil {
		return v.(*service.AccountDetail), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdmin) AuditAccount(ctx context.Context, caller model.Caller, userID string) (*service.AuditResult, error) {
	args := m.Called(ctx, caller, userID)
	if v := args.Get(0); v != nil {
		return v.(*service.AuditResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdmin) ListOpenHolds(ctx context.Context, caller model.Caller, olderThan time.Time, limit int) ([]*model.Hold, error) {
	args := m.Called(ctx, caller, olderThan, limit)
	if v := args.Get(0); v != nil {
		return v.([]*model.Hold), args.Error(1)
	}
	return nil, args.Error(1)
}
