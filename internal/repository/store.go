package repository

import (
	"context"
	"errors"
	"time"

	"riplimit/internal/model"
)

var (
	ErrOptimisticLock      = errors.New("optimistic lock conflict")
	ErrDuplicatePaymentRef = errors.New("duplicate payment reference")
)

// Store 账本存储抽象，MySQLStore 和 MemoryStore 两种实现
//
// 所有余额变动必须经过 RunAtomic：同一账户上的调用串行执行，
// fn 返回错误时不会留下任何账户、流水、冻结或消息的改动。
type Store interface {
	GetAccount(ctx context.Context, userID string) (*model.Account, error)
	RunAtomic(ctx context.Context, userID string, fn func(tx AtomicTx) error) error

	GetHold(ctx context.Context, bidID string) (*model.Hold, error)
	ListOpenHolds(ctx context.Context, olderThan time.Time, limit int) ([]*model.Hold, error)
	CountOpenHolds(ctx context.Context) (int64, error)

	QueryTransactions(ctx context.Context, q TransactionQuery) ([]*model.Transaction, int64, error)
	Aggregate(ctx context.Context) (*AccountTotals, error)
	ListAccountsUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*model.Account, error)
}

// AtomicTx 一次原子操作内可见的视图
// Account() 返回已加锁的账户副本，直接修改字段，提交时写回。
type AtomicTx interface {
	Account() *model.Account
	FindPurchase(paymentRef string) (*model.Transaction, error)
	GetHold(bidID string) (*model.Hold, error)
	CreateHold(h *model.Hold) error
	UpdateHold(h *model.Hold) error
	AppendTransaction(t *model.Transaction) error
	Enqueue(msg *model.OutboxMessage) error
}

type TransactionQuery struct {
	UserID    string
	Type      model.TransactionType // 为空表示不过滤
	Limit     int                   // <= 0 表示不限制
	Offset    int
	Ascending bool // 默认最新在前
}

type AccountTotals struct {
	TotalUsers            int64
	TotalAvailable        int64
	TotalBlocked          int64
	TotalLifetimeCredited int64
	TotalLifetimeDebited  int64
}

func accountChanged(before, after *model.Account) bool {
	return before.AvailableBalance != after.AvailableBalance ||
		before.BlockedBalance != after.BlockedBalance ||
		before.LifetimeCredited != after.LifetimeCredited ||
		before.LifetimeDebited != after.LifetimeDebited
}

var domainErrors = []error{
	model.ErrInvalidAmount,
	model.ErrInvalidArgument,
	model.ErrInvalidTransactionType,
	model.ErrInvalidOutcome,
	model.ErrInsufficientBalance,
	model.ErrDuplicateHold,
	model.ErrNoMatchingHold,
	model.ErrUnauthorized,
	model.ErrStoreUnavailable,
	model.ErrAccountNotFound,
	ErrDuplicatePaymentRef,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
