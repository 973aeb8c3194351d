package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"riplimit/internal/infrastructure/lock"
	"riplimit/internal/model"
	"riplimit/internal/repository"
	"riplimit/pkg/idgen"

	"github.com/stretchr/testify/require"
)

var (
	admin = model.Caller{UserID: "admin-1", Role: model.RoleAdmin}
	buyer = model.Caller{UserID: "u1", Role: model.RoleUser}
)

type testLedger struct {
	store   *repository.MemoryStore
	mutator *Mutator
	holds   *HoldManager
	history *HistoryService
	admin   *AdminService
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	store := repository.NewMemoryStore()
	return newTestLedgerWithStore(t, store, store)
}

// newTestLedgerWithStore inner 用于直接断言状态，store 可以是包装后的故障注入实现
func newTestLedgerWithStore(t *testing.T, inner *repository.MemoryStore, store repository.Store) *testLedger {
	t.Helper()
	ids, err := idgen.New(1)
	require.NoError(t, err)

	mutator := NewMutator(store, ids, "ledger.events")
	return &testLedger{
		store:   inner,
		mutator: mutator,
		holds:   NewHoldManager(mutator, store, lock.NewLocalLocker(), 2, 100),
		history: NewHistoryService(store, 20, 100),
		admin:   NewAdminService(store, nil, 10, 100),
	}
}

func (l *testLedger) account(t *testing.T, userID string) *model.Account {
	t.Helper()
	acc, err := l.store.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	return acc
}

func (l *testLedger) transactions(t *testing.T, userID string) []*model.Transaction {
	t.Helper()
	list, _, err := l.store.QueryTransactions(context.Background(), repository.TransactionQuery{UserID: userID, Ascending: true})
	require.NoError(t, err)
	return list
}

func (l *testLedger) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := l.mutator.Credit(context.Background(), userID, amount, model.TransactionTypePurchase, CreditMeta{})
	require.NoError(t, err)
}

// flakyStore 让前 failures 次 RunAtomic 返回 ErrStoreUnavailable
// commitBeforeFail 为 true 时先真正提交再报错，模拟提交后连接中断
type flakyStore struct {
	*repository.MemoryStore

	mu               sync.Mutex
	failures         int
	commitBeforeFail bool
	calls            int
}

func (f *flakyStore) RunAtomic(ctx context.Context, userID string, fn func(tx repository.AtomicTx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if !fail {
		return f.MemoryStore.RunAtomic(ctx, userID, fn)
	}
	if f.commitBeforeFail {
		if err := f.MemoryStore.RunAtomic(ctx, userID, fn); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: connection reset", model.ErrStoreUnavailable)
}

// brokenReads 让聚合类读操作失败
type brokenReads struct {
	*repository.MemoryStore
	aggregate bool
	holds     bool
	query     bool
}

func (b *brokenReads) Aggregate(ctx context.Context) (*repository.AccountTotals, error) {
	if b.aggregate {
		return nil, fmt.Errorf("%w: timeout", model.ErrStoreUnavailable)
	}
	return b.MemoryStore.Aggregate(ctx)
}

func (b *brokenReads) CountOpenHolds(ctx context.Context) (int64, error) {
	if b.holds {
		return 0, fmt.Errorf("%w: timeout", model.ErrStoreUnavailable)
	}
	return b.MemoryStore.CountOpenHolds(ctx)
}

func (b *brokenReads) QueryTransactions(ctx context.Context, q repository.TransactionQuery) ([]*model.Transaction, int64, error) {
	if b.query {
		return nil, 0, fmt.Errorf("%w: timeout", model.ErrStoreUnavailable)
	}
	return b.MemoryStore.QueryTransactions(ctx, q)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
