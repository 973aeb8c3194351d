package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"riplimit/internal/config"
	"riplimit/internal/infrastructure/lock"
	"riplimit/internal/model"
	"riplimit/internal/repository"
	"riplimit/internal/service"
	"riplimit/pkg/idgen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, topic, key, value string) error {
	return m.Called(ctx, topic, key, value).Error(0)
}

func newLedger(t *testing.T) (*repository.MemoryStore, *service.Mutator, *service.HoldManager) {
	t.Helper()
	store := repository.NewMemoryStore()
	ids, err := idgen.New(2)
	require.NoError(t, err)
	mutator := service.NewMutator(store, ids, "ledger.events")
	holds := service.NewHoldManager(mutator, store, lock.NewLocalLocker(), 1, 100)
	return store, mutator, holds
}

func credit(t *testing.T, m *service.Mutator, userID string, amount int64) {
	t.Helper()
	_, err := m.Credit(context.Background(), userID, amount, model.TransactionTypePurchase, service.CreditMeta{})
	require.NoError(t, err)
}

func statuses(store *repository.MemoryStore) []string {
	var out []string
	for _, m := range store.Outbox() {
		out = append(out, m.Status)
	}
	return out
}

func TestOutboxSender_PublishesPending(t *testing.T) {
	store, mutator, _ := newLedger(t)
	credit(t, mutator, "u1", 100)
	credit(t, mutator, "u2", 200)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "ledger.events", mock.AnythingOfType("string"), mock.AnythingOfType("string")).Return(nil).Twice()

	sender := NewOutboxSender(store, pub, &config.OutboxJobConfig{Interval: time.Hour, BatchSize: 10, MaxRetry: 3})
	sender.processPendingMessages(context.Background())

	pub.AssertExpectations(t)
	assert.Equal(t, []string{model.OutboxStatusSent, model.OutboxStatusSent}, statuses(store))

	// 已发送的不会重复投递
	sender.processPendingMessages(context.Background())
	pub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestOutboxSender_FailureKeepsPerAccountOrder(t *testing.T) {
	store, mutator, _ := newLedger(t)
	credit(t, mutator, "u1", 100)
	credit(t, mutator, "u1", 50)
	credit(t, mutator, "u2", 10)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "ledger.events", "u1", mock.Anything).Return(errors.New("broker down"))
	pub.On("Publish", mock.Anything, "ledger.events", "u2", mock.Anything).Return(nil)

	sender := NewOutboxSender(store, pub, &config.OutboxJobConfig{Interval: time.Hour, BatchSize: 10, MaxRetry: 2})
	sender.processPendingMessages(context.Background())

	// u1 第一条失败后第二条不发送，u2 不受影响
	pub.AssertNumberOfCalls(t, "Publish", 2)
	msgs := store.Outbox()
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)
	assert.Equal(t, 1, msgs[0].RetryCount)
	assert.Equal(t, model.OutboxStatusPending, msgs[1].Status)
	assert.Equal(t, model.OutboxStatusSent, msgs[2].Status)

	// 第二次失败达到上限，标记 FAILED，u1 的下一条随后尝试
	sender.processPendingMessages(context.Background())
	msgs = store.Outbox()
	assert.Equal(t, model.OutboxStatusFailed, msgs[0].Status)
	assert.Equal(t, 1, msgs[1].RetryCount)
}

func TestOutboxSender_StartStop(t *testing.T) {
	store, mutator, _ := newLedger(t)
	credit(t, mutator, "u1", 100)

	pub := &mockPublisher{}
	sent := make(chan struct{}, 1)
	pub.On("Publish", mock.Anything, "ledger.events", "u1", mock.Anything).Return(nil).Run(func(mock.Arguments) {
		select {
		case sent <- struct{}{}:
		default:
		}
	})

	sender := NewOutboxSender(store, pub, &config.OutboxJobConfig{Interval: 5 * time.Millisecond, BatchSize: 10, MaxRetry: 3})
	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("message not published")
	}
	sender.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestStaleHoldJob_ReportOnly(t *testing.T) {
	store, mutator, holds := newLedger(t)
	credit(t, mutator, "u1", 1000)
	_, err := holds.PlaceHold(context.Background(), "u1", "bid-1", "", 300)
	require.NoError(t, err)

	job := NewStaleHoldJob(holds, &config.StaleHoldJobConfig{Interval: time.Hour, After: time.Hour, BatchSize: 10})
	job.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	job.sweep(context.Background())

	hold, err := store.GetHold(context.Background(), "bid-1")
	require.NoError(t, err)
	assert.Equal(t, model.HoldStatusOpen, hold.Status)
}

func TestStaleHoldJob_AutoRelease(t *testing.T) {
	store, mutator, holds := newLedger(t)
	ctx := context.Background()
	credit(t, mutator, "u1", 1000)
	_, err := holds.PlaceHold(ctx, "u1", "bid-old", "", 300)
	require.NoError(t, err)

	job := NewStaleHoldJob(holds, &config.StaleHoldJobConfig{Interval: time.Hour, After: time.Hour, BatchSize: 10, AutoRelease: true})

	// 还没到期
	job.sweep(ctx)
	hold, err := store.GetHold(ctx, "bid-old")
	require.NoError(t, err)
	assert.True(t, hold.IsOpen())

	job.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	job.sweep(ctx)

	hold, err = store.GetHold(ctx, "bid-old")
	require.NoError(t, err)
	assert.Equal(t, model.HoldStatusReleased, hold.Status)

	acc, err := store.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acc.AvailableBalance)
	assert.Equal(t, int64(0), acc.BlockedBalance)
}

// tamperedStore 模拟余额被绕过账本直接改动
type tamperedStore struct {
	*repository.MemoryStore
	userID string
}

func (s *tamperedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	acc, err := s.MemoryStore.GetAccount(ctx, userID)
	if err == nil && userID == s.userID {
		acc.AvailableBalance += 7
	}
	return acc, err
}

func TestReconcileJob(t *testing.T) {
	store, mutator, holds := newLedger(t)
	ctx := context.Background()
	credit(t, mutator, "u1", 1000)
	credit(t, mutator, "u2", 500)
	_, err := holds.PlaceHold(ctx, "u1", "bid-1", "", 300)
	require.NoError(t, err)

	cfg := &config.ReconcileJobConfig{Interval: time.Hour, Window: time.Hour, BatchSize: 10}
	assert.Equal(t, 0, NewReconcileJob(store, cfg).reconcile(ctx))

	tampered := NewReconcileJob(&tamperedStore{MemoryStore: store, userID: "u2"}, cfg)
	assert.Equal(t, 1, tampered.reconcile(ctx))

	// 窗口之外的账户不检查
	tampered.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	assert.Equal(t, 0, tampered.reconcile(ctx))
}
