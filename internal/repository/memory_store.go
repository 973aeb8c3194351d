package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"riplimit/internal/model"
)

// MemoryStore 进程内 Store 实现，用于本地运行和测试
//
// 每个账户一把互斥锁，RunAtomic 期间持有；fn 的写入先暂存在 memoryTx 中，
// 成功后在全局锁内一次性提交。不同账户的操作互不阻塞。
type MemoryStore struct {
	mu           sync.RWMutex
	entries      map[string]*memoryEntry
	holds        map[string]*model.Hold
	transactions map[string][]*model.Transaction
	paymentRefs  map[string]*model.Transaction
	outbox       []*model.OutboxMessage
	seq          int64
}

type memoryEntry struct {
	mu      sync.Mutex
	account *model.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:      make(map[string]*memoryEntry),
		holds:        make(map[string]*model.Hold),
		transactions: make(map[string][]*model.Transaction),
		paymentRefs:  make(map[string]*model.Transaction),
	}
}

func (s *MemoryStore) entry(userID string) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &memoryEntry{}
		s.entries[userID] = e
	}
	return e
}

func (s *MemoryStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	if !ok || e.account == nil {
		return nil, model.ErrAccountNotFound
	}
	return e.account.Clone(), nil
}

func (s *MemoryStore) RunAtomic(ctx context.Context, userID string, fn func(tx AtomicTx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.RLock()
	var before *model.Account
	if e.account != nil {
		before = e.account.Clone()
	} else {
		before = model.NewAccount(userID)
	}
	s.mu.RUnlock()

	tx := &memoryTx{store: s, account: before.Clone(), updatedHolds: make(map[string]*model.Hold)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	if !tx.account.Valid() {
		return model.ErrInvalidAmount
	}

	return s.commit(e, before, tx)
}

func (s *MemoryStore) commit(e *memoryEntry, before *model.Account, tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range tx.newHolds {
		if _, exists := s.holds[h.BidID]; exists {
			return model.ErrDuplicateHold
		}
	}
	for bidID := range tx.updatedHolds {
		current, ok := s.holds[bidID]
		if !ok || !current.IsOpen() {
			return model.ErrNoMatchingHold
		}
	}
	for _, t := range tx.transactions {
		if t.PaymentRef != nil {
			if _, exists := s.paymentRefs[*t.PaymentRef]; exists {
				return ErrDuplicatePaymentRef
			}
		}
	}

	account := tx.account
	if e.account == nil || accountChanged(before, account) {
		now := time.Now()
		if e.account == nil {
			account.CreatedAt = now
		}
		account.Version++
		account.UpdatedAt = now
	}
	e.account = account.Clone()

	for _, h := range tx.newHolds {
		s.seq++
		h.ID = s.seq
		s.holds[h.BidID] = h.Clone()
	}
	for bidID, h := range tx.updatedHolds {
		s.holds[bidID] = h.Clone()
	}
	for _, t := range tx.transactions {
		s.seq++
		t.ID = s.seq
		stored := *t
		s.transactions[t.UserID] = append(s.transactions[t.UserID], &stored)
		if t.PaymentRef != nil {
			s.paymentRefs[*t.PaymentRef] = &stored
		}
	}
	for _, m := range tx.outbox {
		s.seq++
		m.ID = s.seq
		m.CreatedAt = time.Now()
		m.UpdatedAt = m.CreatedAt
		msg := *m
		s.outbox = append(s.outbox, &msg)
	}
	return nil
}

func (s *MemoryStore) GetHold(ctx context.Context, bidID string) (*model.Hold, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holds[bidID]
	if !ok {
		return nil, nil
	}
	return h.Clone(), nil
}

func (s *MemoryStore) ListOpenHolds(ctx context.Context, olderThan time.Time, limit int) ([]*model.Hold, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holds []*model.Hold
	for _, h := range s.holds {
		if h.IsOpen() && h.CreatedAt.Before(olderThan) {
			holds = append(holds, h.Clone())
		}
	}
	sort.Slice(holds, func(i, j int) bool {
		if holds[i].CreatedAt.Equal(holds[j].CreatedAt) {
			return holds[i].ID < holds[j].ID
		}
		return holds[i].CreatedAt.Before(holds[j].CreatedAt)
	})
	if limit > 0 && len(holds) > limit {
		holds = holds[:limit]
	}
	return holds, nil
}

func (s *MemoryStore) CountOpenHolds(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, h := range s.holds {
		if h.IsOpen() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) QueryTransactions(ctx context.Context, q TransactionQuery) ([]*model.Transaction, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	var matched []*model.Transaction
	for _, t := range s.transactions[q.UserID] {
		if q.Type != "" && t.Type != q.Type {
			continue
		}
		c := *t
		matched = append(matched, &c)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if q.Ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if q.Ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	total := int64(len(matched))
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) Aggregate(ctx context.Context) (*AccountTotals, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := &AccountTotals{}
	for _, e := range s.entries {
		if e.account == nil {
			continue
		}
		totals.TotalUsers++
		totals.TotalAvailable += e.account.AvailableBalance
		totals.TotalBlocked += e.account.BlockedBalance
		totals.TotalLifetimeCredited += e.account.LifetimeCredited
		totals.TotalLifetimeDebited += e.account.LifetimeDebited
	}
	return totals, nil
}

func (s *MemoryStore) ListAccountsUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var accounts []*model.Account
	for _, e := range s.entries {
		if e.account != nil && !e.account.UpdatedAt.Before(since) {
			accounts = append(accounts, e.account.Clone())
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].UpdatedAt.After(accounts[j].UpdatedAt)
	})
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

// Outbox 返回已提交消息的副本
func (s *MemoryStore) Outbox() []*model.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		c := *m
		out = append(out, &c)
	}
	return out
}

// 以下与 OutboxRepository 同名方法，供 job.OutboxSender 在内存模式下使用

func (s *MemoryStore) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.OutboxMessage
	for _, m := range s.outbox {
		if m.Status != model.OutboxStatusPending {
			continue
		}
		c := *m
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkAsSent(ctx context.Context, id int64) error {
	return s.updateOutbox(ctx, id, func(m *model.OutboxMessage) { m.Status = model.OutboxStatusSent })
}

func (s *MemoryStore) IncrementRetryCount(ctx context.Context, id int64) error {
	return s.updateOutbox(ctx, id, func(m *model.OutboxMessage) { m.RetryCount++ })
}

func (s *MemoryStore) MarkAsFailed(ctx context.Context, id int64) error {
	return s.updateOutbox(ctx, id, func(m *model.OutboxMessage) { m.Status = model.OutboxStatusFailed })
}

func (s *MemoryStore) updateOutbox(ctx context.Context, id int64, fn func(m *model.OutboxMessage)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.ID == id {
			fn(m)
			m.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("outbox message %d not found", id)
}

type memoryTx struct {
	store        *MemoryStore
	account      *model.Account
	newHolds     []*model.Hold
	updatedHolds map[string]*model.Hold
	transactions []*model.Transaction
	outbox       []*model.OutboxMessage
}

func (t *memoryTx) Account() *model.Account {
	return t.account
}

func (t *memoryTx) FindPurchase(paymentRef string) (*model.Transaction, error) {
	for _, staged := range t.transactions {
		if staged.PaymentRef != nil && *staged.PaymentRef == paymentRef {
			c := *staged
			return &c, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if existing, ok := t.store.paymentRefs[paymentRef]; ok {
		c := *existing
		return &c, nil
	}
	return nil, nil
}

func (t *memoryTx) GetHold(bidID string) (*model.Hold, error) {
	if h, ok := t.updatedHolds[bidID]; ok {
		return h.Clone(), nil
	}
	for _, h := range t.newHolds {
		if h.BidID == bidID {
			return h.Clone(), nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if h, ok := t.store.holds[bidID]; ok {
		return h.Clone(), nil
	}
	return nil, nil
}

func (t *memoryTx) CreateHold(h *model.Hold) error {
	existing, _ := t.GetHold(h.BidID)
	if existing != nil {
		return model.ErrDuplicateHold
	}
	t.newHolds = append(t.newHolds, h)
	return nil
}

func (t *memoryTx) UpdateHold(h *model.Hold) error {
	for i, staged := range t.newHolds {
		if staged.BidID == h.BidID {
			t.newHolds[i] = h
			return nil
		}
	}
	current, _ := t.GetHold(h.BidID)
	if current == nil || !current.IsOpen() {
		return model.ErrNoMatchingHold
	}
	t.updatedHolds[h.BidID] = h
	return nil
}

func (t *memoryTx) AppendTransaction(trans *model.Transaction) error {
	t.transactions = append(t.transactions, trans)
	return nil
}

func (t *memoryTx) Enqueue(msg *model.OutboxMessage) error {
	t.outbox = append(t.outbox, msg)
	return nil
}
