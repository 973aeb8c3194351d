package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"riplimit/internal/model"

	"github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// MySQLStore 基于 gorm 事务的 Store 实现
//
// RunAtomic 的执行顺序：
//
//	BEGIN
//	INSERT ... ON DUPLICATE KEY（懒创建账户）
//	SELECT ... FOR UPDATE（锁住账户行，同一账户的操作在此串行）
//	fn(tx)（校验、写流水、写冻结、写消息）
//	UPDATE ... WHERE version = ?（写回余额）
//	COMMIT
//
// 死锁和锁等待超时整体回滚后重试，其他基础设施错误统一包装为 ErrStoreUnavailable。
type MySQLStore struct {
	db           *gorm.DB
	accounts     *AccountRepository
	transactions *TransactionRepository
	holds        *HoldRepository
	outbox       *OutboxRepository
	maxRetries   int
	retryBackoff time.Duration
}

func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{
		db:           db,
		accounts:     NewAccountRepository(db),
		transactions: NewTransactionRepository(db),
		holds:        NewHoldRepository(db),
		outbox:       NewOutboxRepository(db),
		maxRetries:   3,
		retryBackoff: 20 * time.Millisecond,
	}
}

func (s *MySQLStore) Outbox() *OutboxRepository {
	return s.outbox
}

func (s *MySQLStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	account, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return account, nil
}

func (s *MySQLStore) RunAtomic(ctx context.Context, userID string, fn func(tx AtomicTx) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.runOnce(ctx, userID, fn)
		if err == nil || !retryable(err) || attempt == s.maxRetries {
			break
		}
		log.WithFields(log.Fields{"user_id": userID, "attempt": attempt + 1}).
			Warnf("[MySQLStore] 事务冲突，准备重试: %v", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, ctx.Err())
		case <-time.After(s.retryBackoff * time.Duration(attempt+1)):
		}
	}
	return classify(err)
}

func (s *MySQLStore) runOnce(ctx context.Context, userID string, fn func(tx AtomicTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accounts.GetOrCreateForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		before := account.Clone()
		atx := &mysqlTx{ctx: ctx, tx: tx, store: s, account: account}
		if err := fn(atx); err != nil {
			return err
		}

		if accountChanged(before, account) {
			if !account.Valid() {
				return model.ErrInvalidAmount
			}
			if err := s.accounts.Save(ctx, tx, account); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MySQLStore) GetHold(ctx context.Context, bidID string) (*model.Hold, error) {
	hold, err := s.holds.GetByBidID(ctx, nil, bidID)
	if err != nil {
		return nil, classify(err)
	}
	return hold, nil
}

func (s *MySQLStore) ListOpenHolds(ctx context.Context, olderThan time.Time, limit int) ([]*model.Hold, error) {
	holds, err := s.holds.ListOpen(ctx, olderThan, limit)
	if err != nil {
		return nil, classify(err)
	}
	return holds, nil
}

func (s *MySQLStore) CountOpenHolds(ctx context.Context) (int64, error) {
	count, err := s.holds.CountOpen(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

func (s *MySQLStore) QueryTransactions(ctx context.Context, q TransactionQuery) ([]*model.Transaction, int64, error) {
	list, total, err := s.transactions.List(ctx, q)
	if err != nil {
		return nil, 0, classify(err)
	}
	return list, total, nil
}

func (s *MySQLStore) Aggregate(ctx context.Context) (*AccountTotals, error) {
	totals, err := s.accounts.Totals(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return totals, nil
}

func (s *MySQLStore) ListAccountsUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*model.Account, error) {
	accounts, err := s.accounts.ListUpdatedSince(ctx, since, limit)
	if err != nil {
		return nil, classify(err)
	}
	return accounts, nil
}

type mysqlTx struct {
	ctx     context.Context
	tx      *gorm.DB
	store   *MySQLStore
	account *model.Account
}

func (t *mysqlTx) Account() *model.Account {
	return t.account
}

func (t *mysqlTx) FindPurchase(paymentRef string) (*model.Transaction, error) {
	return t.store.transactions.GetByPaymentRef(t.ctx, t.tx, paymentRef)
}

func (t *mysqlTx) GetHold(bidID string) (*model.Hold, error) {
	return t.store.holds.GetByBidID(t.ctx, t.tx, bidID)
}

func (t *mysqlTx) CreateHold(h *model.Hold) error {
	return t.store.holds.Create(t.ctx, t.tx, h)
}

func (t *mysqlTx) UpdateHold(h *model.Hold) error {
	return t.store.holds.Update(t.ctx, t.tx, h)
}

func (t *mysqlTx) AppendTransaction(trans *model.Transaction) error {
	return t.store.transactions.Create(t.ctx, t.tx, trans)
}

func (t *mysqlTx) Enqueue(msg *model.OutboxMessage) error {
	return t.store.outbox.Create(t.ctx, t.tx, msg)
}

func retryable(err error) bool {
	if errors.Is(err, ErrOptimisticLock) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return true
		case mysqlErrDuplicateEntry:
			// 多个实例共用 worker id 时流水号可能冲突，重跑会生成新的流水号
			return strings.Contains(myErr.Message, "transaction_no")
		}
	}
	return false
}

// classify 把底层错误转换为账本错误，业务错误原样返回
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
		switch {
		case strings.Contains(myErr.Message, "bid_id"):
			return fmt.Errorf("%w: %s", model.ErrDuplicateHold, myErr.Message)
		case strings.Contains(myErr.Message, "payment_ref"):
			return fmt.Errorf("%w: %s", ErrDuplicatePaymentRef, myErr.Message)
		}
	}

	return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
}
