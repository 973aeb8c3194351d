package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"riplimit/internal/model"
	"riplimit/internal/repository"

	log "github.com/sirupsen/logrus"
)

// IDGenerator 流水号生成器，由 pkg/idgen.Snowflake 实现
type IDGenerator interface {
	TransactionNo() string
}

// Mutator 账户余额的唯一写入口
//
// 每个操作都在一次 Store.RunAtomic 中完成：校验、改余额、写流水、写冻结记录、写 outbox 消息。
// 校验失败时 fn 返回错误，整个单元回滚，账户保持原样。
type Mutator struct {
	store      repository.Store
	ids        IDGenerator
	eventTopic string
	now        func() time.Time
}

func NewMutator(store repository.Store, ids IDGenerator, eventTopic string) *Mutator {
	return &Mutator{
		store:      store,
		ids:        ids,
		eventTopic: eventTopic,
		now:        time.Now,
	}
}

// CreditMeta 充值附加信息
type CreditMeta struct {
	PaymentRef string // 支付方流水号，同一个 ref 只入账一次
}

// Credit 外部支付充值
func (m *Mutator) Credit(ctx context.Context, userID string, amount int64, txType model.TransactionType, meta CreditMeta) (*model.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidArgument)
	}
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	if txType != model.TransactionTypePurchase {
		return nil, fmt.Errorf("%w: %q is not creditable", model.ErrInvalidTransactionType, txType)
	}

	// 同一 ref 并发入账时，后提交的一方会撞唯一索引，重跑一次即可读到已有流水
	var (
		result *model.Transaction
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		result, err = m.credit(ctx, userID, amount, meta)
		if !errors.Is(err, repository.ErrDuplicatePaymentRef) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mutator) credit(ctx context.Context, userID string, amount int64, meta CreditMeta) (*model.Transaction, error) {
	var result *model.Transaction
	err := m.store.RunAtomic(ctx, userID, func(tx repository.AtomicTx) error {
		if meta.PaymentRef != "" {
			existing, err := tx.FindPurchase(meta.PaymentRef)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.UserID != userID {
					return fmt.Errorf("%w: payment reference %s belongs to another account", model.ErrInvalidArgument, meta.PaymentRef)
				}
				if existing.Amount != amount {
					return fmt.Errorf("%w: payment reference %s was credited with amount %d", model.ErrInvalidArgument, meta.PaymentRef, existing.Amount)
				}
				log.Printf("[Mutator] 重复充值请求，返回已有流水: ref=%s, txn=%s", meta.PaymentRef, existing.TransactionNo)
				result = existing
				return nil
			}
		}

		account := tx.Account()
		account.AvailableBalance += amount
		account.LifetimeCredited += amount

		t := m.newTransaction(account, model.TransactionTypePurchase, amount)
		t.PaymentRef = model.StringPtr(meta.PaymentRef)
		if err := m.record(tx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Block 出价冻结
func (m *Mutator) Block(ctx context.Context, userID string, amount int64, bidID, auctionID string) (*model.Transaction, error) {
	_, t, err := m.block(ctx, userID, amount, bidID, auctionID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Mutator) block(ctx context.Context, userID string, amount int64, bidID, auctionID string) (*model.Hold, *model.Transaction, error) {
	if userID == "" || bidID == "" {
		return nil, nil, fmt.Errorf("%w: user id and bid id are required", model.ErrInvalidArgument)
	}
	if amount <= 0 {
		return nil, nil, model.ErrInvalidAmount
	}

	var (
		hold   *model.Hold
		result *model.Transaction
	)
	err := m.store.RunAtomic(ctx, userID, func(tx repository.AtomicTx) error {
		existing, err := tx.GetHold(bidID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", model.ErrDuplicateHold, bidID)
		}

		account := tx.Account()
		if account.AvailableBalance < amount {
			return &model.InsufficientBalanceError{Available: account.AvailableBalance, Requested: amount}
		}
		account.AvailableBalance -= amount
		account.BlockedBalance += amount

		now := m.now()
		h := &model.Hold{
			BidID:     bidID,
			UserID:    userID,
			AuctionID: model.StringPtr(auctionID),
			Amount:    amount,
			Remaining: amount,
			Status:    model.HoldStatusOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateHold(h); err != nil {
			return err
		}

		t := m.newTransaction(account, model.TransactionTypeBidBlock, amount)
		t.RelatedBidID = model.StringPtr(bidID)
		t.RelatedAuctionID = model.StringPtr(auctionID)
		if err := m.record(tx, t); err != nil {
			return err
		}
		hold, result = h, t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	log.WithFields(log.Fields{"user_id": userID, "bid_id": bidID, "amount": amount}).Info("[Mutator] 出价冻结成功")
	return hold, result, nil
}

// Release 把冻结金额退回可用余额
func (m *Mutator) Release(ctx context.Context, userID string, amount int64, bidID string) (*model.Transaction, error) {
	_, t, err := m.settle(ctx, userID, amount, bidID, model.TransactionTypeBidRelease)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Capture 冻结金额转为消费
func (m *Mutator) Capture(ctx context.Context, userID string, amount int64, bidID string) (*model.Transaction, error) {
	_, t, err := m.settle(ctx, userID, amount, bidID, model.TransactionTypeBidCapture)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Mutator) settle(ctx context.Context, userID string, amount int64, bidID string, txType model.TransactionType) (*model.Hold, *model.Transaction, error) {
	if userID == "" || bidID == "" {
		return nil, nil, fmt.Errorf("%w: user id and bid id are required", model.ErrInvalidArgument)
	}
	if amount <= 0 {
		return nil, nil, model.ErrInvalidAmount
	}

	target := model.HoldStatusReleased
	if txType == model.TransactionTypeBidCapture {
		target = model.HoldStatusCaptured
	}

	var (
		hold   *model.Hold
		result *model.Transaction
	)
	err := m.store.RunAtomic(ctx, userID, func(tx repository.AtomicTx) error {
		h, err := tx.GetHold(bidID)
		if err != nil {
			return err
		}
		if h == nil || h.UserID != userID || !h.IsOpen() {
			return fmt.Errorf("%w: %s", model.ErrNoMatchingHold, bidID)
		}
		if h.Remaining < amount {
			return fmt.Errorf("%w: %s holds %d, requested %d", model.ErrNoMatchingHold, bidID, h.Remaining, amount)
		}

		account := tx.Account()
		if account.BlockedBalance < amount {
			// 冻结记录和账户冻结余额不一致，拒绝操作并等待对账
			return fmt.Errorf("%w: blocked balance %d below open hold %s", model.ErrNoMatchingHold, account.BlockedBalance, bidID)
		}
		account.BlockedBalance -= amount
		if txType == model.TransactionTypeBidCapture {
			account.LifetimeDebited += amount
		} else {
			account.AvailableBalance += amount
		}

		now := m.now()
		h.Remaining -= amount
		h.UpdatedAt = now
		if h.Remaining == 0 {
			if !model.CanTransitionHold(h.Status, target) {
				return fmt.Errorf("%w: %s cannot move from %s to %s", model.ErrNoMatchingHold, bidID, h.Status, target)
			}
			h.Status = target
			h.ResolvedAt = &now
		}
		if err := tx.UpdateHold(h); err != nil {
			return err
		}

		t := m.newTransaction(account, txType, amount)
		t.RelatedBidID = model.StringPtr(bidID)
		t.RelatedAuctionID = h.AuctionID
		if err := m.record(tx, t); err != nil {
			return err
		}
		hold, result = h, t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	log.WithFields(log.Fields{"user_id": userID, "bid_id": bidID, "amount": amount, "type": txType}).Info("[Mutator] 冻结结算成功")
	return hold, result, nil
}

// Adjust 管理员调账，delta 为可用余额的带符号变化量
func (m *Mutator) Adjust(ctx context.Context, caller model.Caller, userID string, delta int64, reason string) (*model.Transaction, error) {
	if !caller.IsAdmin() {
		return nil, model.ErrUnauthorized
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidArgument)
	}
	if delta == 0 {
		return nil, fmt.Errorf("%w: adjustment delta must not be zero", model.ErrInvalidAmount)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", model.ErrInvalidArgument)
	}

	var result *model.Transaction
	err := m.store.RunAtomic(ctx, userID, func(tx repository.AtomicTx) error {
		account := tx.Account()
		if account.AvailableBalance+delta < 0 {
			return fmt.Errorf("%w: adjustment of %d would leave available balance %d", model.ErrInvalidAmount, delta, account.AvailableBalance+delta)
		}
		account.AvailableBalance += delta
		if delta > 0 {
			account.LifetimeCredited += delta
		} else {
			account.LifetimeDebited += -delta
		}

		t := m.newTransaction(account, model.TransactionTypeAdminAdjustment, delta)
		t.Reason = model.StringPtr(reason)
		t.ActorID = model.StringPtr(caller.UserID)
		if err := m.record(tx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"user_id": userID, "actor_id": caller.UserID, "delta": delta}).Warn("[Mutator] 管理员调账")
	return result, nil
}

func (m *Mutator) newTransaction(account *model.Account, txType model.TransactionType, amount int64) *model.Transaction {
	return &model.Transaction{
		TransactionNo:  m.ids.TransactionNo(),
		UserID:         account.UserID,
		Type:           txType,
		Amount:         amount,
		AvailableAfter: account.AvailableBalance,
		BlockedAfter:   account.BlockedBalance,
		CreatedAt:      m.now(),
	}
}

// record 追加流水，并在同一单元内写入 outbox 消息
// 消息 key 使用 user_id，同一账户的事件落在同一分区，保持顺序。
func (m *Mutator) record(tx repository.AtomicTx, t *model.Transaction) error {
	if err := tx.AppendTransaction(t); err != nil {
		return err
	}

	payload, err := json.Marshal(model.NewLedgerEvent(t))
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	return tx.Enqueue(&model.OutboxMessage{
		MessageKey: t.UserID,
		Topic:      m.eventTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}
