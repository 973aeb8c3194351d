package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"riplimit/internal/infrastructure/lock"
	"riplimit/internal/model"
	"riplimit/internal/repository"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Locker 按 key 的互斥锁，lock.RedisLocker 和 lock.LocalLocker 实现
type Locker interface {
	Acquire(ctx context.Context, key, owner string) (release func(), err error)
}

// HoldManager 出价冻结的生命周期：放置、结算、查询
type HoldManager struct {
	mutator         *Mutator
	store           repository.Store
	locker          Locker
	maxStoreRetries int
	maxPageSize     int
}

func NewHoldManager(mutator *Mutator, store repository.Store, locker Locker, maxStoreRetries, maxPageSize int) *HoldManager {
	return &HoldManager{
		mutator:         mutator,
		store:           store,
		locker:          locker,
		maxStoreRetries: maxStoreRetries,
		maxPageSize:     maxPageSize,
	}
}

// ResolveResult 结算结果，AlreadyResolved 时 Transaction 为空
type ResolveResult struct {
	Hold            *model.Hold        `json:"hold"`
	Transaction     *model.Transaction `json:"transaction,omitempty"`
	AlreadyResolved bool               `json:"already_resolved"`
}

// PlaceHold 为一次出价冻结金额
//
// 存储不可用时结果未知：先按 bid 查冻结记录，已存在且匹配说明上次其实成功了，
// 不存在才重试，避免重复冻结。
func (h *HoldManager) PlaceHold(ctx context.Context, userID, bidID, auctionID string, amount int64) (*model.Hold, error) {
	if bidID == "" {
		return nil, fmt.Errorf("%w: bid id is required", model.ErrInvalidArgument)
	}

	release, err := h.locker.Acquire(ctx, lock.BidLockKey(bidID), uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	defer release()

	for attempt := 0; ; attempt++ {
		hold, _, err := h.mutator.block(ctx, userID, amount, bidID, auctionID)
		if err == nil {
			return hold, nil
		}
		if !errors.Is(err, model.ErrStoreUnavailable) {
			return nil, err
		}

		existing, qErr := h.store.GetHold(ctx, bidID)
		if qErr != nil {
			log.Warnf("[HoldManager] 冻结结果未知且无法确认: bid=%s, err=%v", bidID, qErr)
			return nil, err
		}
		if existing != nil {
			if existing.UserID == userID && existing.Amount == amount && existing.IsOpen() {
				log.Printf("[HoldManager] 冻结已生效，返回已有记录: bid=%s", bidID)
				return existing, nil
			}
			return nil, fmt.Errorf("%w: %s", model.ErrDuplicateHold, bidID)
		}
		if attempt >= h.maxStoreRetries {
			return nil, err
		}
		log.Warnf("[HoldManager] 冻结失败，第 %d 次重试: bid=%s, err=%v", attempt+1, bidID, err)
	}
}

// ResolveHold 按竞拍结果结算冻结，对同一 bid 重复调用是无副作用的成功
func (h *HoldManager) ResolveHold(ctx context.Context, bidID string, outcome model.HoldOutcome) (*ResolveResult, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidOutcome, outcome)
	}
	if bidID == "" {
		return nil, fmt.Errorf("%w: bid id is required", model.ErrInvalidArgument)
	}

	release, err := h.locker.Acquire(ctx, lock.BidLockKey(bidID), uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	defer release()

	hold, err := h.store.GetHold(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrNoMatchingHold, bidID)
	}
	if !hold.IsOpen() {
		return &ResolveResult{Hold: hold, AlreadyResolved: true}, nil
	}

	txType := model.TransactionTypeBidRelease
	if outcome == model.HoldOutcomeWon {
		txType = model.TransactionTypeBidCapture
	}

	updated, t, err := h.mutator.settle(ctx, hold.UserID, hold.Remaining, bidID, txType)
	if errors.Is(err, model.ErrNoMatchingHold) {
		// 另一个实例可能抢先结算
		current, qErr := h.store.GetHold(ctx, bidID)
		if qErr == nil && current != nil && !current.IsOpen() {
			return &ResolveResult{Hold: current, AlreadyResolved: true}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"bid_id": bidID, "outcome": outcome, "status": updated.Status}).Info("[HoldManager] 冻结已结算")
	return &ResolveResult{Hold: updated, Transaction: t}, nil
}

// GetHold 不存在时返回 ErrNoMatchingHold
func (h *HoldManager) GetHold(ctx context.Context, bidID string) (*model.Hold, error) {
	hold, err := h.store.GetHold(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrNoMatchingHold, bidID)
	}
	return hold, nil
}

// ListOpenHolds 创建时间早于 olderThan 的未结算冻结，最早的在前
func (h *HoldManager) ListOpenHolds(ctx context.Context, olderThan time.Time, limit int) ([]*model.Hold, error) {
	if limit <= 0 || limit > h.maxPageSize {
		limit = h.maxPageSize
	}
	return h.store.ListOpenHolds(ctx, olderThan, limit)
}
