package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"riplimit/internal/model"
	"riplimit/internal/repository"

	log "github.com/sirupsen/logrus"
)

// StatsCache 系统统计缓存，cache.StatsCache 基于 Redis 实现
// 未命中时返回 (nil, nil)。
type StatsCache interface {
	Get(ctx context.Context) (*SystemStats, error)
	Set(ctx context.Context, stats *SystemStats) error
}

// SystemStats 各字段为 nil 表示该项统计失败，失败项列在 Degraded 中
type SystemStats struct {
	TotalUsers            *int64    `json:"totalUsers"`
	TotalAvailable        *int64    `json:"totalAvailable"`
	TotalBlocked          *int64    `json:"totalBlocked"`
	TotalLifetimeCredited *int64    `json:"totalLifetimeCredited"`
	TotalLifetimeDebited  *int64    `json:"totalLifetimeDebited"`
	ActiveHoldCount       *int64    `json:"activeHoldCount"`
	Degraded              []string  `json:"degraded,omitempty"`
	GeneratedAt           time.Time `json:"generatedAt"`
}

type AccountDetail struct {
	*model.Account
	RecentTransactions []*model.Transaction `json:"recentTransactions"`
	Degraded           []string             `json:"degraded,omitempty"`
}

// AuditResult 按创建顺序回放全部流水得到的余额与存储余额的对比
type AuditResult struct {
	UserID            string `json:"user_id"`
	TransactionCount  int    `json:"transaction_count"`
	StoredAvailable   int64  `json:"stored_available"`
	StoredBlocked     int64  `json:"stored_blocked"`
	ReplayedAvailable int64  `json:"replayed_available"`
	ReplayedBlocked   int64  `json:"replayed_blocked"`
	Consistent        bool   `json:"consistent"`
}

// AdminService 管理员只读视图
type AdminService struct {
	store              repository.Store
	cache              StatsCache
	recentTransactions int
	maxPageSize        int
	now                func() time.Time
}

// NewAdminService cache 可以为 nil
func NewAdminService(store repository.Store, cache StatsCache, recentTransactions, maxPageSize int) *AdminService {
	return &AdminService{
		store:              store,
		cache:              cache,
		recentTransactions: recentTransactions,
		maxPageSize:        maxPageSize,
		now:                time.Now,
	}
}

const (
	degradedAccountTotals = "account_totals"
	degradedHoldCount     = "active_hold_count"
	degradedRecent        = "recent_transactions"
)

// GetSystemStats 单项统计失败只降级该项，不让整个请求失败
func (s *AdminService) GetSystemStats(ctx context.Context, caller model.Caller) (*SystemStats, error) {
	if !caller.IsAdmin() {
		return nil, model.ErrUnauthorized
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx)
		if err != nil {
			log.Warnf("[AdminService] 读取统计缓存失败: %v", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	stats := &SystemStats{GeneratedAt: s.now()}

	totals, err := s.store.Aggregate(ctx)
	if err != nil {
		log.Errorf("[AdminService] 账户汇总失败: %v", err)
		stats.Degraded = append(stats.Degraded, degradedAccountTotals)
	} else {
		stats.TotalUsers = nonNegative(totals.TotalUsers)
		stats.TotalAvailable = nonNegative(totals.TotalAvailable)
		stats.TotalBlocked = nonNegative(totals.TotalBlocked)
		stats.TotalLifetimeCredited = nonNegative(totals.TotalLifetimeCredited)
		stats.TotalLifetimeDebited = nonNegative(totals.TotalLifetimeDebited)
	}

	holds, err := s.store.CountOpenHolds(ctx)
	if err != nil {
		log.Errorf("[AdminService] 冻结计数失败: %v", err)
		stats.Degraded = append(stats.Degraded, degradedHoldCount)
	} else {
		stats.ActiveHoldCount = nonNegative(holds)
	}

	// 降级结果不缓存，下次请求重新计算
	if s.cache != nil && len(stats.Degraded) == 0 {
		if err := s.cache.Set(ctx, stats); err != nil {
			log.Warnf("[AdminService] 写入统计缓存失败: %v", err)
		}
	}
	return stats, nil
}

// GetAccountDetail 未知用户返回零余额账户
func (s *AdminService) GetAccountDetail(ctx context.Context, caller model.Caller, userID string) (*AccountDetail, error) {
	if !caller.IsAdmin() {
		return nil, model.ErrUnauthorized
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidArgument)
	}

	account, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, model.ErrAccountNotFound) {
		account, err = model.NewAccount(userID), nil
	}
	if err != nil {
		return nil, err
	}

	detail := &AccountDetail{Account: account, RecentTransactions: []*model.Transaction{}}
	recent, _, err := s.store.QueryTransactions(ctx, repository.TransactionQuery{
		UserID: userID,
		Limit:  s.recentTransactions,
	})
	if err != nil {
		log.Errorf("[AdminService] 查询最近流水失败: user=%s, err=%v", userID, err)
		detail.Degraded = []string{degradedRecent}
		return detail, nil
	}
	if recent != nil {
		detail.RecentTransactions = recent
	}
	return detail, nil
}

// AuditAccount 回放账户全部流水并与存储余额比对
func (s *AdminService) AuditAccount(ctx context.Context, caller model.Caller, userID string) (*AuditResult, error) {
	if !caller.IsAdmin() {
		return nil, model.ErrUnauthorized
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidArgument)
	}
	return Audit(ctx, s.store, userID)
}

// ListOpenHolds 管理员查看长时间未结算的冻结
func (s *AdminService) ListOpenHolds(ctx context.Context, caller model.Caller, olderThan time.Time, limit int) ([]*model.Hold, error) {
	if !caller.IsAdmin() {
		return nil, model.ErrUnauthorized
	}
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	return s.store.ListOpenHolds(ctx, olderThan, limit)
}

// auditAttempts 账户在读取期间持续变动时的最大尝试次数
const auditAttempts = 3

// Audit 供 AdminService 和对账任务共用
//
// 账户和流水是两次独立读取，中间可能有新的提交；
// 读完流水后再读一次账户，版本号没变才说明两者对应同一时刻。
func Audit(ctx context.Context, store repository.Store, userID string) (*AuditResult, error) {
	for attempt := 0; attempt < auditAttempts; attempt++ {
		account, err := readAccount(ctx, store, userID)
		if err != nil {
			return nil, err
		}

		list, _, err := store.QueryTransactions(ctx, repository.TransactionQuery{
			UserID:    userID,
			Ascending: true,
		})
		if err != nil {
			return nil, err
		}

		after, err := readAccount(ctx, store, userID)
		if err != nil {
			return nil, err
		}
		if after.Version != account.Version {
			continue
		}

		available, blocked := Replay(list)
		return &AuditResult{
			UserID:            userID,
			TransactionCount:  len(list),
			StoredAvailable:   account.AvailableBalance,
			StoredBlocked:     account.BlockedBalance,
			ReplayedAvailable: available,
			ReplayedBlocked:   blocked,
			Consistent:        available == account.AvailableBalance && blocked == account.BlockedBalance,
		}, nil
	}
	return nil, fmt.Errorf("%w: account %s kept changing during audit", model.ErrStoreUnavailable, userID)
}

// readAccount 未知用户按零余额账户处理
func readAccount(ctx context.Context, store repository.Store, userID string) (*model.Account, error) {
	account, err := store.GetAccount(ctx, userID)
	if errors.Is(err, model.ErrAccountNotFound) {
		return model.NewAccount(userID), nil
	}
	return account, err
}

// Replay 从零开始按顺序累加每条流水的影响
func Replay(list []*model.Transaction) (available, blocked int64) {
	for _, t := range list {
		da, db := t.Effect()
		available += da
		blocked += db
	}
	return available, blocked
}

func nonNegative(v int64) *int64 {
	if v < 0 {
		v = 0
	}
	return &v
}
