package job

import (
	"context"
	"time"

	"riplimit/internal/config"
	"riplimit/internal/model"
	"riplimit/internal/service"

	log "github.com/sirupsen/logrus"
)

// HoldResolver service.HoldManager 实现
type HoldResolver interface {
	ListOpenHolds(ctx context.Context, olderThan time.Time, limit int) ([]*model.Hold, error)
	ResolveHold(ctx context.Context, bidID string, outcome model.HoldOutcome) (*service.ResolveResult, error)
}

// StaleHoldJob 巡检长时间未结算的冻结
//
// 冻结的过期策略属于竞拍服务，这里默认只告警；
// 打开 auto_release 后按 cancelled 结算，资金退回可用余额。
type StaleHoldJob struct {
	holds       HoldResolver
	stopCh      chan struct{}
	interval    time.Duration
	after       time.Duration
	batchSize   int
	autoRelease bool
	now         func() time.Time
}

func NewStaleHoldJob(holds HoldResolver, cfg *config.StaleHoldJobConfig) *StaleHoldJob {
	return &StaleHoldJob{
		holds:       holds,
		stopCh:      make(chan struct{}),
		interval:    cfg.Interval,
		after:       cfg.After,
		batchSize:   cfg.BatchSize,
		autoRelease: cfg.AutoRelease,
		now:         time.Now,
	}
}

func (j *StaleHoldJob) Start(ctx context.Context) {
	log.Printf("[StaleHoldJob] 冻结巡检任务启动: after=%s, auto_release=%v", j.after, j.autoRelease)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[StaleHoldJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[StaleHoldJob] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *StaleHoldJob) Stop() {
	close(j.stopCh)
}

func (j *StaleHoldJob) sweep(ctx context.Context) {
	holds, err := j.holds.ListOpenHolds(ctx, j.now().Add(-j.after), j.batchSize)
	if err != nil {
		log.Printf("[StaleHoldJob] 查询未结算冻结失败: %v", err)
		return
	}
	if len(holds) == 0 {
		return
	}

	log.Warnf("[StaleHoldJob] 发现 %d 个超过 %s 未结算的冻结", len(holds), j.after)

	released := 0
	for _, hold := range holds {
		fields := log.Fields{"bid_id": hold.BidID, "user_id": hold.UserID, "remaining": hold.Remaining, "created_at": hold.CreatedAt}
		if !j.autoRelease {
			log.WithFields(fields).Warn("[StaleHoldJob] 冻结长时间未结算")
			continue
		}

		res, err := j.holds.ResolveHold(ctx, hold.BidID, model.HoldOutcomeCancelled)
		if err != nil {
			log.WithFields(fields).Errorf("[StaleHoldJob] 自动释放失败: %v", err)
			continue
		}
		if !res.AlreadyResolved {
			released++
			log.WithFields(fields).Info("[StaleHoldJob] 冻结已自动释放")
		}
	}

	if j.autoRelease {
		log.Printf("[StaleHoldJob] 本次自动释放 %d 个冻结", released)
	}
}
