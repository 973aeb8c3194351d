package job

import (
	"context"
	"time"

	"riplimit/internal/config"
	"riplimit/internal/repository"
	"riplimit/internal/service"

	log "github.com/sirupsen/logrus"
)

// ReconcileJob 定期回放最近有变动账户的流水，发现与余额不一致时告警
type ReconcileJob struct {
	store     repository.Store
	stopCh    chan struct{}
	interval  time.Duration
	window    time.Duration
	batchSize int
	now       func() time.Time
}

func NewReconcileJob(store repository.Store, cfg *config.ReconcileJobConfig) *ReconcileJob {
	return &ReconcileJob{
		store:     store,
		stopCh:    make(chan struct{}),
		interval:  cfg.Interval,
		window:    cfg.Window,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	log.Println("[ReconcileJob] 对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.reconcile(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// reconcile 返回不一致的账户数
func (j *ReconcileJob) reconcile(ctx context.Context) int {
	accounts, err := j.store.ListAccountsUpdatedSince(ctx, j.now().Add(-j.window), j.batchSize)
	if err != nil {
		log.Printf("[ReconcileJob] 查询最近变动账户失败: %v", err)
		return 0
	}

	mismatched := 0
	for _, account := range accounts {
		res, err := service.Audit(ctx, j.store, account.UserID)
		if err != nil {
			log.Printf("[ReconcileJob] 对账失败: user=%s, err=%v", account.UserID, err)
			continue
		}
		if res.Consistent {
			continue
		}
		mismatched++
		log.WithFields(log.Fields{
			"user_id":            res.UserID,
			"stored_available":   res.StoredAvailable,
			"replayed_available": res.ReplayedAvailable,
			"stored_blocked":     res.StoredBlocked,
			"replayed_blocked":   res.ReplayedBlocked,
		}).Error("[ReconcileJob] 余额与流水回放不一致")
	}

	if len(accounts) > 0 {
		log.Printf("[ReconcileJob] 本次对账 %d 个账户，不一致 %d 个", len(accounts), mismatched)
	}
	return mismatched
}
