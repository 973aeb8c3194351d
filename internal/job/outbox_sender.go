package job

import (
	"context"
	"time"

	"riplimit/internal/config"
	"riplimit/internal/model"

	log "github.com/sirupsen/logrus"
)

// OutboxStore 待发送消息的读写，repository.OutboxRepository 和 repository.MemoryStore 实现
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkAsSent(ctx context.Context, id int64) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

// Publisher 消息投递，mq.Producer 实现
type Publisher interface {
	Publish(ctx context.Context, topic, key, value string) error
}

// OutboxSender 把与流水同事务写入的消息投递到 Kafka
type OutboxSender struct {
	outbox    OutboxStore
	publisher Publisher
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	maxRetry  int
}

func NewOutboxSender(outbox OutboxStore, publisher Publisher, cfg *config.OutboxJobConfig) *OutboxSender {
	return &OutboxSender{
		outbox:    outbox,
		publisher: publisher,
		stopCh:    make(chan struct{}),
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		maxRetry:  cfg.MaxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Println("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outbox.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return
	}

	// 同一账户的消息必须按顺序投递，某条失败后本批次跳过该账户后续消息
	blocked := make(map[string]struct{})
	for _, msg := range messages {
		if _, skip := blocked[msg.MessageKey]; skip {
			continue
		}
		if !s.sendMessage(ctx, msg) {
			blocked[msg.MessageKey] = struct{}{}
		}
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outbox.MarkAsSent(ctx, msg.ID); updateErr != nil {
			// 状态没更新会导致重复投递，消费方按 transaction_no 去重
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		}
		return true
	}

	log.Printf("[OutboxSender] 消息发送失败: id=%d, key=%s, err=%v", msg.ID, msg.MessageKey, err)

	if err := s.outbox.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Printf("[OutboxSender] 增加重试次数失败: id=%d, err=%v", msg.ID, err)
	}

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outbox.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] 标记消息失败状态失败: id=%d, err=%v", msg.ID, err)
		} else {
			log.Warnf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
		}
		// 已放弃的消息不再阻塞后续消息
		return true
	}
	return false
}
