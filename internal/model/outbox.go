package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 与流水同事务写入，由 job.OutboxSender 投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "ledger_outbox"
}

// LedgerEvent 每条已提交流水对应的消息体
type LedgerEvent struct {
	TransactionNo    string          `json:"transaction_no"`
	UserID           string          `json:"user_id"`
	Type             TransactionType `json:"type"`
	Amount           int64           `json:"amount"`
	RelatedBidID     string          `json:"related_bid_id,omitempty"`
	RelatedAuctionID string          `json:"related_auction_id,omitempty"`
	AvailableAfter   int64           `json:"available_after"`
	BlockedAfter     int64           `json:"blocked_after"`
	CreatedAt        string          `json:"created_at"`
}

func NewLedgerEvent(t *Transaction) LedgerEvent {
	return LedgerEvent{
		TransactionNo:    t.TransactionNo,
		UserID:           t.UserID,
		Type:             t.Type,
		Amount:           t.Amount,
		RelatedBidID:     StringValue(t.RelatedBidID),
		RelatedAuctionID: StringValue(t.RelatedAuctionID),
		AvailableAfter:   t.AvailableAfter,
		BlockedAfter:     t.BlockedAfter,
		CreatedAt:        t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
