package model

import (
	"time"
)

type HoldStatus string

const (
	HoldStatusOpen     HoldStatus = "OPEN"
	HoldStatusReleased HoldStatus = "RELEASED"
	HoldStatusCaptured HoldStatus = "CAPTURED"
)

var ValidHoldTransitions = map[HoldStatus][]HoldStatus{
	HoldStatusOpen: {HoldStatusReleased, HoldStatusCaptured},
}

func CanTransitionHold(current, target HoldStatus) bool {
	allowed, exists := ValidHoldTransitions[current]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// HoldOutcome 出价结算结果
type HoldOutcome string

const (
	HoldOutcomeWon       HoldOutcome = "won"
	HoldOutcomeLost      HoldOutcome = "lost"
	HoldOutcomeCancelled HoldOutcome = "cancelled"
)

func (o HoldOutcome) Valid() bool {
	return o == HoldOutcomeWon || o == HoldOutcomeLost || o == HoldOutcomeCancelled
}

// Hold 出价冻结记录，一个 bid 只对应一条
type Hold struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"-"`
	BidID      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"bid_id"`
	UserID     string     `gorm:"type:varchar(64);index;not null" json:"user_id"`
	AuctionID  *string    `gorm:"type:varchar(64)" json:"auction_id,omitempty"`
	Amount     int64      `gorm:"not null" json:"amount"`
	Remaining  int64      `gorm:"not null" json:"remaining"`
	Status     HoldStatus `gorm:"type:varchar(16);index:idx_status_created,priority:1;not null" json:"status"`
	CreatedAt  time.Time  `gorm:"index:idx_status_created,priority:2;not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func (Hold) TableName() string {
	return "ledger_hold"
}

func (h *Hold) IsOpen() bool {
	return h.Status == HoldStatusOpen
}

func (h *Hold) Clone() *Hold {
	c := *h
	if h.ResolvedAt != nil {
		t := *h.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
