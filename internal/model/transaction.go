package model

import (
	"time"
)

// ============================================================================
// 交易类型
// ============================================================================

type TransactionType string

const (
	TransactionTypePurchase        TransactionType = "purchase"         // 外部支付充值
	TransactionTypeBidBlock        TransactionType = "bid_block"        // 出价冻结
	TransactionTypeBidRelease      TransactionType = "bid_release"      // 冻结退回可用
	TransactionTypeBidCapture      TransactionType = "bid_capture"      // 冻结转为消费
	TransactionTypeAdminAdjustment TransactionType = "admin_adjustment" // 管理员调账
)

var transactionTypes = map[TransactionType]struct{}{
	TransactionTypePurchase:        {},
	TransactionTypeBidBlock:        {},
	TransactionTypeBidRelease:      {},
	TransactionTypeBidCapture:      {},
	TransactionTypeAdminAdjustment: {},
}

func (t TransactionType) Valid() bool {
	_, ok := transactionTypes[t]
	return ok
}

func (t TransactionType) IsBid() bool {
	return t == TransactionTypeBidBlock || t == TransactionTypeBidRelease || t == TransactionTypeBidCapture
}

// ============================================================================
// 账户流水
// ============================================================================

// Transaction 账户流水
// 只追加，不修改，不删除；纠错只能追加新的 admin_adjustment。
//
// Amount 对 purchase 和三种 bid 流水是正数金额，对 admin_adjustment 是带符号的可用余额变化量。
// 每种类型只使用自己的可选字段：
//   - purchase: PaymentRef
//   - bid_block / bid_release / bid_capture: RelatedBidID（必填）, RelatedAuctionID
//   - admin_adjustment: Reason, ActorID（必填）
type Transaction struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID           string          `gorm:"type:varchar(64);index:idx_user_created,priority:1;not null" json:"user_id"`
	Type             TransactionType `gorm:"type:varchar(32);index;not null" json:"type"`
	Amount           int64           `gorm:"not null" json:"amount"`
	PaymentRef       *string         `gorm:"type:varchar(128);uniqueIndex" json:"payment_ref,omitempty"`
	RelatedBidID     *string         `gorm:"type:varchar(64);index" json:"related_bid_id,omitempty"`
	RelatedAuctionID *string         `gorm:"type:varchar(64)" json:"related_auction_id,omitempty"`
	Reason           *string         `gorm:"type:varchar(256)" json:"reason,omitempty"`
	ActorID          *string         `gorm:"type:varchar(64)" json:"actor_id,omitempty"`
	AvailableAfter   int64           `gorm:"not null" json:"available_after"`
	BlockedAfter     int64           `gorm:"not null" json:"blocked_after"`
	CreatedAt        time.Time       `gorm:"index:idx_user_created,priority:2;not null" json:"created_at"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}

// Effect 返回这条流水对 (可用, 冻结) 的影响，审计回放使用
func (t *Transaction) Effect() (available, blocked int64) {
	switch t.Type {
	case TransactionTypePurchase, TransactionTypeAdminAdjustment:
		return t.Amount, 0
	case TransactionTypeBidBlock:
		return -t.Amount, t.Amount
	case TransactionTypeBidRelease:
		return t.Amount, -t.Amount
	case TransactionTypeBidCapture:
		return 0, -t.Amount
	}
	return 0, 0
}

// StringPtr 空字符串返回 nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
