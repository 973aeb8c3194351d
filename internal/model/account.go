package model

import (
	"time"
)

// Account 用户的 RipLimit 账户
// AvailableBalance 可用于新的出价冻结，BlockedBalance 是未结算出价占用的金额。
// 两者任何时刻都不能为负，只能经由 service.Mutator 修改。
type Account struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID           string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	AvailableBalance int64     `gorm:"not null;default:0" json:"available_balance"`
	BlockedBalance   int64     `gorm:"not null;default:0" json:"blocked_balance"`
	LifetimeCredited int64     `gorm:"not null;default:0" json:"lifetime_credited"` // 计数器，不是流水求和
	LifetimeDebited  int64     `gorm:"not null;default:0" json:"lifetime_debited"`
	Version          int       `gorm:"not null;default:0" json:"-"` // 乐观锁版本号
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (Account) TableName() string {
	return "ledger_account"
}

// NewAccount 首次使用时懒创建的零余额账户
func NewAccount(userID string) *Account {
	return &Account{UserID: userID}
}

// Valid 可用和冻结余额均非负
func (a *Account) Valid() bool {
	return a.AvailableBalance >= 0 && a.BlockedBalance >= 0
}

func (a *Account) Clone() *Account {
	c := *a
	return &c
}
