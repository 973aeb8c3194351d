package repository

import (
	"context"
	"errors"
	"time"

	"riplimit/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreateForUpdate 懒创建账户并加行锁，必须在事务内调用
func (r *AccountRepository) GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Account, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(model.NewAccount(userID)).Error
	if err != nil {
		return nil, err
	}

	var account model.Account
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Save 按版本号写回余额，版本不一致返回 ErrOptimisticLock
func (r *AccountRepository) Save(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", account.UserID, account.Version).
		Updates(map[string]interface{}{
			"available_balance": account.AvailableBalance,
			"blocked_balance":   account.BlockedBalance,
			"lifetime_credited": account.LifetimeCredited,
			"lifetime_debited":  account.LifetimeDebited,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	account.Version++
	account.UpdatedAt = now
	return nil
}

func (r *AccountRepository) Totals(ctx context.Context) (*AccountTotals, error) {
	var totals AccountTotals
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Select(`COUNT(*) AS total_users,
			COALESCE(SUM(available_balance), 0) AS total_available,
			COALESCE(SUM(blocked_balance), 0) AS total_blocked,
			COALESCE(SUM(lifetime_credited), 0) AS total_lifetime_credited,
			COALESCE(SUM(lifetime_debited), 0) AS total_lifetime_debited`).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

func (r *AccountRepository) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("updated_at >= ?", since).
		Order("updated_at DESC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}
