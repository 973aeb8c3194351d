package repository

import (
	"context"
	"errors"
	"time"

	"riplimit/internal/model"

	"gorm.io/gorm"
)

type HoldRepository struct {
	db *gorm.DB
}

func NewHoldRepository(db *gorm.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

func (r *HoldRepository) Create(ctx context.Context, tx *gorm.DB, hold *model.Hold) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(hold).Error
}

func (r *HoldRepository) GetByBidID(ctx context.Context, tx *gorm.DB, bidID string) (*model.Hold, error) {
	if tx == nil {
		tx = r.db
	}
	var hold model.Hold
	err := tx.WithContext(ctx).Where("bid_id = ?", bidID).First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &hold, nil
}

// Update 只允许更新仍处于 OPEN 的冻结
func (r *HoldRepository) Update(ctx context.Context, tx *gorm.DB, hold *model.Hold) error {
	if hold.Status != model.HoldStatusOpen && !model.CanTransitionHold(model.HoldStatusOpen, hold.Status) {
		return model.ErrNoMatchingHold
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Hold{}).
		Where("bid_id = ? AND status = ?", hold.BidID, model.HoldStatusOpen).
		Updates(map[string]interface{}{
			"remaining":   hold.Remaining,
			"status":      hold.Status,
			"resolved_at": hold.ResolvedAt,
			"updated_at":  hold.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrNoMatchingHold
	}
	return nil
}

func (r *HoldRepository) ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]*model.Hold, error) {
	var holds []*model.Hold
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.HoldStatusOpen, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&holds).Error
	return holds, err
}

func (r *HoldRepository) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Hold{}).
		Where("status = ?", model.HoldStatusOpen).
		Count(&count).Error
	return count, err
}
