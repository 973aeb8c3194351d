package repository

import (
	"context"
	"errors"

	"riplimit/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByPaymentRef(ctx context.Context, tx *gorm.DB, paymentRef string) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.Transaction
	err := tx.WithContext(ctx).
		Where("payment_ref = ? AND type = ?", paymentRef, model.TransactionTypePurchase).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) List(ctx context.Context, q TransactionQuery) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", q.UserID)
	if q.Type != "" {
		query = query.Where("type = ?", q.Type)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	order := "created_at DESC, id DESC"
	if q.Ascending {
		order = "created_at ASC, id ASC"
	}
	query = query.Order(order).Offset(q.Offset)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	err = query.Find(&transactions).Error
	return transactions, total, err
}
