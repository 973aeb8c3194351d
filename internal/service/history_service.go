package service

import (
	"context"
	"fmt"

	"riplimit/internal/model"
	"riplimit/internal/repository"
)

// HistoryService 账户流水查询，只读
type HistoryService struct {
	store           repository.Store
	defaultPageSize int
	maxPageSize     int
}

func NewHistoryService(store repository.Store, defaultPageSize, maxPageSize int) *HistoryService {
	return &HistoryService{
		store:           store,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

type ListFilter struct {
	Type   model.TransactionType
	Limit  int
	Offset int
}

type TransactionPage struct {
	Transactions []*model.Transaction `json:"transactions"`
	Total        int64                `json:"total"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

// List 最新的在前，created_at 相同时按 id 倒序
func (s *HistoryService) List(ctx context.Context, userID string, filter ListFilter) (*TransactionPage, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidArgument)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidTransactionType, filter.Type)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = s.defaultPageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	list, total, err := s.store.QueryTransactions(ctx, repository.TransactionQuery{
		UserID: userID,
		Type:   filter.Type,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*model.Transaction{}
	}

	return &TransactionPage{
		Transactions: list,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}
