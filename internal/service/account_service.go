package service

import (
	"context"
	"errors"
	"fmt"

	"riplimit/internal/model"
	"riplimit/internal/repository"
)

// AccountService 用户自己的余额查询
type AccountService struct {
	store repository.Store
}

func NewAccountService(store repository.Store) *AccountService {
	return &AccountService{store: store}
}

// Balance 账户首次变动前返回零余额，不落库
type Balance struct {
	UserID           string `json:"user_id"`
	AvailableBalance int64  `json:"available_balance"`
	BlockedBalance   int64  `json:"blocked_balance"`
	TotalBalance     int64  `json:"total_balance"`
	LifetimeCredited int64  `json:"lifetime_credited"`
	LifetimeDebited  int64  `json:"lifetime_debited"`
}

func (s *AccountService) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidArgument)
	}

	account, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, model.ErrAccountNotFound) {
		account, err = model.NewAccount(userID), nil
	}
	if err != nil {
		return nil, err
	}

	return &Balance{
		UserID:           account.UserID,
		AvailableBalance: account.AvailableBalance,
		BlockedBalance:   account.BlockedBalance,
		TotalBalance:     account.AvailableBalance + account.BlockedBalance,
		LifetimeCredited: account.LifetimeCredited,
		LifetimeDebited:  account.LifetimeDebited,
	}, nil
}
