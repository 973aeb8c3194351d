package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidOutcome         = errors.New("invalid hold outcome")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrDuplicateHold          = errors.New("hold already exists for bid")
	ErrNoMatchingHold         = errors.New("no matching open hold")
	ErrUnauthorized           = errors.New("admin role required")
	ErrStoreUnavailable       = errors.New("ledger store unavailable")
	ErrAccountNotFound        = errors.New("account not found")
)

// InsufficientBalanceError 携带缺口金额，errors.Is(err, ErrInsufficientBalance) 成立
type InsufficientBalanceError struct {
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Requested - e.Available
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
