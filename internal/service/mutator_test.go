package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"riplimit/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredit_FreshAccount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	txn, err := l.mutator.Credit(ctx, "u1", 1000, model.TransactionTypePurchase, CreditMeta{PaymentRef: "pay-1"})
	require.NoError(t, err)

	assert.Equal(t, model.TransactionTypePurchase, txn.Type)
	assert.Equal(t, int64(1000), txn.Amount)
	assert.Equal(t, int64(1000), txn.AvailableAfter)
	assert.Equal(t, "pay-1", model.StringValue(txn.PaymentRef))

	acc := l.account(t, "u1")
	assert.Equal(t, int64(1000), acc.AvailableBalance)
	assert.Equal(t, int64(0), acc.BlockedBalance)
	assert.Equal(t, int64(1000), acc.LifetimeCredited)
	assert.Len(t, l.transactions(t, "u1"), 1)
}

func TestCredit_Validation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		amount int64
		txType model.TransactionType
		want   error
	}{
		{"zero amount", "u1", 0, model.TransactionTypePurchase, model.ErrInvalidAmount},
		{"negative amount", "u1", -5, model.TransactionTypePurchase, model.ErrInvalidAmount},
		{"non creditable type", "u1", 10, model.TransactionTypeBidRelease, model.ErrInvalidTransactionType},
		{"unknown type", "u1", 10, model.TransactionType("gift"), model.ErrInvalidTransactionType},
		{"missing user", "", 10, model.TransactionTypePurchase, model.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.mutator.Credit(ctx, tt.userID, tt.amount, tt.txType, CreditMeta{})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := l.store.GetAccount(ctx, "u1")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestCredit_IdempotentPerPaymentRef(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first, err := l.mutator.Credit(ctx, "u1", 500, model.TransactionTypePurchase, CreditMeta{PaymentRef: "pay-9"})
	require.NoError(t, err)
	second, err := l.mutator.Credit(ctx, "u1", 500, model.TransactionTypePurchase, CreditMeta{PaymentRef: "pay-9"})
	require.NoError(t, err)

	assert.Equal(t, first.TransactionNo, second.TransactionNo)
	assert.Equal(t, int64(500), l.account(t, "u1").AvailableBalance)
	assert.Len(t, l.transactions(t, "u1"), 1)

	_, err = l.mutator.Credit(ctx, "u2", 500, model.TransactionTypePurchase, CreditMeta{PaymentRef: "pay-9"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	// 同一 ref 金额不一致说明调用方出错，不能当作重放
	_, err = l.mutator.Credit(ctx, "u1", 700, model.TransactionTypePurchase, CreditMeta{PaymentRef: "pay-9"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Equal(t, int64(500), l.account(t, "u1").AvailableBalance)
	assert.Len(t, l.transactions(t, "u1"), 1)
}

func TestCredit_ConcurrentSamePaymentRef(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.mutator.Credit(ctx, "u1", 100, model.TransactionTypePurchase, CreditMeta{PaymentRef: "pay-dup"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), l.account(t, "u1").AvailableBalance)
	assert.Len(t, l.transactions(t, "u1"), 1)
}

func TestBlock_MovesAvailableToBlocked(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 1000)

	txn, err := l.mutator.Block(ctx, "u1", 300, "bid-42", "auction-7")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeBidBlock, txn.Type)
	assert.Equal(t, "bid-42", model.StringValue(txn.RelatedBidID))
	assert.Equal(t, "auction-7", model.StringValue(txn.RelatedAuctionID))
	assert.Equal(t, int64(700), txn.AvailableAfter)
	assert.Equal(t, int64(300), txn.BlockedAfter)

	acc := l.account(t, "u1")
	assert.Equal(t, int64(700), acc.AvailableBalance)
	assert.Equal(t, int64(300), acc.BlockedBalance)

	hold, err := l.store.GetHold(ctx, "bid-42")
	require.NoError(t, err)
	require.NotNil(t, hold)
	assert.Equal(t, model.HoldStatusOpen, hold.Status)
	assert.Equal(t, int64(300), hold.Remaining)
}

func TestBlock_DuplicateBidLeavesStateUnchanged(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 1000)

	_, err := l.mutator.Block(ctx, "u1", 300, "bid-42", "")
	require.NoError(t, err)

	_, err = l.mutator.Block(ctx, "u1", 100, "bid-42", "")
	assert.ErrorIs(t, err, model.ErrDuplicateHold)

	acc := l.account(t, "u1")
	assert.Equal(t, int64(700), acc.AvailableBalance)
	assert.Equal(t, int64(300), acc.BlockedBalance)
	assert.Len(t, l.transactions(t, "u1"), 2)
}

func TestBlock_InsufficientBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 1000)
	_, err := l.mutator.Block(ctx, "u1", 300, "bid-42", "")
	require.NoError(t, err)

	_, err = l.mutator.Block(ctx, "u1", 1500, "bid-43", "")
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	var insufficient *model.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(800), insufficient.Shortfall())

	acc := l.account(t, "u1")
	assert.Equal(t, int64(700), acc.AvailableBalance)
	assert.Equal(t, int64(300), acc.BlockedBalance)

	hold, err := l.store.GetHold(ctx, "bid-43")
	require.NoError(t, err)
	assert.Nil(t, hold)
}

func TestReleaseAndCapture_Conservation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 1000)

	_, err := l.mutator.Block(ctx, "u1", 300, "bid-a", "")
	require.NoError(t, err)
	acc := l.account(t, "u1")
	assert.Equal(t, int64(1000), acc.AvailableBalance+acc.BlockedBalance)

	_, err = l.mutator.Release(ctx, "u1", 300, "bid-a")
	require.NoError(t, err)
	acc = l.account(t, "u1")
	assert.Equal(t, int64(1000), acc.AvailableBalance)
	assert.Equal(t, int64(0), acc.BlockedBalance)

	_, err = l.mutator.Block(ctx, "u1", 400, "bid-b", "")
	require.NoError(t, err)
	_, err = l.mutator.Capture(ctx, "u1", 400, "bid-b")
	require.NoError(t, err)
	acc = l.account(t, "u1")
	assert.Equal(t, int64(600), acc.AvailableBalance)
	assert.Equal(t, int64(0), acc.BlockedBalance)
	assert.Equal(t, int64(400), acc.LifetimeDebited)

	released, err := l.store.GetHold(ctx, "bid-a")
	require.NoError(t, err)
	assert.Equal(t, model.HoldStatusReleased, released.Status)
	assert.NotNil(t, released.ResolvedAt)

	captured, err := l.store.GetHold(ctx, "bid-b")
	require.NoError(t, err)
	assert.Equal(t, model.HoldStatusCaptured, captured.Status)
}

func TestRelease_PartialKeepsHoldOpen(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 1000)
	_, err := l.mutator.Block(ctx, "u1", 300, "bid-a", "")
	require.NoError(t, err)

	_, err = l.mutator.Release(ctx, "u1", 100, "bid-a")
	require.NoError(t, err)

	hold, err := l.store.GetHold(ctx, "bid-a")
	require.NoError(t, err)
	assert.Equal(t, model.HoldStatusOpen, hold.Status)
	assert.Equal(t, int64(200), hold.Remaining)

	_, err = l.mutator.Capture(ctx, "u1", 250, "bid-a")
	assert.ErrorIs(t, err, model.ErrNoMatchingHold)

	_, err = l.mutator.Capture(ctx, "u1", 200, "bid-a")
	require.NoError(t, err)

	acc := l.account(t, "u1")
	assert.Equal(t, int64(800), acc.AvailableBalance)
	assert.Equal(t, int64(0), acc.BlockedBalance)
	assert.Equal(t, int64(200), acc.LifetimeDebited)
}

func TestRelease_NoMatchingHold(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 1000)
	l.fund(t, "u2", 1000)
	_, err := l.mutator.Block(ctx, "u1", 300, "bid-a", "")
	require.NoError(t, err)

	_, err = l.mutator.Release(ctx, "u1", 300, "bid-unknown")
	assert.ErrorIs(t, err, model.ErrNoMatchingHold)

	// 不能结算别人的冻结
	_, err = l.mutator.Release(ctx, "u2", 300, "bid-a")
	assert.ErrorIs(t, err, model.ErrNoMatchingHold)

	_, err = l.mutator.Release(ctx, "u1", 0, "bid-a")
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	acc := l.account(t, "u1")
	assert.Equal(t, int64(300), acc.BlockedBalance)
	assert.Equal(t, int64(1000), l.account(t, "u2").AvailableBalance)
}

func TestAdjust(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 1000)
	_, err := l.mutator.Block(ctx, "u1", 300, "bid-42", "")
	require.NoError(t, err)

	_, err = l.mutator.Adjust(ctx, buyer, "u1", -50, "correction")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	assert.Equal(t, int64(700), l.account(t, "u1").AvailableBalance)

	txn, err := l.mutator.Adjust(ctx, admin, "u1", -50, "correction")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeAdminAdjustment, txn.Type)
	assert.Equal(t, int64(-50), txn.Amount)
	assert.Equal(t, "correction", model.StringValue(txn.Reason))
	assert.Equal(t, admin.UserID, model.StringValue(txn.ActorID))

	acc := l.account(t, "u1")
	assert.Equal(t, int64(650), acc.AvailableBalance)
	assert.Equal(t, int64(50), acc.LifetimeDebited)

	_, err = l.mutator.Adjust(ctx, admin, "u1", 25, "goodwill")
	require.NoError(t, err)
	acc = l.account(t, "u1")
	assert.Equal(t, int64(675), acc.AvailableBalance)
	assert.Equal(t, int64(1025), acc.LifetimeCredited)
}

func TestAdjust_Validation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 100)

	_, err := l.mutator.Adjust(ctx, admin, "u1", 0, "noop")
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	_, err = l.mutator.Adjust(ctx, admin, "u1", 10, "   ")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = l.mutator.Adjust(ctx, admin, "u1", -101, "too much")
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	acc := l.account(t, "u1")
	assert.Equal(t, int64(100), acc.AvailableBalance)
	assert.Len(t, l.transactions(t, "u1"), 1)
}

func TestMutations_EnqueueOneEventPerTransaction(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 1000)
	_, err := l.mutator.Block(ctx, "u1", 300, "bid-42", "auction-1")
	require.NoError(t, err)
	_, err = l.mutator.Block(ctx, "u1", 5000, "bid-43", "")
	require.Error(t, err)

	msgs := l.store.Outbox()
	require.Len(t, msgs, 2)

	var event model.LedgerEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Payload), &event))
	assert.Equal(t, "ledger.events", msgs[1].Topic)
	assert.Equal(t, "u1", msgs[1].MessageKey)
	assert.Equal(t, model.TransactionTypeBidBlock, event.Type)
	assert.Equal(t, "bid-42", event.RelatedBidID)
	assert.Equal(t, int64(300), event.BlockedAfter)
}

func TestMutations_ConcurrentSameAccount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.fund(t, "u1", 1000)

	// 50 个并发冻结各 30，最多只能成功 33 个
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.mutator.Block(ctx, "u1", 30, fmt.Sprintf("bid-%d", i), "")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, model.ErrInsufficientBalance)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 33, succeeded)
	acc := l.account(t, "u1")
	assert.Equal(t, int64(10), acc.AvailableBalance)
	assert.Equal(t, int64(990), acc.BlockedBalance)

	available, blocked := Replay(l.transactions(t, "u1"))
	assert.Equal(t, acc.AvailableBalance, available)
	assert.Equal(t, acc.BlockedBalance, blocked)
}

func TestMutations_ParallelAccounts(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := 0; u < 10; u++ {
		userID := fmt.Sprintf("user-%d", u)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := l.mutator.Credit(ctx, userID, 10, model.TransactionTypePurchase, CreditMeta{})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for u := 0; u < 10; u++ {
		acc := l.account(t, fmt.Sprintf("user-%d", u))
		assert.Equal(t, int64(200), acc.AvailableBalance)
	}
}
