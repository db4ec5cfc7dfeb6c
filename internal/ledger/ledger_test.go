package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge-ai/demon-engine/internal/model"
	"github.com/promptforge-ai/demon-engine/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, 10)
}

func TestEnsureAccountStarterGrant(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	account, err := l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits), account.Balance)
	assert.True(t, account.StarterGrantUsed)

	// Granted once, no matter how often the account is ensured.
	account, err = l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits), account.Balance)
}

func TestDebitIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)

	res, err := l.Debit(ctx, "u1", 10, "req-1")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(model.StarterGrantCredits-10), res.Transaction.BalanceAfter)

	// Same key replays the stored transaction and does not debit again.
	res, err = l.Debit(ctx, "u1", 10, "req-1")
	require.NoError(t, err)
	assert.True(t, res.Replayed)

	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits-10), balance)
}

func TestDebitInsufficientCredits(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)

	_, err = l.Debit(ctx, "u1", model.StarterGrantCredits+1, "req-over")
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	// Balance untouched and the failed key is reusable.
	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits), balance)

	_, err = l.Debit(ctx, "u1", 5, "req-over")
	require.NoError(t, err)
}

func TestCreditIdempotentOnSourceEvent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)

	first, err := l.Purchase(ctx, "u1", 100, "evt_pay_1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	replay, err := l.Purchase(ctx, "u1", 100, "evt_pay_1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Transaction.TransactionID, replay.Transaction.TransactionID)

	account, err := l.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits+100), account.Balance)
	assert.Equal(t, int64(model.StarterGrantCredits+100), account.TotalPurchased)
}

func TestRefundRestoresBalanceAndSpent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)

	_, err = l.Debit(ctx, "u1", 12, "req-2")
	require.NoError(t, err)

	res, err := l.Refund(ctx, "u1", 12, "refund:req-2", "req-2", "provider failure")
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	account, err := l.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits), account.Balance)
	assert.Equal(t, int64(0), account.TotalSpent)

	// A retried refund is a no-op.
	res, err = l.Refund(ctx, "u1", 12, "refund:req-2", "req-2", "provider failure")
	require.NoError(t, err)
	assert.True(t, res.Replayed)

	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits), balance)
}

func TestAdjustClampsToBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)

	_, err = l.Debit(ctx, "u1", 20, "req-3")
	require.NoError(t, err)

	// Actual cost came in 10 over the estimate but only 5 remain.
	res, err := l.Adjust(ctx, "u1", -10, "req-3")
	require.NoError(t, err)
	assert.Equal(t, int64(-5), res.Transaction.Amount)

	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestAdjustRefundsOverestimate(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)

	_, err = l.Debit(ctx, "u1", 20, "req-4")
	require.NoError(t, err)

	res, err := l.Adjust(ctx, "u1", 8, "req-4")
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Transaction.Amount)

	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits-12), balance)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)
	_, err = l.Purchase(ctx, "u1", 75, "evt_seed")
	require.NoError(t, err)
	// 100 credits total, 40 workers trying to take 5 each.

	const workers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Debit(ctx, "u1", 5, fmt.Sprintf("req-c-%d", i))
			if err == nil {
				mu.Lock()
				succeeded += 5
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100)-succeeded, balance)
	assert.GreaterOrEqual(t, balance, int64(0))
}

func TestArchiveKeepsHistory(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "u1", model.PlanFree)
	require.NoError(t, err)
	_, err = l.Debit(ctx, "u1", 5, "req-a-1")
	require.NoError(t, err)

	require.NoError(t, l.Archive(ctx, "u1"))

	account, err := l.Account(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, account.ArchivedAt)

	// The transaction log survives the archive.
	history, err := l.History(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
