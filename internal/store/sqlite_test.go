package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_EnsureAccount_CreatesOnce(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.EnsureAccount(ctx, "user-1", model.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, "user-1", a.UserID)
	assert.Equal(t, int64(0), a.Balance)
	assert.False(t, a.StarterGrantUsed)

	// Second call is a no-op aside from plan refresh.
	b, err := s.EnsureAccount(ctx, "user-1", model.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, model.PlanPro, b.Plan)
	assert.Equal(t, a.CreatedAt, b.CreatedAt)
}

func TestSQLite_GetAccount_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSQLite_ApplyTransaction_UpdatesBalanceAndVersion(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.EnsureAccount(ctx, "user-1", model.PlanFree)
	require.NoError(t, err)

	tx := model.LedgerTransaction{
		TransactionID: "tx-1",
		UserID:        "user-1",
		Type:          model.TransactionCredit,
		Amount:        10,
		BalanceAfter:  10,
		CreatedAt:     time.Now().UTC(),
	}
	err = s.ApplyTransaction(ctx, tx, a.Version, ApplyOptions{PurchasedDelta: 10})
	require.NoError(t, err)

	got, err := s.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Balance)
	assert.Equal(t, int64(10), got.TotalPurchased)
	assert.Equal(t, a.Version+1, got.Version)
}

func TestSQLite_ApplyTransaction_VersionConflict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.EnsureAccount(ctx, "user-1", model.PlanFree)
	require.NoError(t, err)

	tx := model.LedgerTransaction{
		TransactionID: "tx-1", UserID: "user-1", Type: model.TransactionCredit,
		Amount: 10, BalanceAfter: 10, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.ApplyTransaction(ctx, tx, a.Version, ApplyOptions{PurchasedDelta: 10}))

	// Stale version must not apply.
	tx2 := tx
	tx2.TransactionID = "tx-2"
	err = s.ApplyTransaction(ctx, tx2, a.Version, ApplyOptions{PurchasedDelta: 10})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSQLite_ApplyTransaction_DuplicateTransactionID(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.EnsureAccount(ctx, "user-1", model.PlanFree)
	require.NoError(t, err)

	tx := model.LedgerTransaction{
		TransactionID: "tx-1", UserID: "user-1", Type: model.TransactionCredit,
		Amount: 10, BalanceAfter: 10, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.ApplyTransaction(ctx, tx, a.Version, ApplyOptions{PurchasedDelta: 10}))

	// Same transaction_id with the fresh version: unique violation, and the
	// balance update inside the aborted transaction must not stick.
	err = s.ApplyTransaction(ctx, tx, a.Version+1, ApplyOptions{PurchasedDelta: 10})
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	got, err := s.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Balance)
}

func TestSQLite_ApplyTransaction_DuplicateSourceEvent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.EnsureAccount(ctx, "user-1", model.PlanFree)
	require.NoError(t, err)

	tx := model.LedgerTransaction{
		TransactionID: "tx-1", UserID: "user-1", Type: model.TransactionPurchase,
		Amount: 100, BalanceAfter: 100, SourceEventID: "evt_abc", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.ApplyTransaction(ctx, tx, a.Version, ApplyOptions{PurchasedDelta: 100}))

	tx2 := tx
	tx2.TransactionID = "tx-2"
	err = s.ApplyTransaction(ctx, tx2, a.Version+1, ApplyOptions{PurchasedDelta: 100})
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	// Lookup by source event returns the original.
	found, err := s.GetTransactionBySourceEvent(ctx, "evt_abc")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "tx-1", found.TransactionID)
}

func TestSQLite_ListTransactions(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.EnsureAccount(ctx, "user-1", model.PlanFree)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i, id := range []string{"tx-1", "tx-2", "tx-3"} {
		tx := model.LedgerTransaction{
			TransactionID: id, UserID: "user-1", Type: model.TransactionCredit,
			Amount: 5, BalanceAfter: int64(5 * (i + 1)),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.ApplyTransaction(ctx, tx, a.Version+int64(i), ApplyOptions{PurchasedDelta: 5}))
	}

	txs, err := s.ListTransactions(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-3", txs[0].TransactionID)
}

func TestSQLite_WebhookEvents_Roundtrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	got, err := s.GetWebhookEvent(ctx, "evt_missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().UTC()
	rec := model.WebhookEventRecord{
		EventID: "evt_1", Provider: "razorpay", Processed: false, ReceivedAt: now,
	}
	require.NoError(t, s.RecordWebhookEvent(ctx, rec))

	rec.Processed = true
	rec.TransactionID = "tx-9"
	rec.ProcessedAt = &now
	require.NoError(t, s.RecordWebhookEvent(ctx, rec))

	got, err = s.GetWebhookEvent(ctx, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Processed)
	assert.Equal(t, "tx-9", got.TransactionID)
	require.NotNil(t, got.ProcessedAt)
}

func TestSQLite_ArchiveAccount(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.EnsureAccount(ctx, "user-1", model.PlanFree)
	require.NoError(t, err)

	require.NoError(t, s.ArchiveAccount(ctx, "user-1"))

	got, err := s.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.NotNil(t, got.ArchivedAt)

	// Archiving twice reports not found (already archived).
	err = s.ArchiveAccount(ctx, "user-1")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
