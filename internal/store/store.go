package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

var (
	// ErrAccountNotFound is returned when the user has no credit account.
	ErrAccountNotFound = eris.New("account not found")
	// ErrVersionConflict means the account's version changed between read
	// and write. The ledger retries a bounded number of times.
	ErrVersionConflict = eris.New("account version conflict")
	// ErrDuplicateTransaction means a transaction with the same
	// transaction_id or source_event_id already exists. The ledger treats
	// this as an idempotent replay, not a failure.
	ErrDuplicateTransaction = eris.New("duplicate transaction")
)

// ApplyOptions carries the account-total deltas for a ledger transaction.
// The ledger computes them; the store applies them atomically with the
// balance CAS and the transaction insert.
type ApplyOptions struct {
	PurchasedDelta  int64
	SpentDelta      int64
	MarkStarterUsed bool
}

// Store is the persistence interface for credit accounts, the append-only
// transaction log, and webhook event records. Implementations must provide
// atomic conditional updates (CAS on account version) and unique-key
// enforcement on transaction_id and source_event_id.
type Store interface {
	// Accounts
	EnsureAccount(ctx context.Context, userID string, plan model.Plan) (*model.CreditAccount, error)
	GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error)
	ArchiveAccount(ctx context.Context, userID string) error

	// ApplyTransaction atomically updates the account balance (CAS on
	// expectedVersion) and appends tx in a single database transaction.
	// Returns ErrVersionConflict if the version moved, or
	// ErrDuplicateTransaction if tx violates a uniqueness constraint.
	ApplyTransaction(ctx context.Context, tx model.LedgerTransaction, expectedVersion int64, opts ApplyOptions) error

	GetTransaction(ctx context.Context, transactionID string) (*model.LedgerTransaction, error)
	GetTransactionBySourceEvent(ctx context.Context, sourceEventID string) (*model.LedgerTransaction, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.LedgerTransaction, error)

	// Webhook events
	GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEventRecord, error)
	RecordWebhookEvent(ctx context.Context, rec model.WebhookEventRecord) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
