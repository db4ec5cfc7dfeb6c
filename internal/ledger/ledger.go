// Package ledger is the single source of truth for credit balances. All
// mutations are atomic compare-and-set updates with bounded retries, and
// idempotent on caller-supplied keys.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/promptforge-ai/demon-engine/internal/model"
	"github.com/promptforge-ai/demon-engine/internal/resilience"
	"github.com/promptforge-ai/demon-engine/internal/store"
)

var (
	// ErrInsufficientCredits means the balance cannot cover the debit. The
	// request layer must reject the originating execution before any
	// provider call is made.
	ErrInsufficientCredits = eris.New("insufficient credits")
	// ErrConcurrentConflict means the CAS retry budget was exhausted under
	// contention. Transient; the caller may retry the whole operation.
	ErrConcurrentConflict = eris.New("concurrent balance update conflict")
)

// Result is the outcome of a ledger mutation. Replayed is true when the
// operation's idempotency key had already been applied and the stored
// transaction was returned unchanged.
type Result struct {
	Transaction model.LedgerTransaction `json:"transaction"`
	Replayed    bool                    `json:"replayed"`
}

// Ledger mediates all credit account mutations through the store.
type Ledger struct {
	store store.Store
	retry resilience.RetryConfig
}

// New creates a Ledger with the given CAS retry budget. maxRetries <= 0
// uses the default (5 attempts).
func New(st store.Store, maxRetries int) *Ledger {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 5
	if maxRetries > 0 {
		cfg.MaxAttempts = maxRetries
	}
	cfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, store.ErrVersionConflict)
	}
	cfg.OnRetry = resilience.RetryLogger("ledger", "apply")
	return &Ledger{store: st, retry: cfg}
}

// EnsureAccount creates the account on first activity and applies the
// one-time starter grant. Safe to call on every request.
func (l *Ledger) EnsureAccount(ctx context.Context, userID string, plan model.Plan) (*model.CreditAccount, error) {
	account, err := l.store.EnsureAccount(ctx, userID, plan)
	if err != nil {
		return nil, err
	}
	if account.StarterGrantUsed {
		return account, nil
	}

	res, err := l.apply(ctx, userID, applySpec{
		txType:          model.TransactionCredit,
		amount:          model.StarterGrantCredits,
		sourceEventID:   "starter:" + userID,
		description:     "starter grant",
		purchasedDelta:  model.StarterGrantCredits,
		markStarterUsed: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ledger: starter grant")
	}
	if !res.Replayed {
		zap.L().Info("starter grant applied",
			zap.String("user_id", userID),
			zap.Int64("credits", model.StarterGrantCredits),
		)
	}
	return l.store.GetAccount(ctx, userID)
}

// Balance returns a read-only snapshot of the user's balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	account, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Account returns the full account snapshot.
func (l *Ledger) Account(ctx context.Context, userID string) (*model.CreditAccount, error) {
	return l.store.GetAccount(ctx, userID)
}

// History lists the most recent ledger transactions for the user.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]model.LedgerTransaction, error) {
	return l.store.ListTransactions(ctx, userID, limit)
}

// Archive soft-deletes the account. The transaction log stays intact and
// the account can still be read; accounts are never hard-deleted.
func (l *Ledger) Archive(ctx context.Context, userID string) error {
	if err := l.store.ArchiveAccount(ctx, userID); err != nil {
		return err
	}
	zap.L().Info("account archived", zap.String("user_id", userID))
	return nil
}

// Debit atomically decrements the balance. idempotencyKey doubles as the
// transaction ID: a replayed key returns the stored transaction with
// Replayed=true and no further effect. Fails with ErrInsufficientCredits
// before any write when the balance cannot cover amount, and with
// ErrConcurrentConflict when the bounded CAS retries are exhausted.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, idempotencyKey string) (*Result, error) {
	if amount <= 0 {
		return nil, eris.Errorf("ledger: debit amount must be positive, got %d", amount)
	}
	if idempotencyKey == "" {
		return nil, eris.New("ledger: debit requires an idempotency key")
	}

	// Fast-path replay check before touching the balance.
	if prior, err := l.store.GetTransaction(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if prior != nil {
		return &Result{Transaction: *prior, Replayed: true}, nil
	}

	res, err := resilience.DoVal(ctx, l.retry, func(ctx context.Context) (*Result, error) {
		account, err := l.store.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		if account.Balance < amount {
			return nil, ErrInsufficientCredits
		}

		tx := model.LedgerTransaction{
			TransactionID: idempotencyKey,
			UserID:        userID,
			Type:          model.TransactionDebit,
			Amount:        -amount,
			BalanceAfter:  account.Balance - amount,
			RequestID:     idempotencyKey,
			CreatedAt:     time.Now().UTC(),
		}
		err = l.store.ApplyTransaction(ctx, tx, account.Version, store.ApplyOptions{SpentDelta: amount})
		if errors.Is(err, store.ErrDuplicateTransaction) {
			// Lost the race against a concurrent retry of the same key.
			prior, gerr := l.store.GetTransaction(ctx, idempotencyKey)
			if gerr != nil {
				return nil, gerr
			}
			if prior != nil {
				return &Result{Transaction: *prior, Replayed: true}, nil
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		return &Result{Transaction: tx}, nil
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, ErrConcurrentConflict
	}
	return res, err
}

// Credit atomically increments the balance, idempotent on sourceEventID:
// if a transaction already carries this source event, it is returned
// unchanged and no double-credit occurs.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, sourceEventID string) (*Result, error) {
	if amount <= 0 {
		return nil, eris.Errorf("ledger: credit amount must be positive, got %d", amount)
	}
	return l.apply(ctx, userID, applySpec{
		txType:         model.TransactionCredit,
		amount:         amount,
		sourceEventID:  sourceEventID,
		purchasedDelta: amount,
	})
}

// Purchase records an external credit purchase, idempotent on the payment
// provider's event ID.
func (l *Ledger) Purchase(ctx context.Context, userID string, amount int64, sourceEventID string) (*Result, error) {
	if amount <= 0 {
		return nil, eris.Errorf("ledger: purchase amount must be positive, got %d", amount)
	}
	return l.apply(ctx, userID, applySpec{
		txType:         model.TransactionPurchase,
		amount:         amount,
		sourceEventID:  sourceEventID,
		description:    "credit purchase",
		purchasedDelta: amount,
	})
}

// Refund reverses a prior debit, idempotent on sourceEventID (the original
// request's idempotency key). It reduces total_spent so the purchase/spend
// invariant holds after compensation.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int64, sourceEventID, requestID, reason string) (*Result, error) {
	if amount <= 0 {
		return nil, eris.Errorf("ledger: refund amount must be positive, got %d", amount)
	}
	return l.apply(ctx, userID, applySpec{
		txType:        model.TransactionRefund,
		amount:        amount,
		sourceEventID: sourceEventID,
		requestID:     requestID,
		description:   reason,
		spentDelta:    -amount,
	})
}

// Adjust reconciles estimated versus actual cost after a completed
// execution. Negative delta is an extra debit (clamped to the available
// balance so the non-negativity invariant holds), positive delta a partial
// refund. Idempotent on "adjust:"+requestID.
func (l *Ledger) Adjust(ctx context.Context, userID string, delta int64, requestID string) (*Result, error) {
	if delta == 0 {
		return nil, nil
	}
	sourceEvent := "adjust:" + requestID

	if delta > 0 {
		return l.apply(ctx, userID, applySpec{
			txType:        model.TransactionAdjustment,
			amount:        delta,
			sourceEventID: sourceEvent,
			requestID:     requestID,
			description:   "usage adjustment refund",
			spentDelta:    -delta,
		})
	}

	return l.applyWithClamp(ctx, userID, -delta, sourceEvent, requestID)
}

// applyWithClamp debits up to amount, clamped to the current balance.
func (l *Ledger) applyWithClamp(ctx context.Context, userID string, amount int64, sourceEventID, requestID string) (*Result, error) {
	res, err := resilience.DoVal(ctx, l.retry, func(ctx context.Context) (*Result, error) {
		account, err := l.store.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		debit := amount
		if debit > account.Balance {
			debit = account.Balance
			zap.L().Warn("adjustment debit clamped to balance",
				zap.String("user_id", userID),
				zap.Int64("wanted", amount),
				zap.Int64("applied", debit),
			)
		}
		tx := model.LedgerTransaction{
			TransactionID: uuid.New().String(),
			UserID:        userID,
			Type:          model.TransactionAdjustment,
			Amount:        -debit,
			BalanceAfter:  account.Balance - debit,
			RequestID:     requestID,
			SourceEventID: sourceEventID,
			Description:   "usage adjustment debit",
			CreatedAt:     time.Now().UTC(),
		}
		err = l.store.ApplyTransaction(ctx, tx, account.Version, store.ApplyOptions{SpentDelta: debit})
		if errors.Is(err, store.ErrDuplicateTransaction) {
			return l.replayBySourceEvent(ctx, sourceEventID, err)
		}
		if err != nil {
			return nil, err
		}
		return &Result{Transaction: tx}, nil
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, ErrConcurrentConflict
	}
	return res, err
}

type applySpec struct {
	txType          model.TransactionType
	amount          int64 // signed
	sourceEventID   string
	requestID       string
	description     string
	purchasedDelta  int64
	spentDelta      int64
	markStarterUsed bool
}

func (l *Ledger) apply(ctx context.Context, userID string, spec applySpec) (*Result, error) {
	// Replay check on the source event before any write.
	if spec.sourceEventID != "" {
		if prior, err := l.store.GetTransactionBySourceEvent(ctx, spec.sourceEventID); err != nil {
			return nil, err
		} else if prior != nil {
			return &Result{Transaction: *prior, Replayed: true}, nil
		}
	}

	res, err := resilience.DoVal(ctx, l.retry, func(ctx context.Context) (*Result, error) {
		account, err := l.store.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}

		tx := model.LedgerTransaction{
			TransactionID: uuid.New().String(),
			UserID:        userID,
			Type:          spec.txType,
			Amount:        spec.amount,
			BalanceAfter:  account.Balance + spec.amount,
			RequestID:     spec.requestID,
			SourceEventID: spec.sourceEventID,
			Description:   spec.description,
			CreatedAt:     time.Now().UTC(),
		}
		err = l.store.ApplyTransaction(ctx, tx, account.Version, store.ApplyOptions{
			PurchasedDelta:  spec.purchasedDelta,
			SpentDelta:      spec.spentDelta,
			MarkStarterUsed: spec.markStarterUsed,
		})
		if errors.Is(err, store.ErrDuplicateTransaction) && spec.sourceEventID != "" {
			return l.replayBySourceEvent(ctx, spec.sourceEventID, err)
		}
		if err != nil {
			return nil, err
		}
		return &Result{Transaction: tx}, nil
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, ErrConcurrentConflict
	}
	return res, err
}

func (l *Ledger) replayBySourceEvent(ctx context.Context, sourceEventID string, dupErr error) (*Result, error) {
	prior, err := l.store.GetTransactionBySourceEvent(ctx, sourceEventID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return &Result{Transaction: *prior, Replayed: true}, nil
	}
	return nil, dupErr
}
