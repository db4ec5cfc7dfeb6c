package model

import "time"

// TransactionType classifies a ledger transaction.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionRefund     TransactionType = "refund"
	TransactionDebit      TransactionType = "debit"
	TransactionCredit     TransactionType = "credit"
	TransactionAdjustment TransactionType = "adjustment"
)

// Plan is the user's billing plan, supplied by the external billing layer.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// StarterGrantCredits is the one-time credit grant applied on first activity.
const StarterGrantCredits int64 = 25

// CreditAccount is the per-user credit balance. Balance is mutated only
// through ledger transactions; Version is the compare-and-set token.
type CreditAccount struct {
	UserID           string     `json:"user_id"`
	Balance          int64      `json:"balance"`
	TotalPurchased   int64      `json:"total_purchased"`
	TotalSpent       int64      `json:"total_spent"`
	StarterGrantUsed bool       `json:"starter_grant_used"`
	Plan             Plan       `json:"plan"`
	Version          int64      `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
}

// LedgerTransaction is one immutable entry in the append-only credit log.
// TransactionID doubles as the idempotency key for debits; SourceEventID
// carries the external payment event ID for credits and is unique when set.
type LedgerTransaction struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Type          TransactionType `json:"type"`
	Amount        int64           `json:"amount"` // signed: negative for debits
	BalanceAfter  int64           `json:"balance_after"`
	RequestID     string          `json:"request_id,omitempty"`
	SourceEventID string          `json:"source_event_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IsPro reports whether the account's plan grants access to pro-only
// pipelines.
func (a *CreditAccount) IsPro() bool {
	return a.Plan == PlanPro
}
