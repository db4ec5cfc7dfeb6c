package model

import "time"

// WebhookEvent is a payment-provider event after signature verification.
// UserID and CreditAmount are extracted from provider-specific metadata by
// the webhook processor.
type WebhookEvent struct {
	EventID      string            `json:"event_id"`
	Provider     string            `json:"provider"` // "razorpay", "paddle"
	Type         string            `json:"type"`
	UserID       string            `json:"user_id"`
	CreditAmount int64             `json:"credit_amount"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ReceivedAt   time.Time         `json:"received_at"`
}

// WebhookEventRecord enforces webhook idempotency: a duplicate event_id is
// a no-op that returns the prior transaction.
type WebhookEventRecord struct {
	EventID       string     `json:"event_id"`
	Provider      string     `json:"provider"`
	Processed     bool       `json:"processed"`
	TransactionID string     `json:"transaction_id,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}
