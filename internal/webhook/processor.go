// Package webhook turns payment-provider events into credit purchases.
// Processing is idempotent on the provider's event ID: a replayed delivery
// returns the original outcome and never credits twice.
package webhook

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/promptforge-ai/demon-engine/internal/ledger"
	"github.com/promptforge-ai/demon-engine/internal/model"
	"github.com/promptforge-ai/demon-engine/internal/store"
)

var (
	// ErrUnknownProvider means the webhook path named a payment provider
	// we do not integrate with.
	ErrUnknownProvider = eris.New("unknown payment provider")
	// ErrMalformedEvent means the payload could not be parsed or is
	// missing the user or credit amount. Malformed events are never
	// marked processed, so a corrected redelivery can still succeed.
	ErrMalformedEvent = eris.New("malformed webhook event")
	// ErrIgnoredEvent means the event type is not one we act on. Ignored
	// events are acknowledged so the provider stops redelivering them.
	ErrIgnoredEvent = eris.New("ignored webhook event type")
)

// Result is the outcome of processing one webhook delivery.
type Result struct {
	EventID       string `json:"event_id"`
	UserID        string `json:"user_id"`
	Credited      int64  `json:"credited"`
	TransactionID string `json:"transaction_id"`
	Replayed      bool   `json:"replayed"`
}

// Processor handles payment webhook deliveries.
type Processor struct {
	ledger *ledger.Ledger
	store  store.Store
}

// NewProcessor creates a Processor.
func NewProcessor(led *ledger.Ledger, st store.Store) *Processor {
	return &Processor{ledger: led, store: st}
}

// HandleEvent parses and applies one delivery from the named provider.
// The event record is written before the credit so a crash between the
// two leaves a resumable trail, and the ledger's own source-event
// idempotency backstops the record either way.
func (p *Processor) HandleEvent(ctx context.Context, providerName string, payload []byte) (*Result, error) {
	event, err := parseEvent(providerName, payload)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "webhook"),
		zap.String("provider", providerName),
		zap.String("event_id", event.EventID),
	)

	if prior, err := p.store.GetWebhookEvent(ctx, event.EventID); err != nil {
		return nil, err
	} else if prior != nil && prior.Processed {
		log.Info("webhook replay ignored", zap.String("transaction_id", prior.TransactionID))
		tx, err := p.store.GetTransaction(ctx, prior.TransactionID)
		if err != nil {
			return nil, err
		}
		res := &Result{
			EventID:       event.EventID,
			TransactionID: prior.TransactionID,
			Replayed:      true,
		}
		if tx != nil {
			res.UserID = tx.UserID
			res.Credited = tx.Amount
		}
		return res, nil
	}

	now := time.Now().UTC()
	if err := p.store.RecordWebhookEvent(ctx, model.WebhookEventRecord{
		EventID:    event.EventID,
		Provider:   providerName,
		ReceivedAt: now,
	}); err != nil {
		return nil, err
	}

	if _, err := p.ledger.EnsureAccount(ctx, event.UserID, model.PlanFree); err != nil {
		return nil, err
	}
	credit, err := p.ledger.Purchase(ctx, event.UserID, event.CreditAmount, event.EventID)
	if err != nil {
		return nil, eris.Wrap(err, "webhook: apply purchase")
	}

	processedAt := time.Now().UTC()
	if err := p.store.RecordWebhookEvent(ctx, model.WebhookEventRecord{
		EventID:       event.EventID,
		Provider:      providerName,
		Processed:     true,
		TransactionID: credit.Transaction.TransactionID,
		ReceivedAt:    now,
		ProcessedAt:   &processedAt,
	}); err != nil {
		// The purchase is already durable and idempotent; the stale record
		// only costs an extra ledger lookup on replay.
		zap.L().Warn("webhook record update failed", zap.Error(err))
	}

	log.Info("payment credited",
		zap.String("user_id", event.UserID),
		zap.Int64("credits", event.CreditAmount),
		zap.Bool("replayed", credit.Replayed),
	)
	return &Result{
		EventID:       event.EventID,
		UserID:        event.UserID,
		Credited:      event.CreditAmount,
		TransactionID: credit.Transaction.TransactionID,
		Replayed:      credit.Replayed,
	}, nil
}
