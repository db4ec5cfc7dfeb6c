package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RefundEntry is a compensating refund that could not be applied when its
// request failed. Entries are retried until they succeed or exhaust their
// retry budget; refund-on-failure is mandatory, so exhaustion is logged at
// error level for operator follow-up.
type RefundEntry struct {
	RequestID     string    `json:"request_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	SourceEventID string    `json:"source_event_id"`
	Reason        string    `json:"reason"`
	LastError     string    `json:"last_error"`
	RetryCount    int       `json:"retry_count"`
	NextRetryAt   time.Time `json:"next_retry_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// RefundFunc applies a refund. It must be idempotent on SourceEventID so a
// retry after a lost acknowledgement cannot double-credit.
type RefundFunc func(ctx context.Context, e RefundEntry) error

// RefundQueue is an in-process dead-letter queue for failed compensating
// refunds.
type RefundQueue struct {
	mu      sync.Mutex
	entries []RefundEntry

	apply      RefundFunc
	maxRetries int
	interval   time.Duration
}

// NewRefundQueue creates a refund queue that retries via apply.
func NewRefundQueue(apply RefundFunc, maxRetries int, interval time.Duration) *RefundQueue {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &RefundQueue{
		apply:      apply,
		maxRetries: maxRetries,
		interval:   interval,
	}
}

// Enqueue parks a failed refund for background retry.
func (q *RefundQueue) Enqueue(e RefundEntry) {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.NextRetryAt = now.Add(q.interval)

	q.mu.Lock()
	q.entries = append(q.entries, e)
	n := len(q.entries)
	q.mu.Unlock()

	zap.L().Warn("refund parked for retry",
		zap.String("request_id", e.RequestID),
		zap.String("user_id", e.UserID),
		zap.Int64("amount", e.Amount),
		zap.String("last_error", e.LastError),
		zap.Int("queue_depth", n),
	)
}

// Len returns the number of pending refunds.
func (q *RefundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run drains the queue on a ticker until ctx is cancelled.
func (q *RefundQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	log := zap.L().With(zap.String("component", "resilience.refundq"))
	for {
		select {
		case <-ctx.Done():
			if n := q.Len(); n > 0 {
				log.Error("refund queue stopped with pending refunds", zap.Int("pending", n))
			}
			return
		case <-ticker.C:
			q.drain(ctx, log)
		}
	}
}

func (q *RefundQueue) drain(ctx context.Context, log *zap.Logger) {
	now := time.Now().UTC()

	q.mu.Lock()
	due := make([]RefundEntry, 0, len(q.entries))
	var remaining []RefundEntry
	for _, e := range q.entries {
		if e.NextRetryAt.After(now) {
			remaining = append(remaining, e)
			continue
		}
		due = append(due, e)
	}
	q.entries = remaining
	q.mu.Unlock()

	for _, e := range due {
		err := q.apply(ctx, e)
		if err == nil {
			log.Info("parked refund applied",
				zap.String("request_id", e.RequestID),
				zap.Int64("amount", e.Amount),
				zap.Int("retries", e.RetryCount),
			)
			continue
		}

		e.RetryCount++
		e.LastError = err.Error()
		if e.RetryCount >= q.maxRetries {
			log.Error("refund abandoned after max retries",
				zap.String("request_id", e.RequestID),
				zap.String("user_id", e.UserID),
				zap.Int64("amount", e.Amount),
				zap.Error(err),
			)
			continue
		}
		e.NextRetryAt = now.Add(q.interval * time.Duration(e.RetryCount))

		q.mu.Lock()
		q.entries = append(q.entries, e)
		q.mu.Unlock()
	}
}
