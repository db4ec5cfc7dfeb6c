package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge-ai/demon-engine/internal/ledger"
	"github.com/promptforge-ai/demon-engine/internal/model"
	"github.com/promptforge-ai/demon-engine/internal/store"
)

func newProcessor(t *testing.T) (*Processor, *ledger.Ledger) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	led := ledger.New(st, 10)
	return NewProcessor(led, st), led
}

const razorpayCaptured = `{
	"event": "payment.captured",
	"payload": {
		"payment": {
			"entity": {
				"id": "pay_ABC123",
				"notes": {"user_id": "u1", "credits": "100"}
			}
		}
	}
}`

const paddleCompleted = `{
	"event_id": "evt_987",
	"event_type": "transaction.completed",
	"data": {
		"id": "txn_1",
		"custom_data": {"user_id": "u2", "credits": "250"}
	}
}`

func TestHandleRazorpayPayment(t *testing.T) {
	p, led := newProcessor(t)

	res, err := p.HandleEvent(context.Background(), "razorpay", []byte(razorpayCaptured))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "razorpay:pay_ABC123", res.EventID)
	assert.Equal(t, int64(100), res.Credited)

	balance, err := led.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits+100), balance)
}

func TestHandlePaddleTransaction(t *testing.T) {
	p, led := newProcessor(t)

	res, err := p.HandleEvent(context.Background(), "paddle", []byte(paddleCompleted))
	require.NoError(t, err)
	assert.Equal(t, "u2", res.UserID)
	assert.Equal(t, int64(250), res.Credited)

	balance, err := led.Balance(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits+250), balance)
}

func TestReplayCreditsExactlyOnce(t *testing.T) {
	p, led := newProcessor(t)

	first, err := p.HandleEvent(context.Background(), "razorpay", []byte(razorpayCaptured))
	require.NoError(t, err)

	replay, err := p.HandleEvent(context.Background(), "razorpay", []byte(razorpayCaptured))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.TransactionID, replay.TransactionID)
	assert.Equal(t, int64(100), replay.Credited)

	balance, err := led.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits+100), balance)
}

func TestUnknownProvider(t *testing.T) {
	p, _ := newProcessor(t)

	_, err := p.HandleEvent(context.Background(), "stripe", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestIgnoredEventType(t *testing.T) {
	p, _ := newProcessor(t)

	_, err := p.HandleEvent(context.Background(), "razorpay", []byte(`{"event": "payment.failed"}`))
	assert.ErrorIs(t, err, ErrIgnoredEvent)
}

func TestMalformedEventNotMarkedProcessed(t *testing.T) {
	p, led := newProcessor(t)

	malformed := `{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {"id": "pay_X", "notes": {"user_id": "u1"}}}}
	}`
	_, err := p.HandleEvent(context.Background(), "razorpay", []byte(malformed))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	// A corrected redelivery of the same payment still credits.
	fixed := `{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {"id": "pay_X", "notes": {"user_id": "u1", "credits": "50"}}}}
	}`
	res, err := p.HandleEvent(context.Background(), "razorpay", []byte(fixed))
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	balance, err := led.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits+50), balance)
}

func TestMalformedJSON(t *testing.T) {
	p, _ := newProcessor(t)

	_, err := p.HandleEvent(context.Background(), "paddle", []byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestCrashBetweenRecordAndCreditRecovers(t *testing.T) {
	p, led := newProcessor(t)
	ctx := context.Background()

	// Simulate a delivery that recorded the event but died before the
	// credit: the record exists unprocessed.
	require.NoError(t, p.store.RecordWebhookEvent(ctx, model.WebhookEventRecord{
		EventID:  "razorpay:pay_ABC123",
		Provider: "razorpay",
	}))

	res, err := p.HandleEvent(ctx, "razorpay", []byte(razorpayCaptured))
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	balance, err := led.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.StarterGrantCredits+100), balance)
}
