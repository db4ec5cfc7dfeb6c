package webhook

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

func parseEvent(providerName string, payload []byte) (*model.WebhookEvent, error) {
	switch providerName {
	case "razorpay":
		return parseRazorpay(payload)
	case "paddle":
		return parsePaddle(payload)
	default:
		return nil, eris.Wrapf(ErrUnknownProvider, "webhook: provider %q", providerName)
	}
}

// razorpayEvent covers the payment.captured shape. The purchase metadata
// rides in the payment's notes.
type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID    string            `json:"id"`
				Notes map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func parseRazorpay(payload []byte) (*model.WebhookEvent, error) {
	var ev razorpayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, eris.Wrap(ErrMalformedEvent, "webhook: razorpay payload")
	}
	if ev.Event != "payment.captured" {
		return nil, eris.Wrapf(ErrIgnoredEvent, "webhook: razorpay event %q", ev.Event)
	}

	entity := ev.Payload.Payment.Entity
	if entity.ID == "" {
		return nil, eris.Wrap(ErrMalformedEvent, "webhook: razorpay payment id missing")
	}
	userID := entity.Notes["user_id"]
	credits, err := strconv.ParseInt(entity.Notes["credits"], 10, 64)
	if userID == "" || err != nil || credits <= 0 {
		return nil, eris.Wrap(ErrMalformedEvent, "webhook: razorpay notes missing user_id or credits")
	}

	return &model.WebhookEvent{
		EventID:      "razorpay:" + entity.ID,
		Provider:     "razorpay",
		Type:         ev.Event,
		UserID:       userID,
		CreditAmount: credits,
		Metadata:     entity.Notes,
		ReceivedAt:   time.Now().UTC(),
	}, nil
}

// paddleEvent covers transaction.completed. The purchase metadata rides in
// custom_data.
type paddleEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID         string            `json:"id"`
		CustomData map[string]string `json:"custom_data"`
	} `json:"data"`
}

func parsePaddle(payload []byte) (*model.WebhookEvent, error) {
	var ev paddleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, eris.Wrap(ErrMalformedEvent, "webhook: paddle payload")
	}
	if ev.EventType != "transaction.completed" {
		return nil, eris.Wrapf(ErrIgnoredEvent, "webhook: paddle event %q", ev.EventType)
	}
	if ev.EventID == "" {
		return nil, eris.Wrap(ErrMalformedEvent, "webhook: paddle event_id missing")
	}

	userID := ev.Data.CustomData["user_id"]
	credits, err := strconv.ParseInt(ev.Data.CustomData["credits"], 10, 64)
	if userID == "" || err != nil || credits <= 0 {
		return nil, eris.Wrap(ErrMalformedEvent, "webhook: paddle custom_data missing user_id or credits")
	}

	return &model.WebhookEvent{
		EventID:      "paddle:" + ev.EventID,
		Provider:     "paddle",
		Type:         ev.EventType,
		UserID:       userID,
		CreditAmount: credits,
		Metadata:     ev.Data.CustomData,
		ReceivedAt:   time.Now().UTC(),
	}, nil
}
