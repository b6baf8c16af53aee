package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/workpulse-hq/workpulse/app/models"
)

// Razorpay subscription webhook event names.
// https://razorpay.com/docs/webhooks/payloads/subscriptions/
var razorpayEventClasses = map[string]EventClass{
	"subscription.activated":     EventPurchase,
	"subscription.charged":       EventRenewal,
	"subscription.resumed":       EventRestart,
	"subscription.cancelled":     EventCancel,
	"subscription.halted":        EventOnHold,
	"subscription.pending":       EventGrace,
	"subscription.paused":        EventPause,
	"subscription.authenticated": EventAuthenticated,
	"subscription.completed":     EventExpire,
	"subscription.expired":       EventExpire,
}

type razorpayWebhookPayload struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Subscription struct {
			Entity struct {
				ID         string            `json:"id"`
				PlanID     string            `json:"plan_id"`
				CustomerID string            `json:"customer_id"`
				Status     string            `json:"status"`
				CurrentEnd int64             `json:"current_end"`
				Notes      map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"subscription"`
		Payment struct {
			Entity struct {
				ID      string            `json:"id"`
				Amount  int64             `json:"amount"`
				Email   string            `json:"email"`
				Contact string            `json:"contact"`
				Notes   map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseRazorpayEvent decodes a Razorpay subscription webhook into a
// NormalizedEvent. Razorpay payloads always embed correlation ids
// (subscription id, customer id, and our user id in notes), so an
// unresolvable event from this rail is a dead-letter, never a silent drop.
func ParseRazorpayEvent(body []byte, eventID string) (*NormalizedEvent, error) {
	var payload razorpayWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid razorpay payload: %w", err)
	}

	eventName := strings.ToLower(strings.TrimSpace(payload.Event))
	if eventName == "" {
		return nil, errors.New("razorpay payload missing event name")
	}
	if !strings.HasPrefix(eventName, "subscription.") {
		return nil, fmt.Errorf("unsupported razorpay event: %s", eventName)
	}

	sub := payload.Payload.Subscription.Entity
	if strings.TrimSpace(sub.ID) == "" {
		return nil, errors.New("razorpay payload missing subscription id")
	}

	class, ok := razorpayEventClasses[eventName]
	if !ok {
		class = EventUnknown
	}

	accountID := strings.TrimSpace(sub.Notes["user_id"])
	if accountID == "" {
		accountID = strings.TrimSpace(payload.Payload.Payment.Entity.Notes["user_id"])
	}

	occurredAt := time.Now()
	if payload.CreatedAt > 0 {
		occurredAt = time.Unix(payload.CreatedAt, 0)
	}

	pay := payload.Payload.Payment.Entity
	return &NormalizedEvent{
		Provider:       models.PlanSourceRazorpay,
		Class:          class,
		RawType:        eventName,
		EventID:        strings.TrimSpace(eventID),
		PurchaseToken:  strings.TrimSpace(sub.ID),
		SubscriptionID: strings.TrimSpace(sub.ID),
		CustomerID:     strings.TrimSpace(sub.CustomerID),
		AccountID:      accountID,
		TransactionID:  strings.TrimSpace(pay.ID),
		ProductRef:     strings.TrimSpace(sub.PlanID),
		CustomerEmail:  strings.TrimSpace(pay.Email),
		CustomerPhone:  strings.TrimSpace(pay.Contact),
		CustomerName:   strings.TrimSpace(pay.Notes["name"]),
		PaymentAmount:  pay.Amount,
		RawPayload:     append([]byte(nil), body...),
		OccurredAt:     occurredAt,
	}, nil
}
