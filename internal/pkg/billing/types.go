package billing

import (
	"context"
	"time"
)

// EventClass is the provider-neutral classification of an inbound event.
// Provider-specific raw types are mapped to a class by data tables in
// events_play.go / events_razorpay.go; the transition engine only ever
// branches on the class.
type EventClass string

const (
	EventPurchase      EventClass = "purchase"
	EventRenewal       EventClass = "renewal"
	EventRestart       EventClass = "restart"
	EventRecover       EventClass = "recover"
	EventCancel        EventClass = "cancel"
	EventOnHold        EventClass = "on_hold"
	EventGrace         EventClass = "grace"
	EventExpire        EventClass = "expire"
	EventPause         EventClass = "pause"
	EventPending       EventClass = "pending"
	EventAuthenticated EventClass = "authenticated"
	EventUnknown       EventClass = "unknown"
)

// GrantsEntitlement reports whether the class, when verified, (re)grants a
// paid plan and therefore requires a fresh provider verification.
func (c EventClass) GrantsEntitlement() bool {
	switch c {
	case EventPurchase, EventRenewal, EventRestart, EventRecover:
		return true
	default:
		return false
	}
}

// NormalizedEvent is the provider-agnostic shape of an inbound webhook after
// parsing. RawPayload holds the exact body bytes as received.
type NormalizedEvent struct {
	Provider string
	Class    EventClass
	RawType  string
	EventID  string

	// Correlation keys.
	PurchaseToken  string // Play purchase token / Razorpay subscription id
	SubscriptionID string
	CustomerID     string
	AccountID      string // explicit local account id when the payload embeds one
	TransactionID  string

	// Plan reference.
	PackageName string
	ProductRef  string

	// Best-effort customer contact for dead-letter triage.
	CustomerEmail string
	CustomerPhone string
	CustomerName  string
	PaymentAmount int64

	RawPayload []byte
	OccurredAt time.Time
}

// VerifyErrKind distinguishes why a verification did not confirm entitlement.
type VerifyErrKind string

const (
	VerifyErrNone            VerifyErrKind = ""
	VerifyErrTransport       VerifyErrKind = "transport"        // timeout / 4xx / 5xx
	VerifyErrNotEntitled     VerifyErrKind = "not_entitled"     // call succeeded, state not entitled
	VerifyErrUnmappedProduct VerifyErrKind = "unmapped_product" // entitled but product unknown
)

// VerificationResult is the normalized output of a provider status call.
// Success is true only when the provider reports a currently entitled state
// and the product maps to an internal plan.
type VerificationResult struct {
	Success        bool
	Plan           string
	BillingCycle   string
	ProductID      string
	ExpiresAt      *time.Time
	GraceEndsAt    *time.Time
	RawState       string
	StartTime      *time.Time
	Region         string
	SubscriptionID string
	ErrKind        VerifyErrKind
	Err            string
}

// Verifier calls a provider's authoritative subscription-status endpoint.
// Transport failures and "not entitled" both yield Success=false; they are
// distinguished by ErrKind.
type Verifier interface {
	Verify(ctx context.Context, ev NormalizedEvent) *VerificationResult
}

// ResourceActivator is the external collaborator invoked whenever a
// transition (re)grants paid entitlement. Downgrades make no call; dependent
// systems read the ledger directly.
type ResourceActivator interface {
	ActivateAll(ctx context.Context, userID uint) error
}

// PlanMapper resolves provider product references to internal plans.
type PlanMapper interface {
	MapProduct(provider, productRef string) (plan string, cycle string, ok bool)
}

// PlanSnapshot is the plan-details snapshot stored on dead-letter records and
// replayed on operator "apply".
type PlanSnapshot struct {
	Plan          string     `json:"plan"`
	BillingCycle  string     `json:"billing_cycle"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ProductID     string     `json:"product_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	PurchaseToken string     `json:"purchase_token,omitempty"`
	Source        string     `json:"source"`
}
