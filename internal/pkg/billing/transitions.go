package billing

import (
	"fmt"
	"time"

	"github.com/workpulse-hq/workpulse/app/models"
	"github.com/workpulse-hq/workpulse/internal/pkg/entitlements"
)

// providerPolicy captures the per-provider quirks of the shared transition
// table. Differences between rails are data here, never duplicated branches.
type providerPolicy struct {
	// OnHoldDowngrades: Razorpay halts a subscription only after exhausting
	// its retry schedule, so a halt downgrades immediately. Play on-hold is
	// routinely recovered, so it only clears the verified flag and access
	// continues. Asymmetry preserved intentionally; see DESIGN.md.
	OnHoldDowngrades bool
}

var providerPolicies = map[string]providerPolicy{
	models.PlanSourcePlay:     {OnHoldDowngrades: false},
	models.PlanSourceRazorpay: {OnHoldDowngrades: true},
}

// SideEffects are the external actions a transition requests. The engine
// never performs them itself.
type SideEffects struct {
	// ActivateResources asks the resource-activation collaborator to re-enable
	// the account's dependent resources.
	ActivateResources bool
	// DeadLetterReason, when non-empty, asks the caller to capture the event
	// as a dead-letter record. The ledger is guaranteed untouched in that case.
	DeadLetterReason string
}

// Outcome describes what Apply decided. The ledger passed to Apply is
// mutated in place only when Mutated is true.
type Outcome struct {
	Mutated bool
	// NewHistory, when set, must be appended with IsActive=true while all
	// other entries for the ledger are flipped inactive.
	NewHistory *models.PlanHistoryEntry
	// DeactivateHistory flips every history entry inactive without adding one.
	DeactivateHistory bool
	Effects           SideEffects
	Note              string
}

// Apply maps (current ledger, event, optional verification) to the new ledger
// state and requested side effects. It performs no I/O: verification happens
// before, persistence after. Mutation paths fail closed on uncertainty.
func Apply(ledger *models.SubscriptionLedger, ev NormalizedEvent, ver *VerificationResult, now time.Time) Outcome {
	policy := providerPolicies[ev.Provider]

	switch ev.Class {
	case EventPurchase, EventRenewal, EventRestart, EventRecover:
		return applyVerifiedGrant(ledger, ev, ver, now)

	case EventCancel:
		// Soft cancellation: access continues until the paid period expires.
		ledger.IsCancelled = true
		ledger.IsPaymentVerified = false
		recordGatewayStatus(ledger, ev)
		return Outcome{Mutated: true, Note: "soft-cancelled; access until expiry"}

	case EventOnHold:
		if policy.OnHoldDowngrades {
			downgradeToFree(ledger)
			return Outcome{Mutated: true, DeactivateHistory: true, Note: "halted; downgraded to free"}
		}
		ledger.IsPaymentVerified = false
		return Outcome{Mutated: true, Note: "on hold; entitlement retained unverified"}

	case EventGrace:
		ledger.IsGrace = true
		ledger.IsPaymentVerified = false
		if ver != nil && ver.Success && ver.GraceEndsAt != nil {
			ledger.GraceExpiresAt = ver.GraceEndsAt
		} else if ledger.GraceExpiresAt == nil {
			// Degraded fallback: anchor the window at the paid-through date so
			// the grace-expired sweep still revisits this ledger. The sweep
			// re-verifies before any downgrade, so an early anchor is safe.
			ledger.GraceExpiresAt = ledger.PlanExpiresAt
		}
		recordGatewayStatus(ledger, ev)
		return Outcome{Mutated: true, Note: "entered grace period"}

	case EventExpire:
		downgradeToFree(ledger)
		return Outcome{Mutated: true, DeactivateHistory: true, Note: "expired; downgraded to free"}

	case EventPause, EventPending, EventAuthenticated:
		// Pre-charge or transitional states: recorded for visibility, no
		// entitlement change.
		if recordGatewayStatus(ledger, ev) {
			return Outcome{Mutated: true, Note: fmt.Sprintf("recorded transitional state %s", ev.RawType)}
		}
		return Outcome{Note: fmt.Sprintf("transitional event %s acknowledged", ev.RawType)}

	default:
		return Outcome{Note: fmt.Sprintf("event %s not actionable", ev.RawType)}
	}
}

// applyVerifiedGrant handles every entitlement-(re)granting class. The
// webhook alone is never trusted for expiry truth: a fresh verification
// result is required, and its absence fails closed into a dead-letter.
func applyVerifiedGrant(ledger *models.SubscriptionLedger, ev NormalizedEvent, ver *VerificationResult, now time.Time) Outcome {
	if ver == nil || !ver.Success {
		reason := "provider verification missing"
		if ver != nil {
			reason = fmt.Sprintf("provider verification failed (%s): %s", ver.ErrKind, ver.Err)
		}
		return Outcome{Effects: SideEffects{DeadLetterReason: reason}}
	}

	txnID := transactionID(ev, ver)
	if active := ledger.ActiveHistoryEntry(); active != nil && txnID != "" && active.TransactionID == txnID {
		if sameTime(active.ExpiresAt, ver.ExpiresAt) {
			return Outcome{Note: "duplicate delivery; ledger unchanged"}
		}
	}

	if ledger.PurchaseToken != "" && ledger.PurchaseToken != ev.PurchaseToken {
		ledger.LastPurchaseToken = ledger.PurchaseToken
	}
	ledger.PurchaseToken = ev.PurchaseToken
	ledger.Plan = ver.Plan
	ledger.BillingCycle = ver.BillingCycle
	ledger.PlanExpiresAt = ver.ExpiresAt
	activatedAt := now
	if ver.StartTime != nil {
		activatedAt = *ver.StartTime
	}
	ledger.PlanActivatedAt = &activatedAt
	ledger.IsPaymentVerified = true
	ledger.IsCancelled = false
	ledger.IsGrace = false
	ledger.GraceExpiresAt = nil
	ledger.PlanSource = ev.Provider
	if ev.Provider == models.PlanSourceRazorpay {
		ledger.GatewaySubscriptionID = ev.SubscriptionID
		ledger.GatewayCustomerID = ev.CustomerID
		ledger.GatewayStatus = ver.RawState
	}

	entry := &models.PlanHistoryEntry{
		LedgerID:      ledger.ID,
		Plan:          ver.Plan,
		PurchasedAt:   now,
		ExpiresAt:     ver.ExpiresAt,
		TransactionID: txnID,
		Platform:      platformFor(ev.Provider),
		Source:        ev.Provider,
		IsActive:      true,
	}

	return Outcome{
		Mutated:    true,
		NewHistory: entry,
		Effects:    SideEffects{ActivateResources: true},
		Note:       fmt.Sprintf("%s applied from verified state %s", ev.Class, ver.RawState),
	}
}

// downgradeToFree clears entitlement state. The previous purchase token is
// retained in last_purchase_token for audit only.
func downgradeToFree(ledger *models.SubscriptionLedger) {
	if ledger.PurchaseToken != "" {
		ledger.LastPurchaseToken = ledger.PurchaseToken
	}
	ledger.Plan = string(entitlements.PlanFree)
	ledger.BillingCycle = entitlements.CycleUnknown
	ledger.PlanExpiresAt = nil
	ledger.PlanActivatedAt = nil
	ledger.IsPaymentVerified = false
	ledger.IsCancelled = false
	ledger.IsGrace = false
	ledger.GraceExpiresAt = nil
	ledger.PurchaseToken = ""
	ledger.GatewayStatus = ""
}

// recordGatewayStatus mirrors the raw gateway state onto the sub-record for
// visibility. Only the gateway rail carries one.
func recordGatewayStatus(ledger *models.SubscriptionLedger, ev NormalizedEvent) bool {
	if ev.Provider != models.PlanSourceRazorpay {
		return false
	}
	if ev.SubscriptionID != "" {
		ledger.GatewaySubscriptionID = ev.SubscriptionID
	}
	if ev.CustomerID != "" {
		ledger.GatewayCustomerID = ev.CustomerID
	}
	ledger.GatewayStatus = gatewayStateFromEvent(ev.RawType)
	return true
}

func gatewayStateFromEvent(rawType string) string {
	if idx := len("subscription."); len(rawType) > idx && rawType[:idx] == "subscription." {
		return rawType[idx:]
	}
	return rawType
}

func transactionID(ev NormalizedEvent, ver *VerificationResult) string {
	if ev.TransactionID != "" {
		return ev.TransactionID
	}
	if ver != nil && ver.SubscriptionID != "" {
		return ver.SubscriptionID
	}
	return ""
}

func platformFor(provider string) string {
	if provider == models.PlanSourcePlay {
		return "android"
	}
	return "web"
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
