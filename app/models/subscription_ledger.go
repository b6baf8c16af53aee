package models

import (
	"time"

	"github.com/workpulse-hq/workpulse/internal/pkg/entitlements"
)

// Payment rail identifiers stored in plan_source / plan_history.source.
const (
	PlanSourcePlay     = "play"
	PlanSourceRazorpay = "razorpay"
	PlanSourceManual   = "manual"
)

// SubscriptionLedger is the authoritative per-account subscription state.
// It is created with plan=free when the account is created, mutated only by
// the transition engine and the reconciliation sweeps, and never deleted.
type SubscriptionLedger struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Plan              string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	BillingCycle      string     `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_cycle"`
	PlanExpiresAt     *time.Time `gorm:"type:timestamp;default:null;index" json:"plan_expires_at,omitempty"`
	PlanActivatedAt   *time.Time `gorm:"type:timestamp;default:null" json:"plan_activated_at,omitempty"`
	IsPaymentVerified bool       `gorm:"default:false;index" json:"is_payment_verified"`
	IsCancelled       bool       `gorm:"default:false;index" json:"is_cancelled"`
	IsGrace           bool       `gorm:"default:false;index" json:"is_grace"`
	GraceExpiresAt    *time.Time `gorm:"type:timestamp;default:null" json:"grace_expires_at,omitempty"`
	PlanSource        string     `gorm:"type:varchar(20);default:''" json:"plan_source"`
	PurchaseToken     string     `gorm:"type:varchar(512);default:'';index:idx_ledgers_purchase_token,length:191" json:"-"`
	LastPurchaseToken string     `gorm:"type:varchar(512);default:'';index:idx_ledgers_last_purchase_token,length:191" json:"-"`

	// Gateway sub-record. Additive provider-specific fields; the generic
	// fields above stay authoritative for entitlement decisions.
	GatewaySubscriptionID string `gorm:"type:varchar(191);default:'';index" json:"gateway_subscription_id,omitempty"`
	GatewayCustomerID     string `gorm:"type:varchar(191);default:''" json:"gateway_customer_id,omitempty"`
	GatewayStatus         string `gorm:"type:varchar(32);default:''" json:"gateway_status,omitempty"`

	History []PlanHistoryEntry `gorm:"foreignKey:LedgerID" json:"history,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlanHistoryEntry is an append-only audit record of plan activations.
// At most one entry per ledger has IsActive=true; activating a new entry
// flips all others false (enforced by the repository mutation path).
type PlanHistoryEntry struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	LedgerID      uint       `gorm:"not null;index" json:"ledger_id"`
	Plan          string     `gorm:"type:varchar(50);not null" json:"plan"`
	PurchasedAt   time.Time  `gorm:"type:timestamp;not null" json:"purchased_at"`
	ExpiresAt     *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	TransactionID string     `gorm:"type:varchar(191);default:'';index" json:"transaction_id"`
	Platform      string     `gorm:"type:varchar(20);default:''" json:"platform"`
	Source        string     `gorm:"type:varchar(20);default:''" json:"source"`
	IsActive      bool       `gorm:"default:false;index" json:"is_active"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// IsTrial reports whether the ledger currently carries the time-boxed trial plan.
func (l *SubscriptionLedger) IsTrial() bool {
	return entitlements.Normalize(l.Plan) == entitlements.PlanTrial
}

// IsPaidPlan reports whether the ledger currently carries a billing-backed plan.
func (l *SubscriptionLedger) IsPaidPlan() bool {
	return entitlements.IsPaid(entitlements.Normalize(l.Plan))
}

// ActiveHistoryEntry returns the currently active plan history entry, if loaded.
func (l *SubscriptionLedger) ActiveHistoryEntry() *PlanHistoryEntry {
	for i := range l.History {
		if l.History[i].IsActive {
			return &l.History[i]
		}
	}
	return nil
}
