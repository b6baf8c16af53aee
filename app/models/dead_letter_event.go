package models

import "time"

// Dead-letter lifecycle. Pending records await exactly one operator
// resolution; resolved/ignored/refunded are terminal.
const (
	DeadLetterStatusPending  = "pending"
	DeadLetterStatusResolved = "resolved"
	DeadLetterStatusIgnored  = "ignored"
	DeadLetterStatusRefunded = "refunded"
)

// Dead-letter resolution actions.
const (
	DeadLetterActionApply  = "apply"
	DeadLetterActionIgnore = "ignore"
	DeadLetterActionRefund = "refund"
)

// DeadLetterEvent captures a payment signal that could not be safely applied
// to a ledger. The raw payload is stored unmodified and records are never
// auto-deleted; an operator resolves each record exactly once.
type DeadLetterEvent struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	RequestID       string `gorm:"type:varchar(64);not null;uniqueIndex" json:"request_id"`
	Source          string `gorm:"type:varchar(20);not null;index" json:"source"`
	Event           string `gorm:"type:varchar(100);not null" json:"event"`
	FailureReason   string `gorm:"type:text" json:"failure_reason"`
	AttemptedUserID string `gorm:"type:varchar(64);default:''" json:"attempted_user_id"`
	SubscriptionID  string `gorm:"type:varchar(191);default:'';index" json:"subscription_id"`
	CustomerID      string `gorm:"type:varchar(191);default:''" json:"customer_id"`
	PlanDetailsJSON string `gorm:"type:text" json:"plan_details_json"`
	CustomerEmail   string `gorm:"type:varchar(200);default:''" json:"customer_email"`
	CustomerPhone   string `gorm:"type:varchar(32);default:''" json:"customer_phone"`
	CustomerName    string `gorm:"type:varchar(150);default:''" json:"customer_name"`
	PaymentAmount   int64  `gorm:"default:0" json:"payment_amount"`
	RawPayload      string `gorm:"type:longtext;not null" json:"-"`

	Status          string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ResolvedAt      *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	ResolvedBy      string     `gorm:"type:varchar(150);default:''" json:"resolved_by"`
	ResolutionNotes string     `gorm:"type:text" json:"resolution_notes"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the record has already been resolved.
func (d *DeadLetterEvent) IsTerminal() bool {
	return d.Status != DeadLetterStatusPending
}
