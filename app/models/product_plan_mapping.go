package models

import "time"

// ProductPlanMapping maps provider product references (Play product IDs,
// Razorpay plan IDs) to internal entitlement plans and billing cycles.
// Seeded by migration; rows are toggled rather than deleted.
type ProductPlanMapping struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Provider     string    `gorm:"type:varchar(20);not null;index:ux_product_plan_mappings_ref,unique,priority:1" json:"provider"`
	ProductRef   string    `gorm:"type:varchar(191);not null;index:ux_product_plan_mappings_ref,unique,priority:2" json:"product_ref"`
	Plan         string    `gorm:"type:varchar(50);not null;default:'free'" json:"plan"`
	BillingCycle string    `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_cycle"`
	IsActive     bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
