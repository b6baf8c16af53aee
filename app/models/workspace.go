package models

import "time"

// Workspace is a user-owned scheduling workspace. Workspaces beyond the free
// tier's allowance are suspended when entitlement lapses and re-enabled when
// a paid plan is (re)granted.
type Workspace struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UserID      uint   `gorm:"not null;index" json:"user_id"`
	Name        string `gorm:"type:varchar(150);not null" json:"name"`
	IsSuspended bool   `gorm:"default:false;index" json:"is_suspended"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
