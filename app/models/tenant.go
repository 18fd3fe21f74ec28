package models

import (
	"time"
)

// Tenant is the isolation boundary. Every other row in the system carries a
// TenantID column and every query predicate must include it.
type Tenant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Slug      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"slug"`
	Active    bool      `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
