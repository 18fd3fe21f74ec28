package models

import (
	"time"
)

// Agent is a human worker that can hold open tickets up to the sum of their
// per-queue capacities. Current load is always derived from a live count of
// open assigned tickets, never cached on the row.
type Agent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"index:idx_agents_tenant;not null" json:"tenant_id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Email     string    `gorm:"type:varchar(255);index" json:"email"`
	Active    bool      `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
