package models

import (
	"time"
)

// SLAPolicy maps (tenant, priority, channel) to a first-response budget in
// seconds. Looked up once on ticket creation or priority change; the
// computed deadline is stored on the ticket.
type SLAPolicy struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	TenantID        uint           `gorm:"index:idx_sla_lookup,unique,priority:1;not null" json:"tenant_id"`
	Priority        TicketPriority `gorm:"type:varchar(12);index:idx_sla_lookup,unique,priority:2;not null" json:"priority"`
	Channel         string         `gorm:"type:varchar(32);index:idx_sla_lookup,unique,priority:3;not null" json:"channel"`
	DurationSeconds int            `gorm:"not null" json:"duration_seconds"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Deadline returns the SLA deadline for a ticket entering the policy at t.
func (p *SLAPolicy) Deadline(t time.Time) time.Time {
	return t.Add(time.Duration(p.DurationSeconds) * time.Second)
}
