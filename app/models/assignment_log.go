package models

import (
	"time"
)

// StrategyManual tags log entries written by explicit transfers rather
// than strategy resolution.
const StrategyManual = "manual"

// AssignmentLogEntry is the append-only record of every assignment
// decision. AgentID is nil when resolution found no eligible agent. The
// log doubles as the durable round-robin state: recency per (queue, agent)
// is derived from it instead of a mutable rotation pointer.
type AssignmentLogEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"index;not null" json:"tenant_id"`
	TicketID  uint      `gorm:"index;not null" json:"ticket_id"`
	QueueID   uint      `gorm:"index:idx_assignment_queue_agent,priority:1;not null" json:"queue_id"`
	AgentID   *uint     `gorm:"index:idx_assignment_queue_agent,priority:2" json:"agent_id,omitempty"`
	Strategy  string    `gorm:"type:varchar(20);not null" json:"strategy"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
