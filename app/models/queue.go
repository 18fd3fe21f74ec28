package models

import (
	"time"
)

// DistributionStrategy selects how a queue picks the next agent
type DistributionStrategy string

const (
	StrategyRoundRobin DistributionStrategy = "ROUND_ROBIN"
	StrategyLeastLoad  DistributionStrategy = "LEAST_LOAD"
	StrategyPriority   DistributionStrategy = "PRIORITY"
)

// Queue is a named bucket of agents with a distribution strategy and
// capacity rules. BackupQueueID is consulted when no agent in this queue is
// eligible.
type Queue struct {
	ID              uint                 `gorm:"primaryKey" json:"id"`
	TenantID        uint                 `gorm:"index:idx_queues_tenant;not null" json:"tenant_id"`
	Name            string               `gorm:"type:varchar(100);not null" json:"name"`
	Strategy        DistributionStrategy `gorm:"type:varchar(20);not null;default:'ROUND_ROBIN'" json:"strategy"`
	DefaultCapacity int                  `gorm:"not null;default:5" json:"default_capacity"`
	BackupQueueID   *uint                `gorm:"index" json:"backup_queue_id,omitempty"`
	Greeting        string               `gorm:"type:text" json:"greeting"`
	Active          bool                 `gorm:"default:true;index" json:"active"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`

	Memberships []QueueMembership `gorm:"foreignKey:QueueID" json:"memberships,omitempty"`
}

// QueueMembership links an agent into a queue. CapacityOverride, when set,
// replaces the queue's DefaultCapacity for this agent. Priority runs
// 1 (served first) to 10 (served last) and only matters for the PRIORITY
// strategy.
type QueueMembership struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	TenantID         uint      `gorm:"index;not null" json:"tenant_id"`
	QueueID          uint      `gorm:"index:idx_membership_queue_agent,unique,priority:1;not null" json:"queue_id"`
	AgentID          uint      `gorm:"index:idx_membership_queue_agent,unique,priority:2;not null" json:"agent_id"`
	CapacityOverride *int      `json:"capacity_override,omitempty"`
	Priority         int       `gorm:"not null;default:5" json:"priority"`
	Active           bool      `gorm:"default:true;index" json:"active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Agent Agent `gorm:"foreignKey:AgentID" json:"agent,omitempty"`
}

// EffectiveCapacity returns the membership capacity override if set, else
// the queue default.
func (m *QueueMembership) EffectiveCapacity(q *Queue) int {
	if m.CapacityOverride != nil {
		return *m.CapacityOverride
	}
	return q.DefaultCapacity
}
