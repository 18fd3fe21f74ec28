package repository

import (
	"time"

	"github.com/deskrelay/deskrelay/app/models"
)

// TenantRepository defines tenant lookups used by the ingest path
type TenantRepository interface {
	Create(tenant *models.Tenant) error
	GetByID(id uint) (*models.Tenant, error)
	GetBySlug(slug string) (*models.Tenant, error)
	List(offset, limit int) ([]models.Tenant, error)
}

// TicketRepository defines ticket persistence. Every method is scoped by
// tenant id; nothing here may touch another tenant's rows.
type TicketRepository interface {
	Create(ticket *models.Ticket) error
	GetByID(tenantID, id uint) (*models.Ticket, error)
	GetByPublicID(tenantID uint, publicID string) (*models.Ticket, error)
	Update(ticket *models.Ticket) error
	// FindLatestByContact returns the most recent ticket for a contact on a
	// channel with activity at or after the cutoff, or nil when none exists.
	FindLatestByContact(tenantID uint, contactID, channel string, cutoff time.Time) (*models.Ticket, error)
	OldestUnassignedInQueue(tenantID, queueID uint) (*models.Ticket, error)
	// ListUnassigned crosses tenants; callers re-establish tenant context
	// per ticket before acting on one.
	ListUnassigned(limit int) ([]models.Ticket, error)
	ListOverdue(now time.Time, limit int) ([]models.Ticket, error)
	CountOpenByAgent(tenantID, agentID uint) (int64, error)
	List(tenantID uint, status models.TicketStatus, offset, limit int) ([]models.Ticket, error)
}

// MessageRepository defines message persistence
type MessageRepository interface {
	Create(message *models.Message) error
	GetByID(tenantID, id uint) (*models.Message, error)
	GetByExternalID(tenantID uint, externalID string) (*models.Message, error)
	UpdateDeliveryStatus(tenantID uint, externalID string, status models.DeliveryStatus, errorMsg string) error
	MarkSent(tenantID, id uint, providerMessageID string) error
	MarkFailed(tenantID, id uint, errorMsg string) error
	ListByTicket(tenantID, ticketID uint, offset, limit int) ([]models.Message, error)
}

// QueueRepository defines queue and membership persistence
type QueueRepository interface {
	Create(queue *models.Queue) error
	GetByID(tenantID, id uint) (*models.Queue, error)
	Update(queue *models.Queue) error
	ListByTenant(tenantID uint) ([]models.Queue, error)
	// ActiveMemberships returns active memberships of a queue with agents
	// preloaded, inactive agents filtered out.
	ActiveMemberships(tenantID, queueID uint) ([]models.QueueMembership, error)
	AddMembership(membership *models.QueueMembership) error
}

// AgentRepository defines agent persistence
type AgentRepository interface {
	Create(agent *models.Agent) error
	GetByID(tenantID, id uint) (*models.Agent, error)
	Update(agent *models.Agent) error
	ListByTenant(tenantID uint) ([]models.Agent, error)
}

// AssignmentRepository is the append-only assignment log. LastAssignedAt
// feeds the round-robin recency derivation.
type AssignmentRepository interface {
	Append(entry *models.AssignmentLogEntry) error
	LastAssignedAt(tenantID, queueID uint) (map[uint]time.Time, error)
	ListByTicket(tenantID, ticketID uint) ([]models.AssignmentLogEntry, error)
}

// SLARepository resolves response-time policies
type SLARepository interface {
	Create(policy *models.SLAPolicy) error
	GetPolicy(tenantID uint, priority models.TicketPriority, channel string) (*models.SLAPolicy, error)
}
