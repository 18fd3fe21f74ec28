package models

import (
	"errors"
	"fmt"
	"time"
)

// TicketStatus is the lifecycle state of a ticket
type TicketStatus string

const (
	TicketOpen              TicketStatus = "OPEN"
	TicketInProgress        TicketStatus = "IN_PROGRESS"
	TicketWaitingOnCustomer TicketStatus = "WAITING_ON_CUSTOMER"
	TicketResolved          TicketStatus = "RESOLVED"
	TicketClosed            TicketStatus = "CLOSED"
	TicketReopened          TicketStatus = "REOPENED"
)

// TicketPriority drives SLA policy lookup
type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityNormal TicketPriority = "normal"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

// TicketKind discriminates ticket flavors sharing one lifecycle
const (
	TicketKindConversation = "conversation"
	TicketKindTask         = "task"
)

// ErrInvalidTransition is returned for any lifecycle move outside the
// allowed transition table. The ticket state is left unchanged.
var ErrInvalidTransition = errors.New("invalid ticket transition")

// allowedTransitions is the full lifecycle table. REOPENED is a transit
// state that immediately re-enters OPEN; RESOLVED->REOPENED exists so an
// inbound customer message on a resolved ticket can take the same automatic
// reopen path as a closed one.
var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketOpen:              {TicketInProgress},
	TicketInProgress:        {TicketOpen, TicketWaitingOnCustomer, TicketResolved},
	TicketWaitingOnCustomer: {TicketInProgress, TicketResolved},
	TicketResolved:          {TicketClosed, TicketReopened},
	TicketClosed:            {TicketReopened},
	TicketReopened:          {TicketOpen},
}

// Ticket represents one ongoing customer conversation, owned by a tenant
// and referenced by messages and assignment log entries. Tickets are
// archived on closure (ClosedAt set), never deleted.
type Ticket struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	PublicID       string         `gorm:"type:varchar(36);uniqueIndex;not null" json:"public_id"`
	TenantID       uint           `gorm:"index:idx_tickets_tenant_contact,priority:1;not null" json:"tenant_id"`
	ContactID      string         `gorm:"type:varchar(128);index:idx_tickets_tenant_contact,priority:2;not null" json:"contact_id"`
	ContactName    string         `gorm:"type:varchar(191)" json:"contact_name"`
	Channel        string         `gorm:"type:varchar(32);not null" json:"channel"`
	Kind           string         `gorm:"type:varchar(20);not null;default:'conversation'" json:"kind"`
	QueueID        uint           `gorm:"index;not null" json:"queue_id"`
	AgentID        *uint          `gorm:"index" json:"agent_id,omitempty"`
	Status         TicketStatus   `gorm:"type:varchar(24);not null;default:'OPEN';index" json:"status"`
	Priority       TicketPriority `gorm:"type:varchar(12);not null;default:'normal'" json:"priority"`
	SLADeadline    *time.Time     `gorm:"index" json:"sla_deadline,omitempty"`
	BreachNotified bool           `gorm:"default:false" json:"breach_notified"`
	MessageCount   int            `gorm:"default:0" json:"message_count"`
	FirstReplyAt   *time.Time     `json:"first_reply_at,omitempty"`
	LastActivityAt time.Time      `gorm:"index;not null" json:"last_activity_at"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanTransition reports whether moving to target is allowed from the
// current status.
func (t *Ticket) CanTransition(target TicketStatus) bool {
	for _, next := range allowedTransitions[t.Status] {
		if next == target {
			return true
		}
	}
	return false
}

// TransitionTo moves the ticket to target if the transition table allows
// it. On an invalid move the status is left untouched and
// ErrInvalidTransition is returned wrapped with both states.
func (t *Ticket) TransitionTo(target TicketStatus) error {
	if !t.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, target)
	}
	now := time.Now()
	t.Status = target
	t.LastActivityAt = now
	if target == TicketClosed {
		t.ClosedAt = &now
	}
	return nil
}

// Reopen takes a RESOLVED or CLOSED ticket through REOPENED back to OPEN.
// Used for the automatic reopen on inbound customer messages.
func (t *Ticket) Reopen() error {
	if err := t.TransitionTo(TicketReopened); err != nil {
		return err
	}
	if err := t.TransitionTo(TicketOpen); err != nil {
		return err
	}
	t.ClosedAt = nil
	t.BreachNotified = false
	return nil
}

// IsOpen reports whether the ticket is in a working state that counts
// toward agent load and SLA sweeps.
func (t *Ticket) IsOpen() bool {
	switch t.Status {
	case TicketOpen, TicketInProgress, TicketWaitingOnCustomer:
		return true
	}
	return false
}

// OpenStatuses lists the statuses that count as in-flight work.
func OpenStatuses() []TicketStatus {
	return []TicketStatus{TicketOpen, TicketInProgress, TicketWaitingOnCustomer}
}
