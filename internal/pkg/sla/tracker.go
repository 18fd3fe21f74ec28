package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/deskrelay/deskrelay/app/models"
	"github.com/deskrelay/deskrelay/app/repository"
	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
)

// BreachNotifier receives exactly one event per SLA breach. Reporting
// consumes these; the pipeline only guarantees the once-per-breach part.
type BreachNotifier interface {
	NotifyBreach(ctx context.Context, ticket *models.Ticket) error
}

// LogNotifier is the default notifier, it just logs the breach
type LogNotifier struct{}

func (LogNotifier) NotifyBreach(_ context.Context, ticket *models.Ticket) error {
	log.Warnf("[SLA] Breach on ticket %d (tenant %d, priority %s, deadline %s)",
		ticket.ID, ticket.TenantID, ticket.Priority, ticket.SLADeadline.Format(time.RFC3339))
	return nil
}

// Tracker computes response deadlines from policy tables and flags
// breaches.
type Tracker struct {
	repos    *repository.Repositories
	notifier BreachNotifier
}

// NewTracker creates an SLA tracker. A nil notifier falls back to
// LogNotifier.
func NewTracker(repos *repository.Repositories, notifier BreachNotifier) *Tracker {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Tracker{repos: repos, notifier: notifier}
}

// ApplyDeadline stamps the ticket with the deadline computed from the
// (tenant, priority, channel) policy, anchored at the given time. Tickets
// of tenants without a matching policy carry no deadline. The caller
// persists the ticket.
func (t *Tracker) ApplyDeadline(ctx context.Context, ticket *models.Ticket, from time.Time) error {
	tenantID := tenantctx.MustFromContext(ctx)

	policy, err := t.repos.SLA.GetPolicy(uint(tenantID), ticket.Priority, ticket.Channel)
	if err != nil {
		return fmt.Errorf("sla: policy lookup: %w", err)
	}
	if policy == nil {
		ticket.SLADeadline = nil
		return nil
	}

	deadline := policy.Deadline(from)
	ticket.SLADeadline = &deadline
	ticket.BreachNotified = false
	return nil
}

// SweepOnce scans working tickets with a past-due deadline and emits one
// breach event each. The breach_notified flag keeps repeated sweeps
// idempotent: the flag is persisted before the notifier fires, so a sweep
// crashing mid-notify can at worst drop an event, never double it.
func (t *Tracker) SweepOnce(ctx context.Context, batchSize int) (int, error) {
	overdue, err := t.repos.Ticket.ListOverdue(time.Now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("sla: list overdue: %w", err)
	}

	breached := 0
	for i := range overdue {
		ticket := overdue[i]
		err := tenantctx.RunWithTenant(ctx, tenantctx.TenantID(ticket.TenantID), func(ctx context.Context) error {
			ticket.BreachNotified = true
			if err := t.repos.Ticket.Update(&ticket); err != nil {
				return fmt.Errorf("sla: flag breach on ticket %d: %w", ticket.ID, err)
			}
			if err := t.notifier.NotifyBreach(ctx, &ticket); err != nil {
				log.Errorf("[SLA] Notifier failed for ticket %d: %v", ticket.ID, err)
			}
			return nil
		})
		if err != nil {
			return breached, err
		}
		breached++
	}
	return breached, nil
}
