package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/deskrelay/deskrelay/app/models"
	"github.com/deskrelay/deskrelay/app/repository"
	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
)

// ErrNoEligibleAgent signals that strategy resolution (including the
// backup queue, when configured) found nobody with spare capacity. The
// ticket stays unassigned and is retried by the sweep; this is not a
// failure of the job.
var ErrNoEligibleAgent = errors.New("no eligible agent")

// Engine chooses exactly one eligible agent for a ticket according to the
// queue's distribution strategy, and records every decision in the
// append-only assignment log.
type Engine struct {
	repos *repository.Repositories
}

// NewEngine creates a distribution engine over the repository set
func NewEngine(repos *repository.Repositories) *Engine {
	return &Engine{repos: repos}
}

// candidate is an eligible membership enriched with live load and
// round-robin recency.
type candidate struct {
	membership models.QueueMembership
	load       int64
	lastAt     time.Time
	everPicked bool
}

// Assign resolves an agent for the ticket via its queue's strategy,
// falling back to the backup queue when the primary has no eligible agent.
// The decision (successful or not) is appended to the assignment log; on
// success the ticket row is updated with the chosen agent.
func (e *Engine) Assign(ctx context.Context, ticket *models.Ticket) (*models.Agent, error) {
	tenantID := tenantctx.MustFromContext(ctx)
	if uint(tenantID) != ticket.TenantID {
		return nil, fmt.Errorf("distribution: ticket %d belongs to tenant %d, context bound to %d",
			ticket.ID, ticket.TenantID, tenantID)
	}

	queue, err := e.repos.Queue.GetByID(ticket.TenantID, ticket.QueueID)
	if err != nil {
		return nil, fmt.Errorf("distribution: load queue %d: %w", ticket.QueueID, err)
	}

	chosen, usedQueue, err := e.resolveWithBackup(ticket.TenantID, queue)
	if err != nil && !errors.Is(err, ErrNoEligibleAgent) {
		return nil, err
	}

	entry := &models.AssignmentLogEntry{
		TenantID: ticket.TenantID,
		TicketID: ticket.ID,
		QueueID:  usedQueue.ID,
		Strategy: string(usedQueue.Strategy),
	}
	if chosen != nil {
		entry.AgentID = &chosen.membership.AgentID
	}
	if appendErr := e.repos.Assignment.Append(entry); appendErr != nil {
		return nil, fmt.Errorf("distribution: append assignment log: %w", appendErr)
	}

	if chosen == nil {
		log.Infof("[Distribution] No eligible agent for ticket %d in queue %d (tenant %d)",
			ticket.ID, queue.ID, ticket.TenantID)
		return nil, ErrNoEligibleAgent
	}

	agentID := chosen.membership.AgentID
	ticket.AgentID = &agentID
	ticket.LastActivityAt = time.Now()
	if err := e.repos.Ticket.Update(ticket); err != nil {
		return nil, fmt.Errorf("distribution: persist assignment: %w", err)
	}

	log.Infof("[Distribution] Ticket %d assigned to agent %d via %s (queue %d, tenant %d)",
		ticket.ID, agentID, usedQueue.Strategy, usedQueue.ID, ticket.TenantID)
	return &chosen.membership.Agent, nil
}

// Transfer assigns the ticket to an explicit agent, bypassing strategy
// selection but validating eligibility the same way. The log entry is
// tagged manual.
func (e *Engine) Transfer(ctx context.Context, ticket *models.Ticket, agentID uint) error {
	tenantID := tenantctx.MustFromContext(ctx)
	if uint(tenantID) != ticket.TenantID {
		return fmt.Errorf("distribution: ticket %d belongs to tenant %d, context bound to %d",
			ticket.ID, ticket.TenantID, tenantID)
	}

	queue, err := e.repos.Queue.GetByID(ticket.TenantID, ticket.QueueID)
	if err != nil {
		return fmt.Errorf("distribution: load queue %d: %w", ticket.QueueID, err)
	}

	memberships, err := e.repos.Queue.ActiveMemberships(ticket.TenantID, queue.ID)
	if err != nil {
		return fmt.Errorf("distribution: load memberships: %w", err)
	}

	var target *models.QueueMembership
	for i := range memberships {
		if memberships[i].AgentID == agentID {
			target = &memberships[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: agent %d has no active membership in queue %d", ErrNoEligibleAgent, agentID, queue.ID)
	}

	load, err := e.repos.Ticket.CountOpenByAgent(ticket.TenantID, agentID)
	if err != nil {
		return fmt.Errorf("distribution: count agent load: %w", err)
	}
	if load >= int64(target.EffectiveCapacity(queue)) {
		return fmt.Errorf("%w: agent %d at capacity (%d)", ErrNoEligibleAgent, agentID, load)
	}

	entry := &models.AssignmentLogEntry{
		TenantID: ticket.TenantID,
		TicketID: ticket.ID,
		QueueID:  queue.ID,
		AgentID:  &agentID,
		Strategy: models.StrategyManual,
	}
	if err := e.repos.Assignment.Append(entry); err != nil {
		return fmt.Errorf("distribution: append assignment log: %w", err)
	}

	ticket.AgentID = &agentID
	ticket.LastActivityAt = time.Now()
	if err := e.repos.Ticket.Update(ticket); err != nil {
		return fmt.Errorf("distribution: persist transfer: %w", err)
	}

	log.Infof("[Distribution] Ticket %d manually transferred to agent %d (tenant %d)",
		ticket.ID, agentID, ticket.TenantID)
	return nil
}

// AssignNextInQueue grabs the oldest unassigned ticket of the queue and
// runs assignment for it. Called when an agent frees capacity.
func (e *Engine) AssignNextInQueue(ctx context.Context, queueID uint) error {
	tenantID := tenantctx.MustFromContext(ctx)
	ticket, err := e.repos.Ticket.OldestUnassignedInQueue(uint(tenantID), queueID)
	if err != nil {
		return fmt.Errorf("distribution: find unassigned ticket: %w", err)
	}
	if ticket == nil {
		return nil
	}
	_, err = e.Assign(ctx, ticket)
	if errors.Is(err, ErrNoEligibleAgent) {
		return nil
	}
	return err
}

// resolveWithBackup runs strategy resolution on the primary queue, then on
// the backup queue if the primary came up empty. Returns the queue whose
// resolution produced the decision so the log entry names the right one.
func (e *Engine) resolveWithBackup(tenantID uint, queue *models.Queue) (*candidate, *models.Queue, error) {
	chosen, err := e.resolve(tenantID, queue)
	if err != nil {
		return nil, queue, err
	}
	if chosen != nil {
		return chosen, queue, nil
	}

	if queue.BackupQueueID != nil {
		backup, err := e.repos.Queue.GetByID(tenantID, *queue.BackupQueueID)
		if err != nil {
			return nil, queue, fmt.Errorf("distribution: load backup queue %d: %w", *queue.BackupQueueID, err)
		}
		chosen, err = e.resolve(tenantID, backup)
		if err != nil {
			return nil, backup, err
		}
		if chosen != nil {
			return chosen, backup, nil
		}
	}

	return nil, queue, ErrNoEligibleAgent
}

// resolve builds the eligible candidate set for the queue and applies its
// strategy. Returns nil when nobody is eligible.
func (e *Engine) resolve(tenantID uint, queue *models.Queue) (*candidate, error) {
	if !queue.Active {
		return nil, nil
	}

	memberships, err := e.repos.Queue.ActiveMemberships(tenantID, queue.ID)
	if err != nil {
		return nil, fmt.Errorf("distribution: load memberships: %w", err)
	}
	if len(memberships) == 0 {
		return nil, nil
	}

	lastAt, err := e.repos.Assignment.LastAssignedAt(tenantID, queue.ID)
	if err != nil {
		return nil, fmt.Errorf("distribution: load assignment history: %w", err)
	}

	// Memberships arrive ordered by agent id, so every tie-break below
	// falls through to ascending agent id for determinism.
	var candidates []candidate
	for _, m := range memberships {
		load, err := e.repos.Ticket.CountOpenByAgent(tenantID, m.AgentID)
		if err != nil {
			return nil, fmt.Errorf("distribution: count load for agent %d: %w", m.AgentID, err)
		}
		if load >= int64(m.EffectiveCapacity(queue)) {
			continue
		}
		c := candidate{membership: m, load: load}
		if at, ok := lastAt[m.AgentID]; ok {
			c.lastAt = at
			c.everPicked = true
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	switch queue.Strategy {
	case models.StrategyLeastLoad:
		return pickLeastLoad(candidates), nil
	case models.StrategyPriority:
		return pickPriority(candidates), nil
	default:
		return pickRoundRobin(candidates), nil
	}
}

// pickRoundRobin selects the candidate least recently assigned within this
// queue; agents never assigned here come first. Candidates are pre-sorted
// by agent id, so equal recency resolves to the lowest id.
func pickRoundRobin(candidates []candidate) *candidate {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		if lessRecent(c, best) {
			best = c
		}
	}
	return best
}

func lessRecent(a, b *candidate) bool {
	if a.everPicked != b.everPicked {
		return !a.everPicked
	}
	return a.lastAt.Before(b.lastAt)
}

// pickLeastLoad selects the smallest current load, ties broken by the
// round-robin rule.
func pickLeastLoad(candidates []candidate) *candidate {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		if c.load < best.load || (c.load == best.load && lessRecent(c, best)) {
			best = c
		}
	}
	return best
}

// pickPriority selects the lowest membership priority value (1 = served
// first), ties broken by least load, then round robin.
func pickPriority(candidates []candidate) *candidate {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		switch {
		case c.membership.Priority < best.membership.Priority:
			best = c
		case c.membership.Priority == best.membership.Priority:
			if c.load < best.load || (c.load == best.load && lessRecent(c, best)) {
				best = c
			}
		}
	}
	return best
}
