package ticketing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/deskrelay/deskrelay/app/models"
	"github.com/deskrelay/deskrelay/app/repository"
	"github.com/deskrelay/deskrelay/internal/pkg/distribution"
	"github.com/deskrelay/deskrelay/internal/pkg/env"
	"github.com/deskrelay/deskrelay/internal/pkg/metrics/counter"
	"github.com/deskrelay/deskrelay/internal/pkg/sla"
	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
	"github.com/deskrelay/deskrelay/internal/pkg/webhook"
)

// DefaultSessionWindowSeconds groups events of one contact into the same
// ticket for 24 hours of inactivity
const DefaultSessionWindowSeconds = 86400

// OutboundEnqueuer lets the service push automatic messages (queue
// greetings) without depending on the outbound pipeline package.
type OutboundEnqueuer interface {
	EnqueueSystemMessage(ctx context.Context, ticket *models.Ticket, body string) error
}

// Service owns the ticket lifecycle: create-or-attach on inbound events,
// transition validation, first-touch bookkeeping and the hand-off to the
// distribution engine and SLA tracker.
type Service struct {
	repos         *repository.Repositories
	engine        *distribution.Engine
	tracker       *sla.Tracker
	outbound      OutboundEnqueuer
	locks         *conversationLocks
	sessionWindow time.Duration
}

// NewService creates the ticketing service. The session window comes from
// SESSION_WINDOW_SECONDS. outbound may be nil; greetings are skipped then.
func NewService(repos *repository.Repositories, engine *distribution.Engine, tracker *sla.Tracker, outbound OutboundEnqueuer) *Service {
	window := time.Duration(env.GetEnvInt("SESSION_WINDOW_SECONDS", DefaultSessionWindowSeconds)) * time.Second
	return &Service{
		repos:         repos,
		engine:        engine,
		tracker:       tracker,
		outbound:      outbound,
		locks:         newConversationLocks(),
		sessionWindow: window,
	}
}

// HandleEvent consumes one normalized, deduplicated inbound event under an
// established tenant context. Customer messages create or extend a ticket;
// status updates only touch message delivery state.
func (s *Service) HandleEvent(ctx context.Context, channelName string, event *webhook.Event) error {
	tenantID := uint(tenantctx.MustFromContext(ctx))

	if event.Type == webhook.EventStatus {
		return s.applyStatusUpdate(ctx, tenantID, event)
	}

	release := s.locks.acquire(fmt.Sprintf("%d:%s", tenantID, event.ContactID))
	defer release()

	cutoff := time.Now().Add(-s.sessionWindow)
	ticket, err := s.repos.Ticket.FindLatestByContact(tenantID, event.ContactID, channelName, cutoff)
	if err != nil {
		return fmt.Errorf("ticketing: find ticket for contact %s: %w", event.ContactID, err)
	}

	if ticket == nil {
		return s.openTicket(ctx, tenantID, channelName, event)
	}
	return s.attachToTicket(ctx, ticket, event)
}

// applyStatusUpdate correlates a provider delivery callback with the
// outbound message it refers to.
func (s *Service) applyStatusUpdate(ctx context.Context, tenantID uint, event *webhook.Event) error {
	status := models.DeliveryStatus(event.Status)
	switch status {
	case models.DeliverySent, models.DeliveryDelivered, models.DeliveryRead, models.DeliveryFailed:
	default:
		log.Debugf("[Ticketing] Ignoring unknown delivery status %q for %s", event.Status, event.ProviderMessageID)
		return nil
	}
	if err := s.repos.Message.UpdateDeliveryStatus(tenantID, event.ProviderMessageID, status, ""); err != nil {
		return fmt.Errorf("ticketing: status update for %s: %w", event.ProviderMessageID, err)
	}
	return nil
}

// openTicket creates a fresh OPEN ticket, attaches the first message,
// stamps the SLA deadline and hands the ticket to the distribution engine.
func (s *Service) openTicket(ctx context.Context, tenantID uint, channelName string, event *webhook.Event) error {
	queue, err := s.intakeQueue(tenantID)
	if err != nil {
		return err
	}

	now := time.Now()
	ticket := &models.Ticket{
		PublicID:       uuid.New().String(),
		TenantID:       tenantID,
		ContactID:      event.ContactID,
		ContactName:    event.ContactName,
		Channel:        channelName,
		Kind:           models.TicketKindConversation,
		QueueID:        queue.ID,
		Status:         models.TicketOpen,
		Priority:       models.PriorityNormal,
		LastActivityAt: now,
	}
	if err := s.tracker.ApplyDeadline(ctx, ticket, now); err != nil {
		return err
	}
	if err := s.repos.Ticket.Create(ticket); err != nil {
		return fmt.Errorf("ticketing: create ticket: %w", err)
	}
	log.Infof("[Ticketing] Ticket %d opened for contact %s (tenant %d, queue %d)",
		ticket.ID, ticket.ContactID, tenantID, queue.ID)

	if err := s.createInboundMessage(ticket, event); err != nil {
		return err
	}

	if _, err := s.engine.Assign(ctx, ticket); err != nil && !errors.Is(err, distribution.ErrNoEligibleAgent) {
		return err
	}

	if queue.Greeting != "" && s.outbound != nil {
		if err := s.outbound.EnqueueSystemMessage(ctx, ticket, queue.Greeting); err != nil {
			log.Errorf("[Ticketing] Greeting enqueue failed for ticket %d: %v", ticket.ID, err)
		}
	}
	return nil
}

// attachToTicket appends the message to an existing conversation,
// reopening resolved or closed tickets first.
func (s *Service) attachToTicket(ctx context.Context, ticket *models.Ticket, event *webhook.Event) error {
	wasAssigned := ticket.AgentID != nil

	if ticket.Status == models.TicketResolved || ticket.Status == models.TicketClosed {
		if err := ticket.Reopen(); err != nil {
			return err
		}
		if err := s.tracker.ApplyDeadline(ctx, ticket, time.Now()); err != nil {
			return err
		}
		log.Infof("[Ticketing] Ticket %d reopened by inbound message (tenant %d)", ticket.ID, ticket.TenantID)
	}

	ticket.LastActivityAt = time.Now()
	if err := s.repos.Ticket.Update(ticket); err != nil {
		return fmt.Errorf("ticketing: update ticket %d: %w", ticket.ID, err)
	}

	if err := s.createInboundMessage(ticket, event); err != nil {
		return err
	}

	// A reopened ticket whose agent is gone goes back through assignment
	if !wasAssigned && ticket.Status == models.TicketOpen {
		if _, err := s.engine.Assign(ctx, ticket); err != nil && !errors.Is(err, distribution.ErrNoEligibleAgent) {
			return err
		}
	}
	return nil
}

func (s *Service) createInboundMessage(ticket *models.Ticket, event *webhook.Event) error {
	message := &models.Message{
		TenantID:       ticket.TenantID,
		TicketID:       ticket.ID,
		Direction:      models.DirectionInbound,
		Body:           event.Text,
		MediaURL:       event.MediaURL,
		MediaType:      event.MediaType,
		ExternalID:     event.ProviderMessageID,
		DeliveryStatus: models.DeliveryDelivered,
	}
	if err := s.repos.Message.Create(message); err != nil {
		return fmt.Errorf("ticketing: create message: %w", err)
	}
	if err := counter.AddTicketMessage(ticket.ID); err != nil {
		log.Debugf("[Ticketing] Message counter increment failed: %v", err)
	}
	return nil
}

// Transition applies an explicit lifecycle move requested by an agent or
// the admin API. Invalid moves are domain errors: they are reported
// upward immediately and never retried. Freeing capacity (resolve/close)
// triggers an assignment attempt for the queue's oldest waiting ticket.
func (s *Service) Transition(ctx context.Context, ticket *models.Ticket, target models.TicketStatus) error {
	tenantID := uint(tenantctx.MustFromContext(ctx))
	if tenantID != ticket.TenantID {
		return fmt.Errorf("ticketing: ticket %d belongs to tenant %d, context bound to %d",
			ticket.ID, ticket.TenantID, tenantID)
	}

	wasOpen := ticket.IsOpen()
	if err := ticket.TransitionTo(target); err != nil {
		return err
	}
	if err := s.repos.Ticket.Update(ticket); err != nil {
		return fmt.Errorf("ticketing: persist transition: %w", err)
	}

	if wasOpen && !ticket.IsOpen() && ticket.AgentID != nil {
		if err := s.engine.AssignNextInQueue(ctx, ticket.QueueID); err != nil {
			log.Errorf("[Ticketing] Capacity-freed assignment failed for queue %d: %v", ticket.QueueID, err)
		}
	}
	return nil
}

// PrepareReply persists an outbound agent message on the ticket and
// performs first-touch bookkeeping: the first agent reply stamps
// FirstReplyAt and moves an OPEN ticket to IN_PROGRESS.
func (s *Service) PrepareReply(ctx context.Context, ticket *models.Ticket, body string, direction models.MessageDirection) (*models.Message, error) {
	tenantID := uint(tenantctx.MustFromContext(ctx))
	if tenantID != ticket.TenantID {
		return nil, fmt.Errorf("ticketing: ticket %d belongs to tenant %d, context bound to %d",
			ticket.ID, ticket.TenantID, tenantID)
	}

	message := &models.Message{
		TenantID:       ticket.TenantID,
		TicketID:       ticket.ID,
		Direction:      direction,
		Body:           body,
		DeliveryStatus: models.DeliveryPending,
	}
	if err := s.repos.Message.Create(message); err != nil {
		return nil, fmt.Errorf("ticketing: create outbound message: %w", err)
	}

	dirty := false
	if direction == models.DirectionOutbound && ticket.FirstReplyAt == nil {
		now := time.Now()
		ticket.FirstReplyAt = &now
		dirty = true
	}
	if direction == models.DirectionOutbound && ticket.Status == models.TicketOpen {
		if err := ticket.TransitionTo(models.TicketInProgress); err == nil {
			dirty = true
		}
	}
	if dirty {
		ticket.LastActivityAt = time.Now()
		if err := s.repos.Ticket.Update(ticket); err != nil {
			return nil, fmt.Errorf("ticketing: first-touch update: %w", err)
		}
	}

	if err := counter.AddTicketMessage(ticket.ID); err != nil {
		log.Debugf("[Ticketing] Message counter increment failed: %v", err)
	}
	return message, nil
}

// intakeQueue picks the tenant's lowest-id active queue as the landing
// queue for new tickets.
func (s *Service) intakeQueue(tenantID uint) (*models.Queue, error) {
	queues, err := s.repos.Queue.ListByTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("ticketing: list queues: %w", err)
	}
	var intake *models.Queue
	for i := range queues {
		if !queues[i].Active {
			continue
		}
		if intake == nil || queues[i].ID < intake.ID {
			intake = &queues[i]
		}
	}
	if intake == nil {
		return nil, fmt.Errorf("ticketing: tenant %d has no active queue", tenantID)
	}
	return intake, nil
}
