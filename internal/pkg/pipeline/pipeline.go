package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/deskrelay/deskrelay/app/models"
	"github.com/deskrelay/deskrelay/app/repository"
	"github.com/deskrelay/deskrelay/internal/pkg/channel"
	"github.com/deskrelay/deskrelay/internal/pkg/idempotency"
	"github.com/deskrelay/deskrelay/internal/pkg/jobqueue"
	"github.com/deskrelay/deskrelay/internal/pkg/metrics/counter"
	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
	"github.com/deskrelay/deskrelay/internal/pkg/ticketing"
	"github.com/deskrelay/deskrelay/internal/pkg/webhook"
)

// Pipeline wires the ingest path (normalize, dedup, enqueue) to the
// inbound consumer and the outbound send path. It implements
// ticketing.OutboundEnqueuer so the service can push queue greetings.
type Pipeline struct {
	repos     *repository.Repositories
	gate      *idempotency.Gate
	inboundQ  *jobqueue.Queue
	outboundQ *jobqueue.Queue
	client    channel.Client
	tickets   *ticketing.Service
}

// New creates the pipeline. Call SetTicketing before RegisterHandlers;
// the ticketing service itself takes the pipeline as its outbound
// enqueuer.
func New(repos *repository.Repositories, gate *idempotency.Gate, inboundQ, outboundQ *jobqueue.Queue, client channel.Client) *Pipeline {
	p := &Pipeline{
		repos:     repos,
		gate:      gate,
		inboundQ:  inboundQ,
		outboundQ: outboundQ,
		client:    client,
	}
	gate.Degraded = func(string, tenantctx.TenantID, string) {
		_ = counter.AddPipelineEvent(counter.FieldGateDegraded)
	}
	return p
}

// SetTicketing injects the ticketing service after construction
func (p *Pipeline) SetTicketing(svc *ticketing.Service) {
	p.tickets = svc
}

// RegisterHandlers binds the queue consumers
func (p *Pipeline) RegisterHandlers() {
	p.inboundQ.RegisterHandler(jobqueue.JobTypeInboundEvent, p.handleInboundEvent)
	p.outboundQ.RegisterHandler(jobqueue.JobTypeOutboundMessage, p.handleOutboundMessage)
}

// Ingest accepts a raw provider payload for a tenant: normalize it, claim
// its fingerprint, and enqueue the canonical event. Duplicates are a
// normal drop, not an error. Fire-and-forget from the caller's view.
func (p *Pipeline) Ingest(ctx context.Context, tenantID tenantctx.TenantID, channelName string, raw []byte) error {
	_ = counter.AddPipelineEvent(counter.FieldEventsReceived)

	event, err := webhook.Normalize(raw)
	if err != nil {
		return err
	}

	fingerprint := idempotency.Fingerprint(event.ProviderMessageID, raw)
	if !p.gate.Claim(ctx, channelName, tenantID, fingerprint) {
		_ = counter.AddPipelineEvent(counter.FieldDuplicatesDropped)
		log.Debugf("[Pipeline] Duplicate event %s dropped (tenant %d, channel %s)", fingerprint, tenantID, channelName)
		return nil
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("pipeline: marshal event: %w", err)
	}
	payload := jobqueue.InboundEventPayload{
		TenantID:   uint(tenantID),
		Channel:    channelName,
		Event:      eventJSON,
		ReceivedAt: event.Timestamp,
	}
	if _, err := p.inboundQ.EnqueueJob(jobqueue.JobTypeInboundEvent, payload.ToMap()); err != nil {
		return fmt.Errorf("pipeline: enqueue inbound event: %w", err)
	}
	return nil
}

// handleInboundEvent is the inbound queue consumer. It re-establishes the
// tenant context from the job payload before touching business logic.
// Domain-rule violations are not retried; only infrastructure errors
// propagate into the retry path.
func (p *Pipeline) handleInboundEvent(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.InboundEventPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("pipeline: decode inbound payload: %w", err)
	}

	var event webhook.Event
	if err := json.Unmarshal(payload.Event, &event); err != nil {
		return fmt.Errorf("pipeline: decode event: %w", err)
	}

	err = tenantctx.RunWithTenant(ctx, tenantctx.TenantID(payload.TenantID), func(ctx context.Context) error {
		return p.tickets.HandleEvent(ctx, payload.Channel, &event)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, webhook.ErrUnsupportedPayload) {
			// Domain errors will fail identically on every retry
			log.Errorf("[Pipeline] Dropping job %s after domain error: %v", job.ID, err)
			return nil
		}
		return err
	}
	return nil
}

// handleOutboundMessage is the outbound queue consumer: it hands the
// message to the channel client and records the provider's verdict.
// Send failures are retried with backoff and eventually dead-lettered.
func (p *Pipeline) handleOutboundMessage(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.OutboundMessagePayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("pipeline: decode outbound payload: %w", err)
	}

	return tenantctx.RunWithTenant(ctx, tenantctx.TenantID(payload.TenantID), func(ctx context.Context) error {
		var media *channel.Media
		if payload.MediaURL != "" {
			media = &channel.Media{URL: payload.MediaURL, MimeType: payload.MediaType}
		}

		result, sendErr := p.client.Send(ctx, tenantctx.TenantID(payload.TenantID), payload.Recipient, payload.Body, media)
		if sendErr != nil || !result.Success {
			reason := result.Error
			if sendErr != nil {
				reason = sendErr.Error()
			}
			if err := p.repos.Message.MarkFailed(payload.TenantID, payload.MessageID, reason); err != nil {
				log.Errorf("[Pipeline] Failed to mark message %d failed: %v", payload.MessageID, err)
			}
			return fmt.Errorf("%w: %s", channel.ErrSendFailed, reason)
		}

		if err := p.repos.Message.MarkSent(payload.TenantID, payload.MessageID, result.ProviderMessageID); err != nil {
			return fmt.Errorf("pipeline: mark message %d sent: %w", payload.MessageID, err)
		}
		return nil
	})
}

// SendReply persists an outbound agent message and queues it for delivery
func (p *Pipeline) SendReply(ctx context.Context, ticket *models.Ticket, body string) (*models.Message, error) {
	message, err := p.tickets.PrepareReply(ctx, ticket, body, models.DirectionOutbound)
	if err != nil {
		return nil, err
	}
	if err := p.enqueueOutbound(ticket, message); err != nil {
		return nil, err
	}
	return message, nil
}

// EnqueueSystemMessage implements ticketing.OutboundEnqueuer for
// automatic acknowledgements like queue greetings.
func (p *Pipeline) EnqueueSystemMessage(ctx context.Context, ticket *models.Ticket, body string) error {
	message, err := p.tickets.PrepareReply(ctx, ticket, body, models.DirectionSystem)
	if err != nil {
		return err
	}
	return p.enqueueOutbound(ticket, message)
}

func (p *Pipeline) enqueueOutbound(ticket *models.Ticket, message *models.Message) error {
	payload := jobqueue.OutboundMessagePayload{
		TenantID:  ticket.TenantID,
		MessageID: message.ID,
		TicketID:  ticket.ID,
		Recipient: ticket.ContactID,
		Body:      message.Body,
		MediaURL:  message.MediaURL,
		MediaType: message.MediaType,
	}
	if _, err := p.outboundQ.EnqueueJob(jobqueue.JobTypeOutboundMessage, payload.ToMap()); err != nil {
		return fmt.Errorf("pipeline: enqueue outbound message: %w", err)
	}
	return nil
}
