package apiv1

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/models"
	"github.com/deskrelay/deskrelay/app/repository"
	"github.com/deskrelay/deskrelay/internal/pkg/distribution"
	"github.com/deskrelay/deskrelay/internal/pkg/jobqueue"
	"github.com/deskrelay/deskrelay/internal/pkg/metrics/counter"
	"github.com/deskrelay/deskrelay/internal/pkg/middleware"
	"github.com/deskrelay/deskrelay/internal/pkg/pipeline"
	"github.com/deskrelay/deskrelay/internal/pkg/ticketing"
	"github.com/deskrelay/deskrelay/internal/pkg/webhook"
)

// APIServer exposes the ingestion endpoint and the administrative ticket
// operations
type APIServer struct {
	repos   *repository.Repositories
	pipe    *pipeline.Pipeline
	tickets *ticketing.Service
	engine  *distribution.Engine
	manager *jobqueue.Manager
}

// NewAPIServer creates a new API server instance
func NewAPIServer(repos *repository.Repositories, pipe *pipeline.Pipeline, tickets *ticketing.Service, engine *distribution.Engine, manager *jobqueue.Manager) *APIServer {
	return &APIServer{
		repos:   repos,
		pipe:    pipe,
		tickets: tickets,
		engine:  engine,
		manager: manager,
	}
}

// PostWebhook ingests one raw provider payload for the bound tenant.
// Fire-and-forget: the payload is normalized, deduplicated and enqueued;
// duplicates still answer 202 because a drop is not the caller's problem.
func (s *APIServer) PostWebhook(c *fiber.Ctx) error {
	channelName := c.Params("channel")
	if channelName == "" {
		return badRequest(c, "channel missing")
	}

	tenantID := middleware.GetTenantID(c)
	if err := s.pipe.Ingest(c.UserContext(), tenantID, channelName, c.Body()); err != nil {
		if errors.Is(err, webhook.ErrUnsupportedPayload) {
			return badRequest(c, err.Error())
		}
		return internalError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// PostTicketAssign runs strategy assignment for a ticket immediately
func (s *APIServer) PostTicketAssign(c *fiber.Ctx) error {
	ticket, err := s.loadTicket(c)
	if ticket == nil {
		return err
	}

	agent, err := s.engine.Assign(c.UserContext(), ticket)
	if err != nil {
		if errors.Is(err, distribution.ErrNoEligibleAgent) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_eligible_agent", "message": "No agent has free capacity; the ticket stays queued"})
		}
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"ticket_id": ticket.ID, "agent_id": agent.ID})
}

// PostTicketTransfer manually moves a ticket to an explicit agent
func (s *APIServer) PostTicketTransfer(c *fiber.Ctx) error {
	ticket, err := s.loadTicket(c)
	if ticket == nil {
		return err
	}

	var body struct {
		AgentID uint `json:"agent_id" validate:"required"`
	}
	if err := c.BodyParser(&body); err != nil || body.AgentID == 0 {
		return badRequest(c, "agent_id required")
	}

	if err := s.engine.Transfer(c.UserContext(), ticket, body.AgentID); err != nil {
		if errors.Is(err, distribution.ErrNoEligibleAgent) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_eligible_agent", "message": err.Error()})
		}
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"ticket_id": ticket.ID, "agent_id": body.AgentID})
}

// PostTicketStatus applies an explicit lifecycle transition
func (s *APIServer) PostTicketStatus(c *fiber.Ctx) error {
	ticket, err := s.loadTicket(c)
	if ticket == nil {
		return err
	}

	var body struct {
		Status models.TicketStatus `json:"status" validate:"required"`
	}
	if err := c.BodyParser(&body); err != nil || body.Status == "" {
		return badRequest(c, "status required")
	}

	if err := s.tickets.Transition(c.UserContext(), ticket, body.Status); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_transition", "message": err.Error()})
		}
		return internalError(c, err)
	}
	return c.JSON(ticket)
}

// PostTicketReply persists an outbound agent message and queues it for
// delivery
func (s *APIServer) PostTicketReply(c *fiber.Ctx) error {
	ticket, err := s.loadTicket(c)
	if ticket == nil {
		return err
	}

	var body struct {
		Body string `json:"body" validate:"required"`
	}
	if err := c.BodyParser(&body); err != nil || body.Body == "" {
		return badRequest(c, "body required")
	}

	message, err := s.pipe.SendReply(c.UserContext(), ticket, body.Body)
	if err != nil {
		return internalError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(message)
}

// GetTickets lists the tenant's tickets, optionally filtered by status
func (s *APIServer) GetTickets(c *fiber.Ctx) error {
	tenantID := uint(middleware.GetTenantID(c))
	status := models.TicketStatus(c.Query("status"))
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)

	tickets, err := s.repos.Ticket.List(tenantID, status, offset, limit)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"tickets": tickets})
}

// GetTicket returns one ticket with its messages and assignment history
func (s *APIServer) GetTicket(c *fiber.Ctx) error {
	ticket, err := s.loadTicket(c)
	if ticket == nil {
		return err
	}

	messages, err := s.repos.Message.ListByTicket(ticket.TenantID, ticket.ID, 0, 200)
	if err != nil {
		return internalError(c, err)
	}
	history, err := s.repos.Assignment.ListByTicket(ticket.TenantID, ticket.ID)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"ticket": ticket, "messages": messages, "assignments": history})
}

// GetQueues lists the tenant's queues
func (s *APIServer) GetQueues(c *fiber.Ctx) error {
	queues, err := s.repos.Queue.ListByTenant(uint(middleware.GetTenantID(c)))
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"queues": queues})
}

// GetAgents lists the tenant's agents with their live load
func (s *APIServer) GetAgents(c *fiber.Ctx) error {
	tenantID := uint(middleware.GetTenantID(c))
	agents, err := s.repos.Agent.ListByTenant(tenantID)
	if err != nil {
		return internalError(c, err)
	}

	type agentWithLoad struct {
		models.Agent
		Load int64 `json:"load"`
	}
	result := make([]agentWithLoad, 0, len(agents))
	for _, agent := range agents {
		load, err := s.repos.Ticket.CountOpenByAgent(tenantID, agent.ID)
		if err != nil {
			return internalError(c, err)
		}
		result = append(result, agentWithLoad{Agent: agent, Load: load})
	}
	return c.JSON(fiber.Map{"agents": result})
}

// GetDeadLetters lists dead-lettered jobs of one queue for inspection
func (s *APIServer) GetDeadLetters(c *fiber.Ctx) error {
	queue, err := s.resolveQueue(c)
	if queue == nil {
		return err
	}
	jobs, err := queue.ListDeadLetters(c.UserContext(), int64(c.QueryInt("limit", 100)))
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"queue": queue.Name(), "jobs": jobs})
}

// PostDeadLetterReplay puts a dead-lettered job back onto its queue
func (s *APIServer) PostDeadLetterReplay(c *fiber.Ctx) error {
	queue, err := s.resolveQueue(c)
	if queue == nil {
		return err
	}
	jobID := c.Params("job")
	if err := queue.ReplayDeadLetter(c.UserContext(), jobID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "replayed", "job_id": jobID})
}

// GetStats returns queue depths and pipeline counters for operators
func (s *APIServer) GetStats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	stats := fiber.Map{}

	for _, queue := range []*jobqueue.Queue{s.manager.Inbound(), s.manager.Outbound()} {
		pending, _ := queue.GetQueueSize(ctx)
		processing, _ := queue.GetProcessingSize(ctx)
		dead, _ := queue.GetDeadLetterSize(ctx)
		stats[queue.Name()] = fiber.Map{"pending": pending, "processing": processing, "dead_letter": dead}
	}

	if pipelineStats, err := counter.PipelineStats(); err == nil {
		stats["pipeline"] = pipelineStats
	}
	return c.JSON(stats)
}

func (s *APIServer) loadTicket(c *fiber.Ctx) (*models.Ticket, error) {
	tenantID := uint(middleware.GetTenantID(c))
	publicID := c.Params("id")
	ticket, err := s.repos.Ticket.GetByPublicID(tenantID, publicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown ticket"})
		}
		return nil, internalError(c, err)
	}
	return ticket, nil
}

func (s *APIServer) resolveQueue(c *fiber.Ctx) (*jobqueue.Queue, error) {
	switch c.Params("queue") {
	case s.manager.Inbound().Name():
		return s.manager.Inbound(), nil
	case s.manager.Outbound().Name():
		return s.manager.Outbound(), nil
	}
	return nil, badRequest(c, "unknown queue")
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": message})
}

func internalError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
}
