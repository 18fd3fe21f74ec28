package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/deskrelay/deskrelay/app/repository"
	apiv1 "github.com/deskrelay/deskrelay/internal/api/v1"
	"github.com/deskrelay/deskrelay/internal/pkg/distribution"
	"github.com/deskrelay/deskrelay/internal/pkg/jobqueue"
	"github.com/deskrelay/deskrelay/internal/pkg/middleware"
	"github.com/deskrelay/deskrelay/internal/pkg/pipeline"
	"github.com/deskrelay/deskrelay/internal/pkg/ticketing"
)

// Dependencies carries the assembled services the API layer needs
type Dependencies struct {
	Repos   *repository.Repositories
	Pipe    *pipeline.Pipeline
	Tickets *ticketing.Service
	Engine  *distribution.Engine
	Manager *jobqueue.Manager
}

// APIRouter installs the versioned API
type APIRouter struct {
	deps *Dependencies
}

// NewAPIRouter creates the API route group
func NewAPIRouter(deps *Dependencies) *APIRouter {
	return &APIRouter{deps: deps}
}

func (h *APIRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "deskrelay api",
		})
	})

	server := apiv1.NewAPIServer(h.deps.Repos, h.deps.Pipe, h.deps.Tickets, h.deps.Engine, h.deps.Manager)

	v1 := api.Group("/v1", middleware.TenantMiddleware())

	// Ingestion: signature validation happens upstream, this endpoint only
	// normalizes and enqueues
	v1.Post("/webhook/:channel", server.PostWebhook)

	// Ticket operations
	v1.Get("/tickets", server.GetTickets)
	v1.Get("/tickets/:id", server.GetTicket)
	v1.Post("/tickets/:id/assign", server.PostTicketAssign)
	v1.Post("/tickets/:id/transfer", server.PostTicketTransfer)
	v1.Post("/tickets/:id/status", server.PostTicketStatus)
	v1.Post("/tickets/:id/reply", server.PostTicketReply)

	// Reads for the UI layer
	v1.Get("/queues", server.GetQueues)
	v1.Get("/agents", server.GetAgents)

	// Operator surface
	v1.Get("/deadletter/:queue", server.GetDeadLetters)
	v1.Post("/deadletter/:queue/:job/replay", server.PostDeadLetterReplay)
	v1.Get("/stats", server.GetStats)
}
