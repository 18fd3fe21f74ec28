package ticketing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/models"
	"github.com/deskrelay/deskrelay/app/repository"
	"github.com/deskrelay/deskrelay/internal/pkg/cache"
	"github.com/deskrelay/deskrelay/internal/pkg/distribution"
	"github.com/deskrelay/deskrelay/internal/pkg/sla"
	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
	"github.com/deskrelay/deskrelay/internal/pkg/webhook"
)

func init() {
	// Message counters are best-effort; point them at a dead store so
	// tests fail fast instead of dialing a live one
	cache.SetClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
}

// fakeOutbound records system messages the service enqueues
type fakeOutbound struct {
	greetings []string
}

func (f *fakeOutbound) EnqueueSystemMessage(_ context.Context, _ *models.Ticket, body string) error {
	f.greetings = append(f.greetings, body)
	return nil
}

type fixture struct {
	service  *Service
	repos    *repository.Repositories
	queue    *models.Queue
	agent    *models.Agent
	outbound *fakeOutbound
}

func setupService(t *testing.T) *fixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ticketing.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Tenant{},
		&models.Agent{},
		&models.Queue{},
		&models.QueueMembership{},
		&models.Ticket{},
		&models.Message{},
		&models.AssignmentLogEntry{},
		&models.SLAPolicy{},
	))

	repos := repository.NewRepositories(db)

	queue := &models.Queue{
		TenantID:        1,
		Name:            "support",
		Strategy:        models.StrategyRoundRobin,
		DefaultCapacity: 5,
		Greeting:        "Thanks for reaching out, an agent will be with you shortly.",
		Active:          true,
	}
	require.NoError(t, repos.Queue.Create(queue))

	agent := &models.Agent{TenantID: 1, Name: "a1", Active: true}
	require.NoError(t, repos.Agent.Create(agent))
	require.NoError(t, repos.Queue.AddMembership(&models.QueueMembership{
		TenantID: 1, QueueID: queue.ID, AgentID: agent.ID, Priority: 5, Active: true,
	}))

	engine := distribution.NewEngine(repos)
	tracker := sla.NewTracker(repos, nil)
	outbound := &fakeOutbound{}

	return &fixture{
		service:  NewService(repos, engine, tracker, outbound),
		repos:    repos,
		queue:    queue,
		agent:    agent,
		outbound: outbound,
	}
}

func textEvent(contactID, messageID, body string) *webhook.Event {
	return &webhook.Event{
		Type:              webhook.EventText,
		ProviderMessageID: messageID,
		ContactID:         contactID,
		ContactName:       "Jordan",
		Timestamp:         time.Now(),
		Text:              body,
	}
}

func tenantCtx() context.Context {
	return tenantctx.WithTenant(context.Background(), 1)
}

func TestHandleEvent_OpensTicketAndAssigns(t *testing.T) {
	f := setupService(t)
	ctx := tenantCtx()

	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.1", "my order is missing")))

	ticket, err := f.repos.Ticket.FindLatestByContact(1, "491765432109", "whatsapp", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, models.TicketOpen, ticket.Status)
	assert.Equal(t, f.queue.ID, ticket.QueueID)
	assert.NotEmpty(t, ticket.PublicID)
	require.NotNil(t, ticket.AgentID)
	assert.Equal(t, f.agent.ID, *ticket.AgentID)

	messages, err := f.repos.Message.ListByTicket(1, ticket.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.DirectionInbound, messages[0].Direction)
	assert.Equal(t, "wamid.1", messages[0].ExternalID)

	require.Len(t, f.outbound.greetings, 1)
	assert.Equal(t, f.queue.Greeting, f.outbound.greetings[0])
}

func TestHandleEvent_SessionWindowGroupsMessages(t *testing.T) {
	f := setupService(t)
	ctx := tenantCtx()

	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.1", "first")))
	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.2", "second")))

	tickets, err := f.repos.Ticket.List(1, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	messages, err := f.repos.Message.ListByTicket(1, tickets[0].ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestHandleEvent_ExpiredWindowOpensNewTicket(t *testing.T) {
	f := setupService(t)
	ctx := tenantCtx()

	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.1", "first")))

	// Push the first conversation outside the session window
	first, err := f.repos.Ticket.FindLatestByContact(1, "491765432109", "whatsapp", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	first.LastActivityAt = time.Now().Add(-25 * time.Hour)
	require.NoError(t, f.repos.Ticket.Update(first))

	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.2", "hello again")))

	tickets, err := f.repos.Ticket.List(1, "", 0, 10)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}

func TestHandleEvent_ReopensResolvedTicket(t *testing.T) {
	f := setupService(t)
	ctx := tenantCtx()

	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.1", "first")))

	ticket, err := f.repos.Ticket.FindLatestByContact(1, "491765432109", "whatsapp", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.service.Transition(ctx, ticket, models.TicketInProgress))
	require.NoError(t, f.service.Transition(ctx, ticket, models.TicketResolved))

	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.2", "still broken")))

	reloaded, err := f.repos.Ticket.GetByID(1, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketOpen, reloaded.Status)
	assert.Nil(t, reloaded.ClosedAt)

	tickets, err := f.repos.Ticket.List(1, "", 0, 10)
	require.NoError(t, err)
	assert.Len(t, tickets, 1, "reopen must not spawn a second ticket")
}

func TestHandleEvent_StatusUpdateCorrelatesMessage(t *testing.T) {
	f := setupService(t)
	ctx := tenantCtx()

	message := &models.Message{
		TenantID:       1,
		TicketID:       1,
		Direction:      models.DirectionOutbound,
		Body:           "on it",
		ExternalID:     "wamid.out42",
		DeliveryStatus: models.DeliverySent,
	}
	require.NoError(t, f.repos.Message.Create(message))

	event := &webhook.Event{
		Type:              webhook.EventStatus,
		ProviderMessageID: "wamid.out42",
		Timestamp:         time.Now(),
		Status:            "read",
	}
	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", event))

	reloaded, err := f.repos.Message.GetByID(1, message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryRead, reloaded.DeliveryStatus)

	// No ticket is created for a status callback
	tickets, err := f.repos.Ticket.List(1, "", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestTransition_InvalidMoveSurfacesDomainError(t *testing.T) {
	f := setupService(t)
	ctx := tenantCtx()

	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.1", "first")))
	ticket, err := f.repos.Ticket.FindLatestByContact(1, "491765432109", "whatsapp", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	err = f.service.Transition(ctx, ticket, models.TicketClosed)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	reloaded, err := f.repos.Ticket.GetByID(1, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketOpen, reloaded.Status)
}

func TestTransition_ResolvingFreesCapacityForNextTicket(t *testing.T) {
	f := setupService(t)
	ctx := tenantCtx()

	// Fill the single agent to capacity; the sixth conversation waits
	// unassigned
	for i := 0; i < 6; i++ {
		contact := string(rune('a' + i))
		require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent(contact, "wamid."+contact, "help")))
	}

	waiting, err := f.repos.Ticket.OldestUnassignedInQueue(1, f.queue.ID)
	require.NoError(t, err)
	require.NotNil(t, waiting)

	first, err := f.repos.Ticket.FindLatestByContact(1, "a", "whatsapp", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.service.Transition(ctx, first, models.TicketInProgress))
	require.NoError(t, f.service.Transition(ctx, first, models.TicketResolved))

	reloaded, err := f.repos.Ticket.GetByID(1, waiting.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.AgentID)
	assert.Equal(t, f.agent.ID, *reloaded.AgentID)
}

func TestPrepareReply_FirstTouch(t *testing.T) {
	f := setupService(t)
	ctx := tenantCtx()

	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.1", "help")))
	ticket, err := f.repos.Ticket.FindLatestByContact(1, "491765432109", "whatsapp", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Nil(t, ticket.FirstReplyAt)

	message, err := f.service.PrepareReply(ctx, ticket, "looking into it", models.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, message.DeliveryStatus)

	assert.Equal(t, models.TicketInProgress, ticket.Status)
	require.NotNil(t, ticket.FirstReplyAt)
	firstReply := *ticket.FirstReplyAt

	// A second reply keeps the original first-touch stamp
	_, err = f.service.PrepareReply(ctx, ticket, "found it", models.DirectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, firstReply, *ticket.FirstReplyAt)
}

func TestPrepareReply_RejectsForeignTenant(t *testing.T) {
	f := setupService(t)
	ctx := tenantCtx()

	require.NoError(t, f.service.HandleEvent(ctx, "whatsapp", textEvent("491765432109", "wamid.1", "help")))
	ticket, err := f.repos.Ticket.FindLatestByContact(1, "491765432109", "whatsapp", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	foreign := tenantctx.WithTenant(context.Background(), 2)
	_, err = f.service.PrepareReply(foreign, ticket, "nope", models.DirectionOutbound)
	require.Error(t, err)
}
