package repository

import (
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/models"
)

func setupRepos(t *testing.T) *Repositories {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "repo.sqlite")
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
	return NewRepositories(db)
}

func createTicket(t *testing.T, repos *Repositories, tenantID uint, contactID string, status models.TicketStatus, lastActivity time.Time) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		PublicID:       contactID + "-" + lastActivity.Format("150405.000000"),
		TenantID:       tenantID,
		ContactID:      contactID,
		Channel:        "whatsapp",
		Kind:           models.TicketKindConversation,
		QueueID:        1,
		Status:         status,
		Priority:       models.PriorityNormal,
		LastActivityAt: lastActivity,
	}
	require.NoError(t, repos.Ticket.Create(ticket))
	return ticket
}

func TestTicketRepository_FindLatestByContact(t *testing.T) {
	repos := setupRepos(t)
	now := time.Now()

	createTicket(t, repos, 1, "491765432109", models.TicketClosed, now.Add(-48*time.Hour))
	recent := createTicket(t, repos, 1, "491765432109", models.TicketResolved, now.Add(-2*time.Hour))

	cutoff := now.Add(-24 * time.Hour)

	found, err := repos.Ticket.FindLatestByContact(1, "491765432109", "whatsapp", cutoff)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, recent.ID, found.ID)

	// Outside the session window nothing matches
	found, err = repos.Ticket.FindLatestByContact(1, "491765432109", "whatsapp", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, found)

	// Channel and tenant scope the lookup
	found, err = repos.Ticket.FindLatestByContact(1, "491765432109", "telegram", cutoff)
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = repos.Ticket.FindLatestByContact(2, "491765432109", "whatsapp", cutoff)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestTicketRepository_CountOpenByAgent(t *testing.T) {
	repos := setupRepos(t)
	now := time.Now()
	agentID := uint(7)

	for i, status := range []models.TicketStatus{
		models.TicketOpen,
		models.TicketInProgress,
		models.TicketWaitingOnCustomer,
		models.TicketResolved,
		models.TicketClosed,
	} {
		ticket := createTicket(t, repos, 1, "contact", status, now.Add(time.Duration(i)*time.Second))
		ticket.AgentID = &agentID
		require.NoError(t, repos.Ticket.Update(ticket))
	}

	count, err := repos.Ticket.CountOpenByAgent(1, agentID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = repos.Ticket.CountOpenByAgent(2, agentID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTicketRepository_ListOverdue(t *testing.T) {
	repos := setupRepos(t)
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	overdue := createTicket(t, repos, 1, "c1", models.TicketOpen, now)
	overdue.SLADeadline = &past
	require.NoError(t, repos.Ticket.Update(overdue))

	flagged := createTicket(t, repos, 1, "c2", models.TicketOpen, now)
	flagged.SLADeadline = &past
	flagged.BreachNotified = true
	require.NoError(t, repos.Ticket.Update(flagged))

	healthy := createTicket(t, repos, 1, "c3", models.TicketOpen, now)
	healthy.SLADeadline = &future
	require.NoError(t, repos.Ticket.Update(healthy))

	createTicket(t, repos, 1, "c4", models.TicketOpen, now) // no deadline

	tickets, err := repos.Ticket.ListOverdue(now, 100)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, overdue.ID, tickets[0].ID)
}

func TestTicketRepository_OldestUnassignedInQueue(t *testing.T) {
	repos := setupRepos(t)
	now := time.Now()

	first := createTicket(t, repos, 1, "c1", models.TicketOpen, now)
	time.Sleep(2 * time.Millisecond)
	createTicket(t, repos, 1, "c2", models.TicketOpen, now)

	agentID := uint(7)
	assigned := createTicket(t, repos, 1, "c3", models.TicketOpen, now)
	assigned.AgentID = &agentID
	require.NoError(t, repos.Ticket.Update(assigned))

	ticket, err := repos.Ticket.OldestUnassignedInQueue(1, 1)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, first.ID, ticket.ID)

	ticket, err = repos.Ticket.OldestUnassignedInQueue(1, 99)
	require.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestAssignmentRepository_LastAssignedAt(t *testing.T) {
	repos := setupRepos(t)
	now := time.Now()
	a1, a2 := uint(1), uint(2)

	entries := []models.AssignmentLogEntry{
		{TenantID: 1, TicketID: 1, QueueID: 1, AgentID: &a1, Strategy: "ROUND_ROBIN", CreatedAt: now.Add(-3 * time.Minute)},
		{TenantID: 1, TicketID: 2, QueueID: 1, AgentID: &a1, Strategy: "ROUND_ROBIN", CreatedAt: now.Add(-1 * time.Minute)},
		{TenantID: 1, TicketID: 3, QueueID: 1, AgentID: &a2, Strategy: "ROUND_ROBIN", CreatedAt: now.Add(-2 * time.Minute)},
		// failed resolution, no agent
		{TenantID: 1, TicketID: 4, QueueID: 1, Strategy: "ROUND_ROBIN", CreatedAt: now},
		// other queue
		{TenantID: 1, TicketID: 5, QueueID: 2, AgentID: &a2, Strategy: "ROUND_ROBIN", CreatedAt: now},
	}
	for i := range entries {
		require.NoError(t, repos.Assignment.Append(&entries[i]))
	}

	lastAt, err := repos.Assignment.LastAssignedAt(1, 1)
	require.NoError(t, err)
	require.Len(t, lastAt, 2)
	assert.WithinDuration(t, now.Add(-1*time.Minute), lastAt[a1], time.Second)
	assert.WithinDuration(t, now.Add(-2*time.Minute), lastAt[a2], time.Second)
}

func TestMessageRepository_UpdateDeliveryStatus(t *testing.T) {
	repos := setupRepos(t)

	message := &models.Message{
		TenantID:       1,
		TicketID:       1,
		Direction:      models.DirectionOutbound,
		Body:           "we are on it",
		ExternalID:     "wamid.out42",
		DeliveryStatus: models.DeliverySent,
	}
	require.NoError(t, repos.Message.Create(message))

	require.NoError(t, repos.Message.UpdateDeliveryStatus(1, "wamid.out42", models.DeliveryRead, ""))

	reloaded, err := repos.Message.GetByID(1, message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryRead, reloaded.DeliveryStatus)
}

func TestQueueRepository_ActiveMemberships(t *testing.T) {
	repos := setupRepos(t)

	active := &models.Agent{TenantID: 1, Name: "active", Active: true}
	require.NoError(t, repos.Agent.Create(active))
	retired := &models.Agent{TenantID: 1, Name: "retired", Active: false}
	require.NoError(t, repos.Agent.Create(retired))

	queue := &models.Queue{TenantID: 1, Name: "support", Strategy: models.StrategyRoundRobin, DefaultCapacity: 5, Active: true}
	require.NoError(t, repos.Queue.Create(queue))

	for _, agent := range []*models.Agent{active, retired} {
		require.NoError(t, repos.Queue.AddMembership(&models.QueueMembership{
			TenantID: 1, QueueID: queue.ID, AgentID: agent.ID, Priority: 5, Active: true,
		}))
	}

	memberships, err := repos.Queue.ActiveMemberships(1, queue.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, active.ID, memberships[0].AgentID)
	assert.Equal(t, "active", memberships[0].Agent.Name)
}
