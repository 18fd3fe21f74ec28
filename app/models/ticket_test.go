package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketStatusConstants(t *testing.T) {
	assert.Equal(t, "OPEN", string(TicketOpen))
	assert.Equal(t, "IN_PROGRESS", string(TicketInProgress))
	assert.Equal(t, "WAITING_ON_CUSTOMER", string(TicketWaitingOnCustomer))
	assert.Equal(t, "RESOLVED", string(TicketResolved))
	assert.Equal(t, "CLOSED", string(TicketClosed))
	assert.Equal(t, "REOPENED", string(TicketReopened))
}

func TestTicket_CanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TicketStatus
		to      TicketStatus
		allowed bool
	}{
		{"Open to in progress", TicketOpen, TicketInProgress, true},
		{"Open to resolved skips work", TicketOpen, TicketResolved, false},
		{"Open to closed", TicketOpen, TicketClosed, false},
		{"In progress back to open", TicketInProgress, TicketOpen, true},
		{"In progress to waiting", TicketInProgress, TicketWaitingOnCustomer, true},
		{"In progress to resolved", TicketInProgress, TicketResolved, true},
		{"In progress to closed", TicketInProgress, TicketClosed, false},
		{"Waiting to in progress", TicketWaitingOnCustomer, TicketInProgress, true},
		{"Waiting to resolved", TicketWaitingOnCustomer, TicketResolved, true},
		{"Waiting back to open", TicketWaitingOnCustomer, TicketOpen, false},
		{"Resolved to closed", TicketResolved, TicketClosed, true},
		{"Resolved to reopened", TicketResolved, TicketReopened, true},
		{"Resolved back to in progress", TicketResolved, TicketInProgress, false},
		{"Closed to reopened", TicketClosed, TicketReopened, true},
		{"Closed to open directly", TicketClosed, TicketOpen, false},
		{"Reopened to open", TicketReopened, TicketOpen, true},
		{"Reopened to in progress", TicketReopened, TicketInProgress, false},
		{"Self transition", TicketOpen, TicketOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket := &Ticket{Status: tt.from}
			assert.Equal(t, tt.allowed, ticket.CanTransition(tt.to))
		})
	}
}

func TestTicket_TransitionTo_InvalidLeavesStateUntouched(t *testing.T) {
	ticket := &Ticket{Status: TicketOpen}

	err := ticket.TransitionTo(TicketClosed)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, TicketOpen, ticket.Status)
	assert.Nil(t, ticket.ClosedAt)
}

func TestTicket_TransitionTo_ClosingStampsClosedAt(t *testing.T) {
	ticket := &Ticket{Status: TicketResolved}

	err := ticket.TransitionTo(TicketClosed)

	require.NoError(t, err)
	assert.Equal(t, TicketClosed, ticket.Status)
	require.NotNil(t, ticket.ClosedAt)
	assert.WithinDuration(t, time.Now(), *ticket.ClosedAt, time.Second)
	assert.WithinDuration(t, time.Now(), ticket.LastActivityAt, time.Second)
}

func TestTicket_Reopen(t *testing.T) {
	tests := []struct {
		name string
		from TicketStatus
		ok   bool
	}{
		{"Closed ticket reopens", TicketClosed, true},
		{"Resolved ticket reopens", TicketResolved, true},
		{"Open ticket cannot reopen", TicketOpen, false},
		{"In progress cannot reopen", TicketInProgress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			ticket := &Ticket{Status: tt.from, ClosedAt: &now, BreachNotified: true}

			err := ticket.Reopen()
			if !tt.ok {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, ticket.Status)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, TicketOpen, ticket.Status)
			assert.Nil(t, ticket.ClosedAt)
			assert.False(t, ticket.BreachNotified)
		})
	}
}

func TestTicket_IsOpen(t *testing.T) {
	open := []TicketStatus{TicketOpen, TicketInProgress, TicketWaitingOnCustomer}
	for _, status := range open {
		assert.True(t, (&Ticket{Status: status}).IsOpen(), string(status))
	}
	closed := []TicketStatus{TicketResolved, TicketClosed, TicketReopened}
	for _, status := range closed {
		assert.False(t, (&Ticket{Status: status}).IsOpen(), string(status))
	}
	assert.ElementsMatch(t, open, OpenStatuses())
}
