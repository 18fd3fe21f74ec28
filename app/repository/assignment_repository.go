package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/models"
)

// assignmentRepository implements the AssignmentRepository interface
type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository creates a new assignment log repository instance
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) Append(entry *models.AssignmentLogEntry) error {
	return r.db.Create(entry).Error
}

// LastAssignedAt returns, per agent, the timestamp of their most recent
// successful assignment within the queue. Agents never assigned in this
// queue are absent from the map. This is the durable round-robin state;
// it survives restarts and racing workers because the log is append-only.
func (r *assignmentRepository) LastAssignedAt(tenantID, queueID uint) (map[uint]time.Time, error) {
	var entries []models.AssignmentLogEntry
	err := r.db.Where("tenant_id = ? AND queue_id = ? AND agent_id IS NOT NULL", tenantID, queueID).
		Order("created_at DESC, id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	result := make(map[uint]time.Time, len(entries))
	for i := range entries {
		agentID := *entries[i].AgentID
		if _, seen := result[agentID]; !seen {
			result[agentID] = entries[i].CreatedAt
		}
	}
	return result, nil
}

func (r *assignmentRepository) ListByTicket(tenantID, ticketID uint) ([]models.AssignmentLogEntry, error) {
	var entries []models.AssignmentLogEntry
	err := r.db.Where("tenant_id = ? AND ticket_id = ?", tenantID, ticketID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
