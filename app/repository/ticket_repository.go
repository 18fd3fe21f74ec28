package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/models"
)

// ticketRepository implements the TicketRepository interface
type ticketRepository struct {
	db *gorm.DB
}

// NewTicketRepository creates a new ticket repository instance
func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ticket *models.Ticket) error {
	return r.db.Create(ticket).Error
}

func (r *ticketRepository) GetByID(tenantID, id uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&ticket).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) GetByPublicID(tenantID uint, publicID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.db.Where("tenant_id = ? AND public_id = ?", tenantID, publicID).First(&ticket).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) Update(ticket *models.Ticket) error {
	return r.db.Save(ticket).Error
}

// FindLatestByContact returns the contact's most recent ticket on the
// channel with activity inside the session window, regardless of status.
// The caller decides whether to attach, reopen or start a fresh ticket.
func (r *ticketRepository) FindLatestByContact(tenantID uint, contactID, channel string, cutoff time.Time) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.db.Where("tenant_id = ? AND contact_id = ? AND channel = ? AND last_activity_at >= ?",
		tenantID, contactID, channel, cutoff).
		Order("last_activity_at DESC").
		First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) OldestUnassignedInQueue(tenantID, queueID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.db.Where("tenant_id = ? AND queue_id = ? AND agent_id IS NULL AND status = ?",
		tenantID, queueID, models.TicketOpen).
		Order("created_at ASC").
		First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListUnassigned(limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.db.Where("agent_id IS NULL AND status = ?", models.TicketOpen).
		Order("created_at ASC").
		Limit(limit).
		Find(&tickets).Error
	return tickets, err
}

func (r *ticketRepository) ListOverdue(now time.Time, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.db.Where("sla_deadline IS NOT NULL AND sla_deadline < ? AND breach_notified = ? AND status IN ?",
		now, false, models.OpenStatuses()).
		Order("sla_deadline ASC").
		Limit(limit).
		Find(&tickets).Error
	return tickets, err
}

// CountOpenByAgent is the live agent-load query. Load is never cached on
// the agent row to avoid drift under concurrent assignment and release.
func (r *ticketRepository) CountOpenByAgent(tenantID, agentID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Ticket{}).
		Where("tenant_id = ? AND agent_id = ? AND status IN ?", tenantID, agentID, models.OpenStatuses()).
		Count(&count).Error
	return count, err
}

func (r *ticketRepository) List(tenantID uint, status models.TicketStatus, offset, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	q := r.db.Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("last_activity_at DESC").Offset(offset).Limit(limit).Find(&tickets).Error
	return tickets, err
}
