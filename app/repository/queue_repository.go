package repository

import (
	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/models"
)

// queueRepository implements the QueueRepository interface
type queueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new queue repository instance
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepository{db: db}
}

func (r *queueRepository) Create(queue *models.Queue) error {
	return r.db.Create(queue).Error
}

func (r *queueRepository) GetByID(tenantID, id uint) (*models.Queue, error) {
	var queue models.Queue
	err := r.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&queue).Error
	if err != nil {
		return nil, err
	}
	return &queue, nil
}

func (r *queueRepository) Update(queue *models.Queue) error {
	return r.db.Save(queue).Error
}

func (r *queueRepository) ListByTenant(tenantID uint) ([]models.Queue, error) {
	var queues []models.Queue
	err := r.db.Where("tenant_id = ?", tenantID).Order("name ASC").Find(&queues).Error
	return queues, err
}

// ActiveMemberships returns the queue's active memberships with agents
// preloaded, skipping deactivated agents. Ordered by agent id so strategy
// tie-breaks are deterministic.
func (r *queueRepository) ActiveMemberships(tenantID, queueID uint) ([]models.QueueMembership, error) {
	var memberships []models.QueueMembership
	err := r.db.Preload("Agent").
		Joins("JOIN agents ON agents.id = queue_memberships.agent_id AND agents.active = ?", true).
		Where("queue_memberships.tenant_id = ? AND queue_memberships.queue_id = ? AND queue_memberships.active = ?",
			tenantID, queueID, true).
		Order("queue_memberships.agent_id ASC").
		Find(&memberships).Error
	return memberships, err
}

func (r *queueRepository) AddMembership(membership *models.QueueMembership) error {
	return r.db.Create(membership).Error
}
