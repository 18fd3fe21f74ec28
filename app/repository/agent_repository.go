package repository

import (
	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/models"
)

// agentRepository implements the AgentRepository interface
type agentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates a new agent repository instance
func NewAgentRepository(db *gorm.DB) AgentRepository {
	return &agentRepository{db: db}
}

func (r *agentRepository) Create(agent *models.Agent) error {
	return r.db.Create(agent).Error
}

func (r *agentRepository) GetByID(tenantID, id uint) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *agentRepository) Update(agent *models.Agent) error {
	return r.db.Save(agent).Error
}

func (r *agentRepository) ListByTenant(tenantID uint) ([]models.Agent, error) {
	var agents []models.Agent
	err := r.db.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&agents).Error
	return agents, err
}
