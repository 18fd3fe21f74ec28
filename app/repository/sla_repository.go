package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/models"
)

// slaRepository implements the SLARepository interface
type slaRepository struct {
	db *gorm.DB
}

// NewSLARepository creates a new SLA policy repository instance
func NewSLARepository(db *gorm.DB) SLARepository {
	return &slaRepository{db: db}
}

func (r *slaRepository) Create(policy *models.SLAPolicy) error {
	return r.db.Create(policy).Error
}

// GetPolicy resolves the response budget for (tenant, priority, channel).
// Returns nil when no policy is configured; tickets without a policy carry
// no deadline.
func (r *slaRepository) GetPolicy(tenantID uint, priority models.TicketPriority, channel string) (*models.SLAPolicy, error) {
	var policy models.SLAPolicy
	err := r.db.Where("tenant_id = ? AND priority = ? AND channel = ?", tenantID, priority, channel).
		First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &policy, nil
}
