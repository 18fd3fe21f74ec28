package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/models"
)

// messageRepository implements the MessageRepository interface
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository instance
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(message *models.Message) error {
	return r.db.Create(message).Error
}

func (r *messageRepository) GetByID(tenantID, id uint) (*models.Message, error) {
	var message models.Message
	err := r.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *messageRepository) GetByExternalID(tenantID uint, externalID string) (*models.Message, error) {
	var message models.Message
	err := r.db.Where("tenant_id = ? AND external_id = ?", tenantID, externalID).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

// UpdateDeliveryStatus correlates a provider status callback with the
// message it refers to via external id.
func (r *messageRepository) UpdateDeliveryStatus(tenantID uint, externalID string, status models.DeliveryStatus, errorMsg string) error {
	updates := map[string]interface{}{"delivery_status": status}
	if errorMsg != "" {
		updates["error_msg"] = errorMsg
	}
	return r.db.Model(&models.Message{}).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		Updates(updates).Error
}

func (r *messageRepository) MarkSent(tenantID, id uint, providerMessageID string) error {
	return r.db.Model(&models.Message{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]interface{}{
			"delivery_status": models.DeliverySent,
			"external_id":     providerMessageID,
		}).Error
}

func (r *messageRepository) MarkFailed(tenantID, id uint, errorMsg string) error {
	return r.db.Model(&models.Message{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]interface{}{
			"delivery_status": models.DeliveryFailed,
			"error_msg":       errorMsg,
		}).Error
}

func (r *messageRepository) ListByTicket(tenantID, ticketID uint, offset, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.Where("tenant_id = ? AND ticket_id = ?", tenantID, ticketID).
		Order("created_at ASC").
		Offset(offset).Limit(limit).
		Find(&messages).Error
	return messages, err
}
