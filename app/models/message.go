package models

import (
	"time"
)

// MessageDirection tells who produced a message
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
	DirectionSystem   MessageDirection = "system"
)

// DeliveryStatus tracks the provider-side fate of a message
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Message is one communication unit belonging to exactly one ticket.
// Immutable once persisted except for delivery-status updates driven by
// provider status callbacks.
type Message struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	TenantID       uint             `gorm:"index;not null" json:"tenant_id"`
	TicketID       uint             `gorm:"index;not null" json:"ticket_id"`
	Direction      MessageDirection `gorm:"type:varchar(10);not null" json:"direction"`
	Body           string           `gorm:"type:text" json:"body"`
	MediaURL       string           `gorm:"type:varchar(512)" json:"media_url,omitempty"`
	MediaType      string           `gorm:"type:varchar(50)" json:"media_type,omitempty"`
	ExternalID     string           `gorm:"type:varchar(191);index:idx_messages_tenant_external" json:"external_id"`
	DeliveryStatus DeliveryStatus   `gorm:"type:varchar(12);not null;default:'pending'" json:"delivery_status"`
	ErrorMsg       string           `gorm:"type:text" json:"error_msg,omitempty"`
	CreatedAt      time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}
