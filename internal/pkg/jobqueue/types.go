package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeInboundEvent    JobType = "inbound_event"
	JobTypeOutboundMessage JobType = "outbound_message"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// Job represents a queued unit of work. Every payload carries the tenant
// id; the consumer re-establishes tenant context from it before running
// any business logic.
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// InboundEventPayload carries one normalized provider event through the
// inbound queue. The raw event is already past the idempotency gate when
// it gets here.
type InboundEventPayload struct {
	TenantID   uint            `json:"tenant_id"`
	Channel    string          `json:"channel"`
	Event      json.RawMessage `json:"event"`
	ReceivedAt time.Time       `json:"received_at"`
}

// ToMap converts the payload to a map for storage
func (p InboundEventPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":   p.TenantID,
		"channel":     p.Channel,
		"event":       p.Event,
		"received_at": p.ReceivedAt,
	}
}

// InboundEventPayloadFromMap creates a payload from a map
func InboundEventPayloadFromMap(data map[string]interface{}) (*InboundEventPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload InboundEventPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// OutboundMessagePayload carries one persisted outbound message through
// the outbound queue to the channel client.
type OutboundMessagePayload struct {
	TenantID  uint   `json:"tenant_id"`
	MessageID uint   `json:"message_id"`
	TicketID  uint   `json:"ticket_id"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p OutboundMessagePayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":  p.TenantID,
		"message_id": p.MessageID,
		"ticket_id":  p.TicketID,
		"recipient":  p.Recipient,
		"body":       p.Body,
		"media_url":  p.MediaURL,
		"media_type": p.MediaType,
	}
}

// OutboundMessagePayloadFromMap creates a payload from a map
func OutboundMessagePayloadFromMap(data map[string]interface{}) (*OutboundMessagePayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload OutboundMessagePayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// MarkAsDeadLettered updates the job status after the retry budget is
// exhausted
func (j *Job) MarkAsDeadLettered() {
	j.Status = JobStatusDeadLetter
	j.UpdatedAt = time.Now()
}
