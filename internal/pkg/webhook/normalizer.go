package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// EventType enumerates the closed set of canonical event variants. All
// provider wire formats collapse into these before any business logic runs.
type EventType string

const (
	EventText   EventType = "text_message"
	EventMedia  EventType = "media_message"
	EventStatus EventType = "status_update"
)

// ErrUnsupportedPayload is returned for payloads that do not map to a
// known event variant.
var ErrUnsupportedPayload = errors.New("unsupported webhook payload")

// Event is the canonical form of an inbound provider event
type Event struct {
	Type              EventType `json:"type"`
	ProviderMessageID string    `json:"provider_message_id"`
	ContactID         string    `json:"contact_id"`
	ContactName       string    `json:"contact_name,omitempty"`
	Timestamp         time.Time `json:"timestamp"`

	// EventText / EventMedia
	Text      string `json:"text,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`

	// EventStatus
	Status string `json:"status,omitempty"`
}

// wire structs mirror the provider payload shape; they never leave this
// package.
type wirePayload struct {
	Type        string     `json:"type" validate:"required,oneof=message status"`
	ID          string     `json:"id"`
	From        string     `json:"from"`
	ProfileName string     `json:"profile_name"`
	Timestamp   int64      `json:"timestamp"`
	Text        *wireText  `json:"text,omitempty"`
	Media       *wireMedia `json:"media,omitempty"`
	Status      string     `json:"status"`
}

type wireText struct {
	Body string `json:"body" validate:"required"`
}

type wireMedia struct {
	URL      string `json:"url" validate:"required,url"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

var validate = validator.New()

// Normalize parses a raw provider payload into a canonical Event. Unknown
// shapes are rejected with ErrUnsupportedPayload so the ingest job fails
// fast instead of guessing.
func Normalize(raw []byte) (*Event, error) {
	var wire wirePayload
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPayload, err)
	}
	if err := validate.Struct(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPayload, err)
	}

	ts := time.Now()
	if wire.Timestamp > 0 {
		ts = time.Unix(wire.Timestamp, 0)
	}

	switch wire.Type {
	case "status":
		if wire.ID == "" || wire.Status == "" {
			return nil, fmt.Errorf("%w: status update missing id or status", ErrUnsupportedPayload)
		}
		return &Event{
			Type:              EventStatus,
			ProviderMessageID: wire.ID,
			Timestamp:         ts,
			Status:            wire.Status,
		}, nil

	case "message":
		if wire.From == "" {
			return nil, fmt.Errorf("%w: message missing sender", ErrUnsupportedPayload)
		}
		event := &Event{
			ProviderMessageID: wire.ID,
			ContactID:         wire.From,
			ContactName:       wire.ProfileName,
			Timestamp:         ts,
		}
		switch {
		case wire.Media != nil:
			if err := validate.Struct(wire.Media); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnsupportedPayload, err)
			}
			event.Type = EventMedia
			event.MediaURL = wire.Media.URL
			event.MediaType = wire.Media.MimeType
			event.Text = wire.Media.Caption
		case wire.Text != nil:
			event.Type = EventText
			event.Text = wire.Text.Body
		default:
			return nil, fmt.Errorf("%w: message carries neither text nor media", ErrUnsupportedPayload)
		}
		return event, nil
	}

	return nil, fmt.Errorf("%w: unknown type %q", ErrUnsupportedPayload, wire.Type)
}

// IsCustomerMessage reports whether the event represents an inbound
// customer communication (as opposed to a delivery status callback).
func (e *Event) IsCustomerMessage() bool {
	return e.Type == EventText || e.Type == EventMedia
}
