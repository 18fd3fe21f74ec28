package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_TextMessage(t *testing.T) {
	raw := []byte(`{
		"type": "message",
		"id": "wamid.HBgNNDkxNzY1NDMyMTA5",
		"from": "491765432109",
		"profile_name": "Jordan",
		"timestamp": 1756500000,
		"text": {"body": "Hello, my order never arrived"}
	}`)

	event, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, EventText, event.Type)
	assert.Equal(t, "wamid.HBgNNDkxNzY1NDMyMTA5", event.ProviderMessageID)
	assert.Equal(t, "491765432109", event.ContactID)
	assert.Equal(t, "Jordan", event.ContactName)
	assert.Equal(t, "Hello, my order never arrived", event.Text)
	assert.Equal(t, time.Unix(1756500000, 0), event.Timestamp)
	assert.True(t, event.IsCustomerMessage())
}

func TestNormalize_MediaMessage(t *testing.T) {
	raw := []byte(`{
		"type": "message",
		"id": "wamid.media01",
		"from": "491765432109",
		"media": {"url": "https://cdn.example.com/img.jpg", "mime_type": "image/jpeg", "caption": "receipt"}
	}`)

	event, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, EventMedia, event.Type)
	assert.Equal(t, "https://cdn.example.com/img.jpg", event.MediaURL)
	assert.Equal(t, "image/jpeg", event.MediaType)
	assert.Equal(t, "receipt", event.Text)
	assert.True(t, event.IsCustomerMessage())
}

func TestNormalize_StatusUpdate(t *testing.T) {
	raw := []byte(`{
		"type": "status",
		"id": "wamid.out42",
		"status": "delivered"
	}`)

	event, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, EventStatus, event.Type)
	assert.Equal(t, "wamid.out42", event.ProviderMessageID)
	assert.Equal(t, "delivered", event.Status)
	assert.False(t, event.IsCustomerMessage())
}

func TestNormalize_MissingTimestampDefaultsToNow(t *testing.T) {
	raw := []byte(`{"type": "message", "from": "491765432109", "text": {"body": "hi"}}`)

	event, err := Normalize(raw)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"Malformed JSON", `{"type": "message"`},
		{"Unknown type", `{"type": "reaction", "from": "491765432109"}`},
		{"Missing type", `{"from": "491765432109", "text": {"body": "hi"}}`},
		{"Message without sender", `{"type": "message", "text": {"body": "hi"}}`},
		{"Message without content", `{"type": "message", "from": "491765432109"}`},
		{"Text without body", `{"type": "message", "from": "491765432109", "text": {}}`},
		{"Media without url", `{"type": "message", "from": "491765432109", "media": {"mime_type": "image/png"}}`},
		{"Media with invalid url", `{"type": "message", "from": "491765432109", "media": {"url": "not a url"}}`},
		{"Status without id", `{"type": "status", "status": "read"}`},
		{"Status without status", `{"type": "status", "id": "wamid.x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsupportedPayload)
		})
	}
}
