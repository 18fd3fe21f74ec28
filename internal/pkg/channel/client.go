package channel

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
)

// ErrSendFailed wraps provider-side delivery failures so the outbound
// consumer can distinguish them from local errors.
var ErrSendFailed = errors.New("provider send failed")

// Media describes an optional attachment on an outbound message
type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// Result is the provider's answer to a send attempt
type Result struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Client sends messages over the external communication channel. The wire
// implementation lives outside this repo; the outbound queue consumer only
// depends on this interface.
type Client interface {
	Send(ctx context.Context, tenantID tenantctx.TenantID, recipient, body string, media *Media) (Result, error)
}

// LogClient is a development stand-in that logs instead of sending
type LogClient struct{}

func (LogClient) Send(_ context.Context, tenantID tenantctx.TenantID, recipient, body string, media *Media) (Result, error) {
	if media != nil {
		log.Infof("[Channel] (dev) tenant %d -> %s: %q media=%s", tenantID, recipient, body, media.URL)
	} else {
		log.Infof("[Channel] (dev) tenant %d -> %s: %q", tenantID, recipient, body)
	}
	return Result{Success: true, ProviderMessageID: "dev-" + recipient}, nil
}
