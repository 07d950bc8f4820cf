package sink

import (
	"errors"

	"github.com/cwsf/cwsf/internal/config"
)

// ErrWebhookNotImplemented is returned by every WebhookSink.Write call.
var ErrWebhookNotImplemented = errors.New("webhook sink is not implemented")

// WebhookSink is a registered placeholder for a future push-based output
// destination. It exists so operators can name "webhook" as a format in
// site configuration and get a clear error rather than an unsupported-format
// rejection, per the extensibility point this registry is designed around.
type WebhookSink struct{}

func NewWebhookSink(cfg *config.Config) (Sink, error) {
	return &WebhookSink{}, nil
}

func (s *WebhookSink) Write(records []map[string]interface{}) error {
	return ErrWebhookNotImplemented
}

func (s *WebhookSink) Close() error {
	return nil
}
