package diagnostics

import (
	"context"
	"encoding/base64"

	"github.com/use-agent/regscout/webhook"
)

// EventCaptured is the webhook event type for a new artifact.
const EventCaptured = "diagnostic.captured"

// WebhookSink forwards artifacts to an external storage endpoint. Delivery
// is asynchronous; Put never blocks on the network.
type WebhookSink struct {
	Sender *webhook.Sender
}

type webhookPayload struct {
	*Artifact
	PNGBase64 string `json:"png_base64,omitempty"`
}

// Put implements Sink.
func (w *WebhookSink) Put(_ context.Context, a *Artifact) (string, error) {
	payload := webhookPayload{Artifact: &Artifact{}}
	*payload.Artifact = *a
	payload.PNG = nil
	if len(a.PNG) > 0 {
		payload.PNGBase64 = base64.StdEncoding.EncodeToString(a.PNG)
	}
	w.Sender.DeliverAsync(&webhook.Event{
		Type:      EventCaptured,
		ID:        a.ID,
		Timestamp: a.CapturedAt.Unix(),
		Data:      payload,
	})
	return a.ID, nil
}
