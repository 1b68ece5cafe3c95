package bulletin

import (
	"context"

	"github.com/tfelbr/FMBP/pkg/fm"
)

// Notifier publishes every configuration leaving the pipeline as a
// Reconfiguration.
type Notifier struct {
	client *Client
	model  string
}

// NewNotifier publishes configurations for the given model through client.
func NewNotifier(client *Client, model string) *Notifier {
	return &Notifier{client: client, model: model}
}

func (n *Notifier) Notify(ctx context.Context, cfg fm.Configuration) error {
	return n.client.PublishReconfiguration(ctx, NewReconfiguration(n.model, cfg))
}
