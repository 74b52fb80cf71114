package cli

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	qstashx "github.com/MLAN1O/atlas/pkg/qstash"
)

// qstashNotifier forwards write events to a webhook through QStash.
type qstashNotifier struct {
	client      *qstashx.Client
	destination string
}

var _ contractx.WriteNotifier = (*qstashNotifier)(nil)

func newQStashNotifier(client *qstashx.Client, destination string) *qstashNotifier {
	return &qstashNotifier{client: client, destination: destination}
}

func (n *qstashNotifier) NotifyWrite(ctx context.Context, ev contractx.WriteEvent) error {
	id, err := n.client.PublishJSON(ctx, n.destination, ev)
	if err != nil {
		return err
	}
	log.Debug().
		Str("thread_id", ev.ThreadID).
		Str("capability", ev.Capability).
		Str("message_id", id).
		Msg("write event published")
	return nil
}
