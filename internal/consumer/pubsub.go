// Package consumer adapts Google Pub/Sub subscriptions to the router's
// message-source contract.
package consumer

import (
	"context"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"
)

// Handler processes one raw message. A nil return acks the message; an error
// nacks it for redelivery (or the subscription's dead-letter policy).
type Handler func(ctx context.Context, msgID string, payload []byte) error

// PubsubConsumer pulls messages from one subscription.
type PubsubConsumer struct {
	sub    *pubsub.Subscriber
	logger *slog.Logger
}

func NewPubsub(client *pubsub.Client, subscriptionID string, logger *slog.Logger) *PubsubConsumer {
	return &PubsubConsumer{
		sub:    client.Subscriber(subscriptionID),
		logger: logger.With("component", "PubsubConsumer", "subscription", subscriptionID),
	}
}

// Receive blocks, delivering messages to the handler until the context is
// cancelled. Handler errors nack; everything else acks.
func (c *PubsubConsumer) Receive(ctx context.Context, handle Handler) error {
	return c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handle(ctx, msg.ID, msg.Data); err != nil {
			c.logger.Warn("Message handling failed; nacking", "msg_id", msg.ID, "err", err)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}
