package broker

import (
	"context"
	"log/slog"
)

// BridgePublisher publishes accepted packets under the bridge topic layout.
// Publishing is fire-and-forget: failures are logged and returned but never
// retried.
type BridgePublisher struct {
	pub    Publisher
	base   string
	logger *slog.Logger
}

// NewBridgePublisher returns a publisher rooted at topicBase, e.g.
// "msh/US/2/e".
func NewBridgePublisher(pub Publisher, topicBase string, logger *slog.Logger) *BridgePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgePublisher{pub: pub, base: topicBase, logger: logger}
}

// TopicBase returns the configured topic prefix.
func (b *BridgePublisher) TopicBase() string {
	return b.base
}

// Publish sends env to {topicBase}/{channel}/{gateway}.
func (b *BridgePublisher) Publish(ctx context.Context, env Envelope) error {
	topic := Topic(b.base, env.ChannelID, env.GatewayID)
	if err := b.pub.Publish(ctx, topic, env.Payload); err != nil {
		b.logger.Warn("broker: publish failed", "topic", topic, "err", err)
		return err
	}
	b.logger.Debug("broker: published", "topic", topic, "bytes", len(env.Payload))
	return nil
}
