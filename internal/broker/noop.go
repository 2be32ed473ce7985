package broker

import (
	"context"
	"log/slog"
)

// NoopPublisher is a Publisher for dry runs: it logs what it would have
// published and sends nothing.
type NoopPublisher struct {
	Logger *slog.Logger
}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("broker: dry run, not published", "topic", topic, "bytes", len(payload))
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
