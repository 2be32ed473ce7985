// Package broker republishes mesh traffic onto NATS.
package broker

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrConnect is returned when the broker cannot be reached at startup.
	ErrConnect = errors.New("broker connect failed")
	// ErrPublish wraps a publish the broker client refused.
	ErrPublish = errors.New("broker publish failed")
)

// Publisher is the interface for emitting raw payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Envelope is one accepted packet ready for the broker. Payload is the
// serialized ServiceEnvelope.
type Envelope struct {
	ChannelID string
	GatewayID string
	Payload   []byte
}

// Topic builds the publish topic {base}/{channelID}/{gatewayID}.
func Topic(base, channelID, gatewayID string) string {
	return strings.TrimRight(base, "/") + "/" + channelID + "/" + gatewayID
}
