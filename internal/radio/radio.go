// Package radio manages the bridge's session with a local mesh radio.
//
// A Driver dials the radio and returns a Link. The session fetches the
// radio's identity and channel table, resolves channels, and starts the
// liveness watchdog once the link reports it is ready.
package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/channels"
	"github.com/alfredjeanlab/meshbridge/internal/meshpb"
)

// ErrConnection wraps every failure to establish a radio session.
var ErrConnection = errors.New("radio connection failed")

// MQTTSettings mirrors the radio's MQTT module configuration.
type MQTTSettings struct {
	Enabled           bool
	ProxyToClient     bool
	EncryptionEnabled bool
	Address           string
	Username          string
	Password          string
	Root              string
}

// LocalConfig is the subset of the radio's configuration the bridge reads.
type LocalConfig struct {
	ModemPreset meshpb.ModemPreset
	Channels    []channels.RawChannel
	MQTT        MQTTSettings
}

// PacketEvent is one packet delivered by the link.
type PacketEvent struct {
	Packet *meshpb.MeshPacket
	// ChannelHint is the channel name the radio attached when it proxied
	// its own uplink; empty for packets delivered directly.
	ChannelHint string
	// Topic is the radio's own uplink topic, if any.
	Topic string
	// Envelope holds the serialized ServiceEnvelope the radio proxied,
	// byte for byte; nil for packets delivered directly.
	Envelope   []byte
	ReceivedAt time.Time
}

// Handlers receive link events. A link delivers them in order on a single
// goroutine, so a handler must not block for long.
type Handlers struct {
	OnPacket         func(PacketEvent)
	OnConnected      func(at time.Time)
	OnConnectionLost func(err error)
}

// Driver dials a radio.
type Driver interface {
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is an open connection to a radio.
type Link interface {
	// Identity returns the radio's node number.
	Identity() uint32
	LocalConfig() LocalConfig
	// Listen starts event delivery. It is called once.
	Listen(h Handlers) error
	SendHeartbeat(ctx context.Context) error
	Close() error
}

// GatewayID formats a node number the way Meshtastic names nodes.
func GatewayID(nodeNum uint32) string {
	return fmt.Sprintf("!%08x", nodeNum)
}
