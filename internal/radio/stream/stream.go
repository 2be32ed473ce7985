// Package stream drives a Meshtastic radio over its TCP stream API.
//
// Connect dials the radio, asks for its configuration with a random
// want_config nonce, and collects node info, channels, LoRa and MQTT module
// settings until the radio echoes the nonce. Listen then hands packets to
// the session on a single reader goroutine.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/channels"
	"github.com/alfredjeanlab/meshbridge/internal/meshpb"
	"github.com/alfredjeanlab/meshbridge/internal/radio"
)

// DefaultPort is the radio's stream API port.
const DefaultPort = "4403"

const (
	defaultHandshakeTimeout = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	disconnectTimeout       = time.Second
	dedupeWindow            = 256
)

var (
	// ErrHandshake is returned when the radio does not complete the config
	// exchange.
	ErrHandshake = errors.New("stream: handshake failed")
	// ErrRebooted is reported through OnConnectionLost when the radio
	// announces a reboot.
	ErrRebooted = errors.New("stream: radio rebooted")
	errClosed   = errors.New("stream: link closed")
)

// Driver dials radios over TCP. The zero value is usable.
type Driver struct {
	// HandshakeTimeout bounds the config exchange when ctx has no deadline.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each heartbeat write.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Connect dials address, adding DefaultPort when it has none, and runs the
// config handshake.
func (d *Driver) Connect(ctx context.Context, address string) (radio.Link, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := withDefaultPort(address)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", addr, err)
	}

	l := newLink(conn, d.writeTimeout(), logger.With("radio", addr))
	if err := l.handshake(ctx, d.handshakeTimeout()); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

func (d *Driver) handshakeTimeout() time.Duration {
	if d.HandshakeTimeout > 0 {
		return d.HandshakeTimeout
	}
	return defaultHandshakeTimeout
}

func (d *Driver) writeTimeout() time.Duration {
	if d.WriteTimeout > 0 {
		return d.WriteTimeout
	}
	return defaultWriteTimeout
}

func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, DefaultPort)
}

type packetKey struct {
	from, id uint32
}

// link is an open stream connection.
type link struct {
	conn         net.Conn
	frames       *FrameReader
	writeTimeout time.Duration
	logger       *slog.Logger

	nodeNum uint32
	config  radio.LocalConfig

	writeMu sync.Mutex

	listenOnce sync.Once
	closeOnce  sync.Once
	mu         sync.Mutex
	closed     bool

	// Recently delivered packets. The radio may hand over the same packet
	// both directly and as a proxied uplink.
	seen    map[packetKey]struct{}
	seenLog []packetKey
}

func newLink(conn net.Conn, writeTimeout time.Duration, logger *slog.Logger) *link {
	return &link{
		conn:         conn,
		frames:       NewFrameReader(conn),
		writeTimeout: writeTimeout,
		logger:       logger,
		seen:         make(map[packetKey]struct{}, dedupeWindow),
	}
}

func (l *link) handshake(ctx context.Context, timeout time.Duration) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}
	_ = l.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetDeadline(time.Now())
	})
	defer func() {
		stop()
		_ = l.conn.SetDeadline(time.Time{})
	}()

	nonce := rand.Uint32N(1<<31-1) + 1
	req := meshpb.ToRadio{WantConfigID: nonce}
	if err := WriteFrame(l.conn, req.Marshal()); err != nil {
		return fmt.Errorf("%w: send want_config: %w", ErrHandshake, err)
	}

	var haveNode bool
	for {
		payload, err := l.frames.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%w: %w", ErrHandshake, ctxErr)
			}
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		var msg meshpb.FromRadio
		if err := msg.Unmarshal(payload); err != nil {
			l.logger.Debug("stream: undecodable frame during handshake", "err", err)
			continue
		}

		switch {
		case msg.MyNodeNum != nil:
			l.nodeNum = *msg.MyNodeNum
			haveNode = true
		case msg.Channel != nil:
			c := msg.Channel
			l.config.Channels = append(l.config.Channels, channels.RawChannel{
				Index:         uint32(c.Index),
				Role:          c.Role,
				Name:          c.Settings.Name,
				Key:           c.Settings.PSK,
				UplinkEnabled: c.Settings.UplinkEnabled,
			})
		case msg.LoRa != nil:
			l.config.ModemPreset = msg.LoRa.ModemPreset
		case msg.MQTT != nil:
			m := msg.MQTT
			l.config.MQTT = radio.MQTTSettings{
				Enabled:           m.Enabled,
				ProxyToClient:     m.ProxyToClientEnabled,
				EncryptionEnabled: m.EncryptionEnabled,
				Address:           m.Address,
				Username:          m.Username,
				Password:          m.Password,
				Root:              m.Root,
			}
		case msg.Packet != nil, msg.MQTTProxy != nil:
			l.logger.Debug("stream: packet before config complete dropped")
		case msg.ConfigCompleteID != 0:
			if msg.ConfigCompleteID != nonce {
				l.logger.Debug("stream: stale config_complete", "got", msg.ConfigCompleteID, "want", nonce)
				continue
			}
			if !haveNode {
				return fmt.Errorf("%w: radio sent no node info", ErrHandshake)
			}
			l.logger.Debug("stream: config complete",
				"node", radio.GatewayID(l.nodeNum),
				"channels", len(l.config.Channels),
			)
			return nil
		}
	}
}

func (l *link) Identity() uint32               { return l.nodeNum }
func (l *link) LocalConfig() radio.LocalConfig { return l.config }

// Listen starts the reader goroutine. The first event is OnConnected; the
// last, unless Close was called, is OnConnectionLost.
func (l *link) Listen(h radio.Handlers) error {
	started := false
	l.listenOnce.Do(func() {
		started = true
		go l.readLoop(h)
	})
	if !started {
		return errors.New("stream: already listening")
	}
	return nil
}

func (l *link) readLoop(h radio.Handlers) {
	if h.OnConnected != nil {
		h.OnConnected(time.Now())
	}
	for {
		payload, err := l.frames.Next()
		if err != nil {
			l.lost(h, err)
			return
		}
		var msg meshpb.FromRadio
		if err := msg.Unmarshal(payload); err != nil {
			l.logger.Debug("stream: undecodable frame", "err", err)
			continue
		}

		switch {
		case msg.Rebooted:
			l.lost(h, ErrRebooted)
			return
		case msg.Packet != nil:
			l.deliver(h, radio.PacketEvent{Packet: msg.Packet})
		case msg.MQTTProxy != nil:
			var env meshpb.ServiceEnvelope
			if err := env.Unmarshal(msg.MQTTProxy.Data); err != nil || env.Packet == nil {
				l.logger.Debug("stream: proxied uplink without packet", "topic", msg.MQTTProxy.Topic)
				continue
			}
			l.deliver(h, radio.PacketEvent{
				Packet:      env.Packet,
				ChannelHint: env.ChannelID,
				Topic:       msg.MQTTProxy.Topic,
				Envelope:    msg.MQTTProxy.Data,
			})
		}
	}
}

func (l *link) deliver(h radio.Handlers, ev radio.PacketEvent) {
	key := packetKey{from: ev.Packet.From, id: ev.Packet.ID}
	if ev.Packet.ID != 0 {
		if _, dup := l.seen[key]; dup {
			return
		}
		if len(l.seenLog) == dedupeWindow {
			delete(l.seen, l.seenLog[0])
			l.seenLog = l.seenLog[1:]
		}
		l.seen[key] = struct{}{}
		l.seenLog = append(l.seenLog, key)
	}
	if h.OnPacket != nil {
		h.OnPacket(ev)
	}
}

func (l *link) lost(h radio.Handlers, err error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	if h.OnConnectionLost != nil {
		h.OnConnectionLost(err)
	}
}

// SendHeartbeat writes a heartbeat frame. A radio that has gone away fails
// the write once the socket notices.
func (l *link) SendHeartbeat(ctx context.Context) error {
	msg := meshpb.ToRadio{Heartbeat: true}
	return l.write(ctx, msg.Marshal(), l.writeTimeout)
}

func (l *link) write(ctx context.Context, payload []byte, timeout time.Duration) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return errClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetWriteDeadline(deadline)
	defer func() { _ = l.conn.SetWriteDeadline(time.Time{}) }()

	if err := WriteFrame(l.conn, payload); err != nil {
		return fmt.Errorf("stream: write: %w", err)
	}
	return nil
}

// Close tells the radio the client is leaving and closes the socket.
func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		bye := meshpb.ToRadio{Disconnect: true}
		if werr := l.write(context.Background(), bye.Marshal(), disconnectTimeout); werr != nil {
			l.logger.Debug("stream: disconnect not sent", "err", werr)
		}

		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		err = l.conn.Close()
	})
	return err
}
