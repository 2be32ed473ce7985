package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/channels"
	"github.com/alfredjeanlab/meshbridge/internal/watchdog"
)

// Handler consumes the events of one session.
type Handler interface {
	HandlePacket(ev PacketEvent)
	HandleConnected(at time.Time)
}

// Options configures Establish.
type Options struct {
	// ConnectDelay is waited out before dialing, giving a radio that still
	// holds a stale client time to drop it.
	ConnectDelay      time.Duration
	HeartbeatInterval time.Duration
	// DefaultKey replaces the primary channel's 0x01 key. Nil means
	// channels.DefaultPSK.
	DefaultKey []byte

	// Handler builds the event handler once identity and channels are known
	// and before any event is delivered. An error aborts Establish and is
	// returned as is.
	Handler func(s *Session) (Handler, error)
	// OnLinkFailure is called once when the watchdog declares the link dead.
	OnLinkFailure func(err error)
	// OnConnectionLost is called for every connection-lost event.
	OnConnectionLost func(err error)

	Logger *slog.Logger
}

// Session is an established radio session.
type Session struct {
	link      Link
	nodeNum   uint32
	gatewayID string
	config    LocalConfig
	resolver  *channels.Resolver
	watchdog  *watchdog.Watchdog
	handler   Handler
	opts      Options
	logger    *slog.Logger

	connected atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Establish dials the radio, reads its identity and channel table, and
// registers for link events. Errors wrap ErrConnection.
func Establish(ctx context.Context, driver Driver, address string, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.ConnectDelay > 0 {
		logger.Info("radio: waiting before connecting", "delay", opts.ConnectDelay)
		timer := time.NewTimer(opts.ConnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrConnection, ctx.Err())
		case <-timer.C:
		}
	}

	logger.Info("radio: connecting", "address", address)
	link, err := driver.Connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, address, err)
	}

	s := &Session{
		link:    link,
		nodeNum: link.Identity(),
		config:  link.LocalConfig(),
		opts:    opts,
		logger:  logger,
	}
	s.gatewayID = GatewayID(s.nodeNum)
	s.resolver = channels.New(s.config.Channels, channels.Options{
		Preset:     s.config.ModemPreset,
		DefaultKey: opts.DefaultKey,
		Logger:     logger,
	})
	s.watchdog = watchdog.New(link, opts.HeartbeatInterval, opts.OnLinkFailure, logger)

	for _, ch := range s.resolver.Channels() {
		logger.Info("radio: channel",
			"index", ch.Index,
			"name", ch.Name,
			"role", ch.Role.String(),
			"uplink", ch.UplinkEnabled,
		)
	}
	logger.Info("radio: session established",
		"gateway", s.gatewayID,
		"preset", s.config.ModemPreset.String(),
		"mqtt_enabled", s.config.MQTT.Enabled,
		"mqtt_proxy", s.config.MQTT.ProxyToClient,
	)

	if opts.Handler != nil {
		h, err := opts.Handler(s)
		if err != nil {
			_ = link.Close()
			return nil, err
		}
		s.handler = h
	}

	if err := link.Listen(Handlers{
		OnPacket:         s.onPacket,
		OnConnected:      s.onConnected,
		OnConnectionLost: s.onConnectionLost,
	}); err != nil {
		_ = link.Close()
		return nil, fmt.Errorf("%w: listening: %w", ErrConnection, err)
	}
	return s, nil
}

func (s *Session) onConnected(at time.Time) {
	if s.closed.Load() {
		return
	}
	if !s.connected.Swap(true) {
		s.logger.Info("radio: connected", "gateway", s.gatewayID)
	}
	// The watchdog is only started here: heartbeating a link that is not
	// ready yet fails spuriously.
	s.watchdog.Start()
	if s.handler != nil {
		s.handler.HandleConnected(at)
	}
}

func (s *Session) onPacket(ev PacketEvent) {
	if s.closed.Load() {
		return
	}
	if ev.Packet == nil {
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	if s.handler != nil {
		s.handler.HandlePacket(ev)
	}
}

// onConnectionLost only logs: the notification is unreliable, and the
// watchdog is what ends a session.
func (s *Session) onConnectionLost(err error) {
	if s.closed.Load() {
		return
	}
	s.logger.Warn("radio: connection lost reported", "gateway", s.gatewayID, "err", err)
	if s.opts.OnConnectionLost != nil {
		s.opts.OnConnectionLost(err)
	}
}

// GatewayID returns the radio's node id, e.g. "!a1b2c3d4".
func (s *Session) GatewayID() string { return s.gatewayID }

// NodeNum returns the radio's node number.
func (s *Session) NodeNum() uint32 { return s.nodeNum }

// Resolver returns the session's channel resolver.
func (s *Session) Resolver() *channels.Resolver { return s.resolver }

// LocalConfig returns the configuration read at Establish.
func (s *Session) LocalConfig() LocalConfig { return s.config }

// Watchdog returns the session's liveness watchdog.
func (s *Session) Watchdog() *watchdog.Watchdog { return s.watchdog }

// Connected reports whether a connection-established event has been seen.
func (s *Session) Connected() bool { return s.connected.Load() }

// Close stops the watchdog and releases the link. Events arriving after
// Close are ignored. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.watchdog.Stop()
		s.closeErr = s.link.Close()
		s.logger.Info("radio: session closed", "gateway", s.gatewayID)
	})
	return s.closeErr
}
