package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Config describes the broker connection.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Keepalive time.Duration
	// Name is reported to the server as the client name.
	Name string
}

// URL returns the nats:// URL for the configured host and port.
func (c Config) URL() string {
	return "nats://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Session is a live NATS connection. Reconnects are handled by the client;
// Closed fires only once the connection is permanently gone.
type Session struct {
	conn   *nats.Conn
	logger *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// Connect dials the broker. Extra nats.Option values are appended to the
// defaults, mostly for tests.
func Connect(cfg Config, logger *slog.Logger, opts ...nats.Option) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		logger: logger,
		closed: make(chan struct{}),
	}

	defaults := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ConnectHandler(func(nc *nats.Conn) {
			logger.Info("broker: connected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("broker: disconnected", "err", err)
				return
			}
			logger.Info("broker: disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("broker: reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("broker: connection closed")
			s.markClosed()
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Warn("broker: async error", "err", err)
		}),
	}
	if cfg.Keepalive > 0 {
		defaults = append(defaults, nats.PingInterval(cfg.Keepalive))
	}
	if cfg.Username != "" {
		defaults = append(defaults, nats.UserInfo(cfg.Username, cfg.Password))
	}

	url := cfg.URL()
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to NATS at %s: %w", ErrConnect, url, err)
	}
	s.conn = nc
	return s, nil
}

// Publish hands payload to the client. It does not wait for the server.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := s.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, topic, err)
	}
	return nil
}

// Flush blocks until the server has processed everything published so far.
func (s *Session) Flush() error {
	return s.conn.Flush()
}

// Closed is closed when the connection is gone for good, whether by Close or
// because the client gave up.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// Close drains nothing and closes the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.conn.Close()
	s.markClosed()
	return nil
}

func (s *Session) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}
