package broker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Message is one payload received from the broker.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscriber watches bridge traffic on the broker. Used by the tail command.
type Subscriber struct {
	conn *nats.Conn
}

// NewSubscriber connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewSubscriber(cfg Config, opts ...nats.Option) (*Subscriber, error) {
	defaults := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if cfg.Username != "" {
		defaults = append(defaults, nats.UserInfo(cfg.Username, cfg.Password))
	}
	url := cfg.URL()
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to NATS at %s: %w", ErrConnect, url, err)
	}
	return &Subscriber{conn: nc}, nil
}

// Subscribe returns a channel of messages whose topic starts with
// topicBase. Bridge topics contain slashes rather than NATS tokens, so the
// subscription is a full wildcard filtered client-side. Call the returned
// cancel function to unsubscribe and close the channel.
func (s *Subscriber) Subscribe(topicBase string) (<-chan Message, func(), error) {
	prefix := strings.TrimRight(topicBase, "/") + "/"
	ch := make(chan Message, 64)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := s.conn.Subscribe(">", func(msg *nats.Msg) {
		if !strings.HasPrefix(msg.Subject, prefix) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- Message{Topic: msg.Subject, Payload: msg.Data}:
		default:
			// Drop message if channel is full to avoid blocking the NATS client.
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing under %s: %w", prefix, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			for {
				select {
				case <-ch:
				default:
					close(ch)
					return
				}
			}
		})
	}

	return ch, cancel, nil
}

func (s *Subscriber) Close() error {
	s.conn.Close()
	return nil
}
