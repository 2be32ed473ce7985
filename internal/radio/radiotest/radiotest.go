// Package radiotest provides an in-memory radio driver for tests.
package radiotest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/radio"
)

// Driver hands out a single prepared Link.
type Driver struct {
	Link *Link
	// Err, when set, is returned by Connect instead of the link.
	Err error

	mu        sync.Mutex
	addresses []string
}

// Connect records address and returns the prepared link.
func (d *Driver) Connect(ctx context.Context, address string) (radio.Link, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Link == nil {
		return nil, errors.New("radiotest: no link")
	}
	return d.Link, nil
}

// Addresses returns every address Connect was called with.
func (d *Driver) Addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addresses...)
}

// Link is a scripted radio link. Events are delivered synchronously on the
// calling goroutine, which stands in for the driver's reader goroutine.
type Link struct {
	NodeNum uint32
	Config  radio.LocalConfig
	// ListenErr, when set, is returned by Listen.
	ListenErr error

	mu           sync.Mutex
	handlers     *radio.Handlers
	heartbeatErr error
	heartbeats   int
	closes       int
	beat         chan struct{}
	listening    chan struct{}
}

// NewLink returns a link reporting nodeNum and cfg.
func NewLink(nodeNum uint32, cfg radio.LocalConfig) *Link {
	return &Link{
		NodeNum:   nodeNum,
		Config:    cfg,
		beat:      make(chan struct{}, 64),
		listening: make(chan struct{}),
	}
}

func (l *Link) Identity() uint32               { return l.NodeNum }
func (l *Link) LocalConfig() radio.LocalConfig { return l.Config }

func (l *Link) Listen(h radio.Handlers) error {
	if l.ListenErr != nil {
		return l.ListenErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		close(l.listening)
	}
	l.handlers = &h
	return nil
}

// WaitListening blocks until Listen has been called or timeout passes.
func (l *Link) WaitListening(timeout time.Duration) bool {
	select {
	case <-l.listening:
		return true
	case <-time.After(timeout):
		return false
	}
}

// SendHeartbeat counts the heartbeat and returns the configured failure.
func (l *Link) SendHeartbeat(ctx context.Context) error {
	l.mu.Lock()
	l.heartbeats++
	err := l.heartbeatErr
	l.mu.Unlock()
	select {
	case l.beat <- struct{}{}:
	default:
	}
	return err
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

// FailHeartbeats makes every later heartbeat return err.
func (l *Link) FailHeartbeats(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.heartbeatErr = err
}

// Heartbeats returns the number of heartbeats sent.
func (l *Link) Heartbeats() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heartbeats
}

// WaitHeartbeat blocks until a heartbeat is sent or timeout passes.
func (l *Link) WaitHeartbeat(timeout time.Duration) bool {
	select {
	case <-l.beat:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Closes returns the number of times Close was called.
func (l *Link) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

func (l *Link) registered() radio.Handlers {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		return radio.Handlers{}
	}
	return *l.handlers
}

// Connected delivers a connection-established event.
func (l *Link) Connected(at time.Time) {
	if h := l.registered(); h.OnConnected != nil {
		h.OnConnected(at)
	}
}

// Deliver delivers a packet event.
func (l *Link) Deliver(ev radio.PacketEvent) {
	if h := l.registered(); h.OnPacket != nil {
		h.OnPacket(ev)
	}
}

// Lost delivers a connection-lost event.
func (l *Link) Lost(err error) {
	if h := l.registered(); h.OnConnectionLost != nil {
		h.OnConnectionLost(err)
	}
}
