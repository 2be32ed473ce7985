package router

import (
	"sync"
	"time"
)

// Gate holds publishing closed for a quiescence window after the radio link
// comes up, so the burst of packets the radio buffered while the client was
// away is not republished.
//
// The gate is armed by the first connection-established event of a session.
// It stays closed until armed, and once open it never closes again.
type Gate struct {
	mu          sync.Mutex
	quiescence  time.Duration
	connectedAt time.Time
	armed       bool
	open        bool
}

// NewGate returns a closed, unarmed gate.
func NewGate(quiescence time.Duration) *Gate {
	return &Gate{quiescence: quiescence}
}

// Arm records the connection time. Only the first call has any effect; it
// reports whether this call armed the gate.
func (g *Gate) Arm(connectedAt time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.armed {
		return false
	}
	g.armed = true
	g.connectedAt = connectedAt
	return true
}

// Quiescence returns the configured window.
func (g *Gate) Quiescence() time.Duration {
	return g.quiescence
}

// Check reports whether publishing is allowed at now. When closed and armed,
// remaining is the time left in the quiescence window.
func (g *Gate) Check(now time.Time) (open bool, remaining time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return true, 0
	}
	if !g.armed {
		return false, g.quiescence
	}
	elapsed := now.Sub(g.connectedAt)
	if elapsed >= g.quiescence {
		g.open = true
		return true, 0
	}
	return false, g.quiescence - elapsed
}

// IsOpen is Check without the remaining time.
func (g *Gate) IsOpen(now time.Time) bool {
	open, _ := g.Check(now)
	return open
}

// ConnectedAt returns the arming time, or the zero time if unarmed.
func (g *Gate) ConnectedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectedAt
}
