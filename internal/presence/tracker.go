// Package presence tracks which mesh nodes this gateway has heard.
//
// The Tracker keeps an in-memory map of senders, updated by the router for
// every packet that carries a payload. A background reaper marks nodes
// that have gone quiet as stale and eventually forgets them, so the roster
// stays bounded on a busy mesh.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/meshpb"
)

// Entry is one node's presence state.
type Entry struct {
	Node        uint32    `json:"node"`
	FirstHeard  time.Time `json:"first_heard"`
	LastHeard   time.Time `json:"last_heard"`
	LastPortNum string    `json:"last_portnum"`
	SNR         float32   `json:"snr_db"`
	RSSI        int32     `json:"rssi_dbm"`
	Packets     int64     `json:"packets"`
	Stale       bool      `json:"stale,omitempty"`
}

// Heard is one packet observation.
type Heard struct {
	Node    uint32
	PortNum meshpb.PortNum
	SNR     float32
	RSSI    int32
	// At defaults to the current time.
	At time.Time
}

// ReaperConfig configures the background stale-node reaper.
type ReaperConfig struct {
	// StaleAfter is how long a node may stay silent before it is marked
	// stale. Default: 2 hours.
	StaleAfter time.Duration

	// ForgetAfter is how long a stale node is kept before it is removed.
	// Default: 24 hours.
	ForgetAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 5 minutes.
	SweepInterval time.Duration

	// OnStale is called for each node newly marked stale, outside the lock.
	OnStale func(node uint32)
}

// Tracker maintains the roster of heard nodes.
type Tracker struct {
	mu     sync.RWMutex
	nodes  map[uint32]*nodeState
	now    func() time.Time
	logger *slog.Logger

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type nodeState struct {
	firstHeard time.Time
	lastHeard  time.Time
	lastPort   meshpb.PortNum
	snr        float32
	rssi       int32
	packets    int64
	stale      bool
	staleAt    time.Time
}

// New creates an empty tracker.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		nodes:  make(map[uint32]*nodeState),
		now:    time.Now,
		logger: logger,
	}
}

// Record updates the node's state from one packet.
func (t *Tracker) Record(h Heard) {
	if h.Node == 0 {
		return
	}
	at := h.At
	if at.IsZero() {
		at = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.nodes[h.Node]
	if !ok {
		state = &nodeState{firstHeard: at}
		t.nodes[h.Node] = state
	}
	if state.stale {
		t.logger.Debug("presence: node heard again", "node", h.Node)
		state.stale = false
		state.staleAt = time.Time{}
	}

	if at.After(state.lastHeard) {
		state.lastHeard = at
	}
	if h.PortNum != meshpb.PortUnknown {
		state.lastPort = h.PortNum
	}
	state.snr = h.SNR
	state.rssi = h.RSSI
	state.packets++
}

// Len returns the number of tracked nodes, stale ones included.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Roster returns a snapshot of tracked nodes, most recently heard first.
// Nodes silent for longer than within are left out; 0 includes all.
func (t *Tracker) Roster(within time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.nodes))
	for node, state := range t.nodes {
		if within > 0 && now.Sub(state.lastHeard) > within {
			continue
		}
		port := "unknown"
		if state.lastPort != meshpb.PortUnknown {
			port = state.lastPort.String()
		}
		entries = append(entries, Entry{
			Node:        node,
			FirstHeard:  state.firstHeard,
			LastHeard:   state.lastHeard,
			LastPortNum: port,
			SNR:         state.snr,
			RSSI:        state.rssi,
			Packets:     state.packets,
			Stale:       state.stale,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastHeard.Equal(entries[j].LastHeard) {
			return entries[i].Node < entries[j].Node
		}
		return entries[i].LastHeard.After(entries[j].LastHeard)
	})
	return entries
}

// StartReaper launches a goroutine that periodically marks silent nodes
// stale. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 2 * time.Hour
	}
	if cfg.ForgetAfter == 0 {
		cfg.ForgetAfter = 24 * time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Minute
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	t.logger.Info("presence: reaper started",
		"stale_after", cfg.StaleAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()
	var newlyStale []uint32

	t.mu.Lock()
	for node, state := range t.nodes {
		if state.stale {
			if now.Sub(state.staleAt) > cfg.ForgetAfter {
				delete(t.nodes, node)
			}
			continue
		}
		if now.Sub(state.lastHeard) > cfg.StaleAfter {
			state.stale = true
			state.staleAt = now
			newlyStale = append(newlyStale, node)
		}
	}
	t.mu.Unlock()

	for _, node := range newlyStale {
		t.logger.Debug("presence: node marked stale", "node", node, "threshold", cfg.StaleAfter)
		if cfg.OnStale != nil {
			cfg.OnStale(node)
		}
	}
}
