// Package router decides which radio packets reach the broker.
//
// For every packet the router decrypts envelope-only traffic, applies the
// filter policy, resolves the uplink channel and checks the publishing gate,
// stopping at the first rejection. Accepted packets are wrapped in a
// ServiceEnvelope and handed to the bridge publisher.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/broker"
	"github.com/alfredjeanlab/meshbridge/internal/channels"
	"github.com/alfredjeanlab/meshbridge/internal/crypt"
	"github.com/alfredjeanlab/meshbridge/internal/meshpb"
	"github.com/alfredjeanlab/meshbridge/internal/presence"
	"github.com/alfredjeanlab/meshbridge/internal/radio"
)

// Policy selects how the router decides a packet may be uplinked.
type Policy string

const (
	// PolicyAllowlist forwards decoded packets of a fixed set of ports.
	PolicyAllowlist Policy = "allowlist"
	// PolicyBitfield forwards packets whose sender set the OK-to-MQTT bit.
	PolicyBitfield Policy = "bitfield"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyAllowlist, PolicyBitfield:
		return p, nil
	}
	return "", fmt.Errorf("unknown filter policy %q (want %q or %q)", s, PolicyAllowlist, PolicyBitfield)
}

// AllowedPorts is the port allow-list of PolicyAllowlist.
var AllowedPorts = map[meshpb.PortNum]bool{
	meshpb.PortNodeInfo:    true,
	meshpb.PortTextMessage: true,
	meshpb.PortPosition:    true,
	meshpb.PortTelemetry:   true,
	meshpb.PortMapReport:   true,
}

// Reason explains a routing decision. The empty Reason means accepted.
type Reason string

const (
	Accepted             Reason = ""
	RejectNoPayload      Reason = "no-payload"
	RejectUndecoded      Reason = "undecoded"
	RejectPortNotAllowed Reason = "port-not-allowed"
	RejectNotOKToMQTT    Reason = "not-ok-to-mqtt"
	RejectUnknownChannel Reason = "unknown-channel"
	RejectGateClosed     Reason = "gate-closed"
)

// Publisher is the hand-off to the broker.
type Publisher interface {
	Publish(ctx context.Context, env broker.Envelope) error
}

// Config wires a router to one radio session.
type Config struct {
	Resolver  *channels.Resolver
	Engine    *crypt.Engine
	Gate      *Gate
	Publisher Publisher
	GatewayID string
	Policy    Policy
	// PublishDecrypted publishes the decoded form of packets that arrived
	// encrypted. By default the original ciphertext is forwarded.
	PublishDecrypted bool
	// Presence, when set, records every sender heard.
	Presence *presence.Tracker
	Logger   *slog.Logger
}

// Stats counts routing outcomes since the router was created.
type Stats struct {
	Received      uint64
	Accepted      uint64
	PublishFailed uint64
	Decrypted     uint64
	DecryptFailed uint64
	Rejected      map[Reason]uint64
}

// Router routes the packets of one radio session. It implements
// radio.Handler.
type Router struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	stats      Stats
	gateOpened bool
}

// New creates a router. A nil Gate gets one with no quiescence window, which
// still stays closed until the first connected event. An empty Policy means
// PolicyAllowlist.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gate == nil {
		cfg.Gate = NewGate(0)
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyAllowlist
	}
	return &Router{
		cfg:    cfg,
		logger: cfg.Logger,
		stats:  Stats{Rejected: make(map[Reason]uint64)},
	}
}

// Gate returns the router's publishing gate.
func (r *Router) Gate() *Gate { return r.cfg.Gate }

// HandleConnected arms the publishing gate.
func (r *Router) HandleConnected(at time.Time) {
	if r.cfg.Gate.Arm(at) {
		r.logger.Info("router: publishing gate armed", "quiescence", r.cfg.Gate.Quiescence())
	}
}

// HandlePacket routes ev and publishes it if accepted. Nothing it does can
// fail the session.
func (r *Router) HandlePacket(ev radio.PacketEvent) {
	env, reason := r.Route(ev)
	if reason != Accepted {
		return
	}
	err := r.cfg.Publisher.Publish(context.Background(), env)

	r.mu.Lock()
	if err != nil {
		r.stats.PublishFailed++
	} else {
		r.stats.Accepted++
	}
	r.mu.Unlock()
}

// Route runs the decision sequence for one packet. It returns the envelope
// to publish, or the reason the packet was rejected.
func (r *Router) Route(ev radio.PacketEvent) (broker.Envelope, Reason) {
	pkt := ev.Packet
	r.count(func(s *Stats) { s.Received++ })
	if pkt == nil || (pkt.Decoded == nil && len(pkt.Encrypted) == 0) {
		return r.reject(ev, RejectNoPayload)
	}

	arrivedEncrypted := pkt.IsEnvelopeOnly()
	if arrivedEncrypted && r.cfg.Engine != nil {
		if err := r.cfg.Engine.Decrypt(pkt, ev.ChannelHint); err != nil {
			r.count(func(s *Stats) { s.DecryptFailed++ })
			r.logDecryptFailure(pkt, err)
		} else {
			r.count(func(s *Stats) { s.Decrypted++ })
		}
	}

	r.logReceived(ev)
	if r.cfg.Presence != nil && pkt.From != 0 {
		r.cfg.Presence.Record(presence.Heard{
			Node:    pkt.From,
			PortNum: portOf(pkt),
			SNR:     pkt.RxSNR,
			RSSI:    pkt.RxRSSI,
			At:      ev.ReceivedAt,
		})
	}

	if reason := r.checkPolicy(pkt); reason != Accepted {
		return r.reject(ev, reason)
	}

	channelID, ok := r.cfg.Resolver.ResolveUplink(pkt.Channel, ev.ChannelHint)
	if !ok {
		return r.reject(ev, RejectUnknownChannel)
	}

	open, remaining := r.cfg.Gate.Check(ev.ReceivedAt)
	if !open {
		r.logger.Info("router: publishing disabled", "wait_s", int(remaining.Seconds()))
		return r.reject(ev, RejectGateClosed)
	}
	r.announceOpen()

	return broker.Envelope{
		ChannelID: channelID,
		GatewayID: r.cfg.GatewayID,
		Payload:   r.envelope(ev, arrivedEncrypted, channelID),
	}, Accepted
}

// envelope serializes the ServiceEnvelope for an accepted packet. A packet
// forwarded as received reuses the radio's own envelope when the radio
// proxied one naming the same channel and gateway.
func (r *Router) envelope(ev radio.PacketEvent, arrivedEncrypted bool, channelID string) []byte {
	publishPlain := arrivedEncrypted && r.cfg.PublishDecrypted
	if !publishPlain && len(ev.Envelope) > 0 {
		var orig meshpb.ServiceEnvelope
		if err := orig.Unmarshal(ev.Envelope); err == nil &&
			orig.ChannelID == channelID && orig.GatewayID == r.cfg.GatewayID {
			return ev.Envelope
		}
	}

	out := ev.Packet
	if arrivedEncrypted && !publishPlain {
		cp := *out
		cp.Decoded = nil
		out = &cp
	}
	se := &meshpb.ServiceEnvelope{
		Packet:    out,
		ChannelID: channelID,
		GatewayID: r.cfg.GatewayID,
	}
	return se.Marshal()
}

func (r *Router) announceOpen() {
	r.mu.Lock()
	first := !r.gateOpened
	r.gateOpened = true
	r.mu.Unlock()
	if first {
		r.logger.Info("router: publishing enabled")
	}
}

func (r *Router) checkPolicy(pkt *meshpb.MeshPacket) Reason {
	switch r.cfg.Policy {
	case PolicyBitfield:
		if pkt.Decoded == nil || !pkt.Decoded.OKToMQTT() {
			return RejectNotOKToMQTT
		}
	default:
		if pkt.Decoded == nil {
			return RejectUndecoded
		}
		if !AllowedPorts[pkt.Decoded.PortNum] {
			return RejectPortNotAllowed
		}
	}
	return Accepted
}

func (r *Router) reject(ev radio.PacketEvent, reason Reason) (broker.Envelope, Reason) {
	r.count(func(s *Stats) { s.Rejected[reason]++ })
	var id uint32
	if ev.Packet != nil {
		id = ev.Packet.ID
	}
	r.logger.Debug("router: packet rejected", "packet_id", id, "reason", string(reason))
	return broker.Envelope{}, reason
}

func (r *Router) count(fn func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}

func (r *Router) logReceived(ev radio.PacketEvent) {
	pkt := ev.Packet
	portnum := "unknown"
	if pkt.Decoded != nil {
		portnum = pkt.Decoded.PortNum.String()
	}
	r.logger.Info("router: received packet",
		"from", radio.GatewayID(pkt.From),
		"packet_id", pkt.ID,
		"topic", ev.Topic,
		"channel", ev.ChannelHint,
		"channel_index", pkt.Channel,
		"portnum", portnum,
		"encrypted", pkt.Decoded == nil,
		"snr_db", pkt.RxSNR,
		"rssi_dbm", pkt.RxRSSI,
	)
}

func (r *Router) logDecryptFailure(pkt *meshpb.MeshPacket, err error) {
	// A packet on a channel this radio has no key for is routine traffic.
	if errors.Is(err, crypt.ErrNoChannel) {
		r.logger.Debug("router: unable to decrypt packet", "packet_id", pkt.ID, "err", err)
		return
	}
	r.logger.Warn("router: unable to decrypt packet", "packet_id", pkt.ID, "err", err)
}

// Stats returns a snapshot of the routing counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Rejected = make(map[Reason]uint64, len(r.stats.Rejected))
	for k, v := range r.stats.Rejected {
		s.Rejected[k] = v
	}
	return s
}

// LogStats writes the counters to the router's logger.
func (r *Router) LogStats() {
	s := r.Stats()
	reasons := make([]string, 0, len(s.Rejected))
	for reason := range s.Rejected {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)

	attrs := []any{
		"received", s.Received,
		"accepted", s.Accepted,
		"publish_failed", s.PublishFailed,
		"decrypted", s.Decrypted,
		"decrypt_failed", s.DecryptFailed,
	}
	for _, reason := range reasons {
		attrs = append(attrs, "rejected_"+reason, s.Rejected[Reason(reason)])
	}
	r.logger.Info("router: stats", attrs...)
}

func portOf(pkt *meshpb.MeshPacket) meshpb.PortNum {
	if pkt.Decoded == nil {
		return meshpb.PortUnknown
	}
	return pkt.Decoded.PortNum
}
