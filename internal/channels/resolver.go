// Package channels turns the radio's raw channel list into the lookups the
// bridge needs: index to name for uplink, name to key material for
// decryption, and the "default" alias for the primary channel.
package channels

import (
	"bytes"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	"github.com/alfredjeanlab/meshbridge/internal/meshpb"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultAlias always resolves to the primary channel.
const DefaultAlias = "default"

// DefaultPSK is the well-known Meshtastic key the radio means when a channel
// is configured with the single-byte key 0x01.
var DefaultPSK = []byte{
	0xd4, 0xf1, 0xbb, 0x3a, 0x20, 0x29, 0x07, 0x59,
	0xf0, 0xbc, 0xff, 0xab, 0xcf, 0x4e, 0x69, 0x01,
}

// defaultKeySentinel is the single-byte PSK that selects DefaultPSK.
var defaultKeySentinel = []byte{0x01}

// RawChannel is one channel slot as reported by the radio, before any
// default substitution.
type RawChannel struct {
	Index         uint32
	Role          meshpb.ChannelRole
	Name          string
	Key           []byte
	UplinkEnabled bool
}

// Descriptor is a resolved channel. Key is shared with the resolver and must
// not be modified.
type Descriptor struct {
	Name          string
	Index         uint32
	Key           []byte
	UplinkEnabled bool
	Role          meshpb.ChannelRole
}

// Options controls default substitution for the primary channel.
type Options struct {
	// Preset names the primary channel when the radio leaves it blank.
	Preset meshpb.ModemPreset
	// DefaultKey replaces the 0x01 sentinel key. Nil means DefaultPSK.
	DefaultKey []byte
	Logger     *slog.Logger
}

// Resolver answers channel lookups for one radio session. It is read-only
// after New and safe for concurrent use.
type Resolver struct {
	byIndex map[uint32]*Descriptor
	uplink  map[uint32]string
	byName  map[string]*Descriptor
	primary *Descriptor
	ordered []*Descriptor
}

// New builds a resolver from the radio's channel list. It never fails: a
// list without a primary channel leaves the default alias unresolved.
func New(raw []RawChannel, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaultKey := opts.DefaultKey
	if defaultKey == nil {
		defaultKey = DefaultPSK
	}

	r := &Resolver{
		byIndex: make(map[uint32]*Descriptor),
		uplink:  make(map[uint32]string),
		byName:  make(map[string]*Descriptor),
	}

	for _, ch := range raw {
		if ch.Role == meshpb.RoleDisabled {
			continue
		}

		d := &Descriptor{
			Name:          ch.Name,
			Index:         ch.Index,
			Key:           append([]byte(nil), ch.Key...),
			UplinkEnabled: ch.UplinkEnabled,
			Role:          ch.Role,
		}
		if ch.Role == meshpb.RolePrimary {
			if d.Name == "" {
				d.Name = PresetName(opts.Preset)
			}
			if bytes.Equal(d.Key, defaultKeySentinel) {
				d.Key = append([]byte(nil), defaultKey...)
			}
		}

		r.byIndex[d.Index] = d
		r.byName[d.Name] = d
		r.ordered = append(r.ordered, d)
		if d.UplinkEnabled {
			r.uplink[d.Index] = d.Name
		}
		if d.Role == meshpb.RolePrimary {
			r.primary = d
		}
	}

	if r.primary != nil {
		r.byName[DefaultAlias] = r.primary
	} else {
		logger.Warn("channels: radio reported no primary channel; default alias unresolved")
	}

	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Index < r.ordered[j].Index
	})
	r.warnDuplicateKeys(logger)

	return r
}

// warnDuplicateKeys logs channels sharing key material. Keys are expected to
// be unique per session; a shared key makes decryption ambiguous.
func (r *Resolver) warnDuplicateKeys(logger *slog.Logger) {
	seen := make(map[string]string, len(r.ordered))
	for _, d := range r.ordered {
		if len(d.Key) == 0 {
			continue
		}
		k := hex.EncodeToString(d.Key)
		if other, ok := seen[k]; ok {
			logger.Warn("channels: key shared between channels", "channel", d.Name, "other", other)
			continue
		}
		seen[k] = d.Name
	}
}

// NameForUplink returns the name of the uplink-enabled channel at index.
func (r *Resolver) NameForUplink(index uint32) (string, bool) {
	name, ok := r.uplink[index]
	return name, ok
}

// ResolveUplink resolves the channel a packet should be published under. The
// index wins; hint (a channel name carried alongside the packet) is used only
// when the index is unknown and the named channel is uplink-enabled.
func (r *Resolver) ResolveUplink(index uint32, hint string) (string, bool) {
	if name, ok := r.uplink[index]; ok {
		return name, true
	}
	if hint == "" {
		return "", false
	}
	if d, ok := r.byName[hint]; ok && d.UplinkEnabled {
		return d.Name, true
	}
	return "", false
}

// ByName looks up a channel by name, including the default alias.
func (r *Resolver) ByName(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// ByIndex looks up a non-disabled channel by index.
func (r *Resolver) ByIndex(index uint32) (Descriptor, bool) {
	d, ok := r.byIndex[index]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Default returns the primary channel.
func (r *Resolver) Default() (Descriptor, bool) {
	return r.ByName(DefaultAlias)
}

// KeyFor picks the decryption channel for a packet: the hinted name, then
// the index, then the default alias.
func (r *Resolver) KeyFor(hint string, index uint32) (Descriptor, bool) {
	c := r.KeyCandidates(hint, index)
	if len(c) == 0 {
		return Descriptor{}, false
	}
	return c[0], true
}

// KeyCandidates lists the channels whose keys may open a packet, in the
// order KeyFor prefers them, each channel once. The default alias always
// comes last: on an encrypted packet the index field carries the channel
// hash, which can collide with the slot of an unrelated channel.
func (r *Resolver) KeyCandidates(hint string, index uint32) []Descriptor {
	var out []Descriptor
	add := func(d *Descriptor) {
		for _, seen := range out {
			if seen.Index == d.Index {
				return
			}
		}
		out = append(out, *d)
	}
	if hint != "" {
		if d, ok := r.byName[hint]; ok {
			add(d)
		}
	}
	if d, ok := r.byIndex[index]; ok {
		add(d)
	}
	if d, ok := r.byName[DefaultAlias]; ok {
		add(d)
	}
	return out
}

// Channels returns every resolved channel ordered by index.
func (r *Resolver) Channels() []Descriptor {
	out := make([]Descriptor, 0, len(r.ordered))
	for _, d := range r.ordered {
		out = append(out, *d)
	}
	return out
}

// PresetName renders a modem preset the way Meshtastic names the primary
// channel when it has no explicit name: LONG_FAST becomes "LongFast".
func PresetName(p meshpb.ModemPreset) string {
	caser := cases.Title(language.Und)
	var sb strings.Builder
	for _, part := range strings.Split(p.String(), "_") {
		sb.WriteString(caser.String(part))
	}
	return sb.String()
}
