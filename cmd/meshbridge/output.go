package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/broker"
	"github.com/alfredjeanlab/meshbridge/internal/crypt"
	"github.com/alfredjeanlab/meshbridge/internal/meshpb"
	"github.com/alfredjeanlab/meshbridge/internal/radio"
	"github.com/alfredjeanlab/meshbridge/internal/ui"
)

const broadcastAddr = 0xffffffff

func printJSON(v any) {
	printJSONTo(os.Stdout, v)
}

func printJSONTo(w io.Writer, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

func printChannelReport(out io.Writer, r channelReport) {
	fmt.Fprintf(out, "Gateway:     %s\n", ui.Accent(r.Gateway))
	fmt.Fprintf(out, "Preset:      %s\n", r.Preset)
	fmt.Fprintf(out, "MQTT:        %s\n", onOff(r.MQTT))
	fmt.Fprintf(out, "Proxy:       %s\n", onOff(r.Proxy))
	fmt.Fprintf(out, "Topic base:  %s\n\n", r.TopicBase)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tROLE\tKEY\tUPLINK")
	for _, c := range r.Channels {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.Index, c.Name, c.Role, c.Key, onOff(c.Uplink))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d channels\n", len(r.Channels))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return ui.Muted("off")
}

// tailLine is one bridged packet as shown by tail.
type tailLine struct {
	At        time.Time `json:"at"`
	Topic     string    `json:"topic"`
	Channel   string    `json:"channel"`
	Gateway   string    `json:"gateway"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ID        uint32    `json:"id"`
	Encrypted bool      `json:"encrypted"`
	Port      string    `json:"port,omitempty"`
	Text      string    `json:"text,omitempty"`
	SNR       float32   `json:"snr_db,omitempty"`
	RSSI      int32     `json:"rssi_dbm,omitempty"`
	Bytes     int       `json:"bytes"`
}

var errNoPacket = errors.New("envelope carries no packet")

// formatEnvelope decodes a bridged message. Ciphertext is decrypted for
// display when engine knows the key; the published bytes are not touched.
func formatEnvelope(msg broker.Message, engine *crypt.Engine) (tailLine, error) {
	var env meshpb.ServiceEnvelope
	if err := env.Unmarshal(msg.Payload); err != nil {
		return tailLine{}, err
	}
	pkt := env.Packet
	if pkt == nil {
		return tailLine{}, errNoPacket
	}

	line := tailLine{
		At:        time.Now(),
		Topic:     msg.Topic,
		Channel:   env.ChannelID,
		Gateway:   env.GatewayID,
		From:      radio.GatewayID(pkt.From),
		To:        nodeName(pkt.To),
		ID:        pkt.ID,
		Encrypted: pkt.Decoded == nil,
		SNR:       pkt.RxSNR,
		RSSI:      pkt.RxRSSI,
		Bytes:     len(msg.Payload),
	}
	if pkt.Decoded == nil && engine != nil {
		_ = engine.Decrypt(pkt, env.ChannelID)
	}
	if pkt.Decoded != nil {
		line.Port = pkt.Decoded.PortNum.String()
		if pkt.Decoded.PortNum == meshpb.PortTextMessage {
			line.Text = string(pkt.Decoded.Payload)
		}
	}
	return line, nil
}

func nodeName(n uint32) string {
	if n == broadcastAddr {
		return "^all"
	}
	return radio.GatewayID(n)
}

func (l tailLine) String() string {
	var sb strings.Builder
	sb.WriteString(ui.Muted(l.At.Format("15:04:05")))
	fmt.Fprintf(&sb, " %s %s %s -> %s #%08x ", ui.Accent(l.Channel), l.Gateway, l.From, l.To, l.ID)
	switch {
	case l.Port == "":
		sb.WriteString(ui.Warn(fmt.Sprintf("encrypted (%d bytes)", l.Bytes)))
	case l.Text != "":
		fmt.Fprintf(&sb, "%s %q", l.Port, l.Text)
	default:
		sb.WriteString(l.Port)
	}
	if l.Encrypted && l.Port != "" {
		sb.WriteString(ui.Muted(" [decrypted]"))
	}
	return sb.String()
}
