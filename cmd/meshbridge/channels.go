package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/channels"
	"github.com/alfredjeanlab/meshbridge/internal/config"
	"github.com/alfredjeanlab/meshbridge/internal/radio"
	"github.com/alfredjeanlab/meshbridge/internal/radio/stream"
	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Connect to the radio and print its resolved channel table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		s, err := radio.Establish(ctx, &stream.Driver{Logger: logger}, cfg.RadioAddress, radio.Options{
			DefaultKey:        cfg.DefaultPSK,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Logger:            logger,
		})
		if err != nil {
			return err
		}
		defer s.Close()

		report := newChannelReport(s, cfg)
		if jsonOutput {
			printJSON(report)
			return nil
		}
		printChannelReport(os.Stdout, report)
		return nil
	},
}

func init() {
	channelsCmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for the radio")
}

type channelRow struct {
	Index  uint32 `json:"index"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Key    string `json:"key"`
	Uplink bool   `json:"uplink"`
}

type channelReport struct {
	Gateway   string       `json:"gateway"`
	Preset    string       `json:"preset"`
	MQTT      bool         `json:"mqtt_enabled"`
	Proxy     bool         `json:"mqtt_proxy_to_client"`
	TopicBase string       `json:"topic_base"`
	Channels  []channelRow `json:"channels"`
}

func newChannelReport(s *radio.Session, cfg *config.Config) channelReport {
	lc := s.LocalConfig()
	eff := cfg.WithRadioDefaults(radioMQTT(lc.MQTT))
	r := channelReport{
		Gateway:   s.GatewayID(),
		Preset:    channels.PresetName(lc.ModemPreset),
		MQTT:      lc.MQTT.Enabled,
		Proxy:     lc.MQTT.ProxyToClient,
		TopicBase: eff.TopicBase,
	}
	for _, d := range s.Resolver().Channels() {
		r.Channels = append(r.Channels, channelRow{
			Index:  d.Index,
			Name:   d.Name,
			Role:   d.Role.String(),
			Key:    keyKind(d.Key),
			Uplink: d.UplinkEnabled,
		})
	}
	return r
}

// keyKind describes a channel key without revealing it.
func keyKind(key []byte) string {
	switch {
	case len(key) == 0:
		return "none"
	case bytes.Equal(key, channels.DefaultPSK):
		return "default"
	default:
		return fmt.Sprintf("aes%d", len(key)*8)
	}
}
