package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alfredjeanlab/meshbridge/internal/broker"
	"github.com/alfredjeanlab/meshbridge/internal/channels"
	"github.com/alfredjeanlab/meshbridge/internal/config"
	"github.com/alfredjeanlab/meshbridge/internal/crypt"
	"github.com/alfredjeanlab/meshbridge/internal/idgen"
	"github.com/alfredjeanlab/meshbridge/internal/meshpb"
	"github.com/spf13/cobra"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print bridged packets as they arrive on the broker",
	Long: `tail subscribes under the configured topic base and prints one line per
ServiceEnvelope. Packets on the default channel are decrypted for display
with MESHBRIDGE_DEFAULT_PSK or the built-in key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runTail(ctx, cfg, os.Stdout, count, logger)
	},
}

func init() {
	tailCmd.Flags().IntP("count", "n", 0, "exit after this many packets (0 = until interrupted)")
}

// runTail prints envelopes published under the configured topic base.
// Settings the radio would normally supply fall back to their defaults.
func runTail(ctx context.Context, cfg *config.Config, w io.Writer, count int, logger *slog.Logger) error {
	eff := cfg.WithRadioDefaults(config.RadioMQTT{})
	sessionID, err := idgen.SessionID()
	if err != nil {
		return err
	}

	sub, err := broker.NewSubscriber(brokerConfig(eff, idgen.ClientName(sessionID, "tail")))
	if err != nil {
		return err
	}
	defer sub.Close()

	msgs, cancel, err := sub.Subscribe(eff.TopicBase)
	if err != nil {
		return err
	}
	defer cancel()
	logger.Info("tail: subscribed", "topic_base", eff.TopicBase, "broker", brokerConfig(eff, "").URL())

	// Only the default channel's key is known off-radio.
	resolver := channels.New([]channels.RawChannel{{
		Index: 0,
		Role:  meshpb.RolePrimary,
		Key:   []byte{1},
	}}, channels.Options{DefaultKey: eff.DefaultPSK, Logger: logger})
	engine := crypt.NewEngine(resolver, logger)

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			line, err := formatEnvelope(msg, engine)
			if err != nil {
				logger.Debug("tail: undecodable envelope", "topic", msg.Topic, "err", err)
				continue
			}
			if jsonOutput {
				printJSONTo(w, line)
			} else {
				fmt.Fprintln(w, line.String())
			}
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
	}
}
