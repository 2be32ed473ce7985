package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/meshbridge/internal/broker"
	"github.com/alfredjeanlab/meshbridge/internal/config"
	"github.com/alfredjeanlab/meshbridge/internal/crypt"
	"github.com/alfredjeanlab/meshbridge/internal/health"
	"github.com/alfredjeanlab/meshbridge/internal/idgen"
	"github.com/alfredjeanlab/meshbridge/internal/presence"
	"github.com/alfredjeanlab/meshbridge/internal/radio"
	"github.com/alfredjeanlab/meshbridge/internal/radio/stream"
	"github.com/alfredjeanlab/meshbridge/internal/router"
	"github.com/alfredjeanlab/meshbridge/internal/shutdown"
	"github.com/spf13/cobra"
)

// errRadioMQTTDisabled means the radio is not set up to uplink, so there is
// nothing to bridge. serve exits cleanly.
var errRadioMQTTDisabled = errors.New("radio MQTT or proxy-to-client disabled")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge until interrupted or the radio link fails",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runBridge(ctx, cfg, &stream.Driver{Logger: logger}, logger)
	},
}

// sessionHandler routes radio events and mirrors link readiness into the
// health service.
type sessionHandler struct {
	*router.Router
	health *health.Server
}

func (h *sessionHandler) HandleConnected(at time.Time) {
	h.health.SetRadio(true)
	h.Router.HandleConnected(at)
}

// runBridge runs one bridge session until ctx is cancelled, the watchdog
// declares the radio dead, or the broker connection is gone for good. Those
// are orderly exits and return nil; only startup failures return an error.
func runBridge(ctx context.Context, cfg *config.Config, driver radio.Driver, logger *slog.Logger) error {
	sessionID, err := idgen.SessionID()
	if err != nil {
		return err
	}
	logger = logger.With("session", sessionID)

	policy, err := router.ParsePolicy(cfg.FilterPolicy)
	if err != nil {
		return err
	}

	coord := shutdown.New(logger)
	hs := health.New(health.Options{Reflection: true, Logger: logger})
	coord.Register("health", hs.Close)

	abort := func(err error) error {
		coord.Trigger("startup failure")
		coord.Wait()
		return err
	}

	if cfg.HealthAddr != "" {
		if _, err := hs.Listen(cfg.HealthAddr); err != nil {
			return abort(err)
		}
	}

	tracker := presence.New(logger)
	var rt *router.Router

	build := func(s *radio.Session) (radio.Handler, error) {
		mqtt := s.LocalConfig().MQTT
		if cfg.RequireRadioMQTT && (!mqtt.Enabled || !mqtt.ProxyToClient) {
			return nil, errRadioMQTTDisabled
		}
		eff := cfg.WithRadioDefaults(radioMQTT(mqtt))

		pub, err := openPublisher(eff, idgen.ClientName(sessionID, s.GatewayID()), coord, hs, logger)
		if err != nil {
			return nil, err
		}
		rt = router.New(router.Config{
			Resolver:         s.Resolver(),
			Engine:           crypt.NewEngine(s.Resolver(), logger),
			Gate:             router.NewGate(cfg.QuiescenceInterval),
			Publisher:        broker.NewBridgePublisher(pub, eff.TopicBase, logger),
			GatewayID:        s.GatewayID(),
			Policy:           policy,
			PublishDecrypted: cfg.PublishDecrypted,
			Presence:         tracker,
			Logger:           logger,
		})
		logger.Info("serve: bridging",
			"gateway", s.GatewayID(),
			"topic_base", eff.TopicBase,
			"policy", string(policy),
			"quiescence", cfg.QuiescenceInterval,
		)
		return &sessionHandler{Router: rt, health: hs}, nil
	}

	session, err := radio.Establish(ctx, driver, cfg.RadioAddress, radio.Options{
		ConnectDelay:      cfg.RadioConnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DefaultKey:        cfg.DefaultPSK,
		Handler:           build,
		OnLinkFailure: func(error) {
			hs.SetRadio(false)
			coord.Trigger("radio link failure")
		},
		OnConnectionLost: func(error) { hs.SetRadio(false) },
		Logger:           logger,
	})
	if err != nil {
		switch {
		case errors.Is(err, errRadioMQTTDisabled):
			logger.Info("serve: radio is not uplinking, nothing to bridge", "err", err)
			return abort(nil)
		case ctx.Err() != nil:
			logger.Info("serve: interrupted while connecting")
			return abort(nil)
		}
		return abort(err)
	}
	coord.Register("radio", session.Close)

	tracker.StartReaper(&presence.ReaperConfig{
		OnStale: func(node uint32) {
			logger.Debug("serve: node went quiet", "node", radio.GatewayID(node))
		},
	})
	coord.Register("presence", func() error {
		tracker.Stop()
		return nil
	})

	select {
	case <-ctx.Done():
		coord.Trigger("interrupted")
	case <-coord.Exit():
	}
	hs.Shutdown()
	coord.Wait()

	rt.LogStats()
	logger.Info("serve: stopped", "reason", coord.Reason(), "nodes_heard", tracker.Len())
	return nil
}

// openPublisher connects the broker session, or returns a no-op publisher
// in dry-run mode. The broker closing on its own ends the bridge.
func openPublisher(cfg config.Config, clientName string, coord *shutdown.Coordinator, hs *health.Server, logger *slog.Logger) (broker.Publisher, error) {
	if cfg.DryRun {
		logger.Warn("serve: dry run, nothing will be published")
		hs.SetBroker(true)
		return &broker.NoopPublisher{Logger: logger}, nil
	}

	bs, err := broker.Connect(brokerConfig(cfg, clientName), logger)
	if err != nil {
		return nil, err
	}
	coord.Register("broker", bs.Close)
	hs.SetBroker(true)

	go func() {
		select {
		case <-bs.Closed():
			hs.SetBroker(false)
			coord.Trigger("broker connection closed")
		case <-coord.Exit():
		}
	}()
	return bs, nil
}
