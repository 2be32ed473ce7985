package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alfredjeanlab/meshbridge/internal/broker"
	"github.com/alfredjeanlab/meshbridge/internal/config"
	"github.com/alfredjeanlab/meshbridge/internal/logging"
	"github.com/alfredjeanlab/meshbridge/internal/radio"
)

// loadConfig reads configuration and builds the stderr logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func radioMQTT(s radio.MQTTSettings) config.RadioMQTT {
	return config.RadioMQTT{
		Address:  s.Address,
		Username: s.Username,
		Password: s.Password,
		Root:     s.Root,
	}
}

func brokerConfig(cfg config.Config, clientName string) broker.Config {
	return broker.Config{
		Host:      cfg.BrokerHost,
		Port:      cfg.BrokerPort,
		Username:  cfg.BrokerUsername,
		Password:  cfg.BrokerPassword,
		Keepalive: cfg.BrokerKeepalive,
		Name:      clientName,
	}
}
