package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ConfigFile string // MESHBRIDGE_CONFIG (optional TOML file; env vars override it)

	// Radio settings
	RadioAddress       string        // MESHBRIDGE_RADIO_ADDRESS (default "localhost:4403")
	RadioConnectDelay  time.Duration // MESHBRIDGE_RADIO_CONNECT_DELAY (default 0s)
	HeartbeatInterval  time.Duration // MESHBRIDGE_HEARTBEAT_INTERVAL (default 307s)
	QuiescenceInterval time.Duration // MESHBRIDGE_QUIESCENCE_INTERVAL (default 37s)
	RequireRadioMQTT   bool          // MESHBRIDGE_REQUIRE_RADIO_MQTT (default true)

	// Broker settings. An empty topic base follows the radio's MQTT root;
	// host and credentials only do with BrokerFromRadio, see
	// WithRadioDefaults.
	BrokerHost      string        // MESHBRIDGE_BROKER_HOST (default "localhost")
	BrokerPort      int           // MESHBRIDGE_BROKER_PORT (default 4222)
	BrokerUsername  string        // MESHBRIDGE_BROKER_USERNAME
	BrokerPassword  string        // MESHBRIDGE_BROKER_PASSWORD
	BrokerKeepalive time.Duration // MESHBRIDGE_BROKER_KEEPALIVE (default 60s)
	BrokerFromRadio bool          // MESHBRIDGE_BROKER_FROM_RADIO (default false; take host and credentials from the radio's MQTT module)
	TopicBase       string        // MESHBRIDGE_TOPIC_BASE

	// Routing
	FilterPolicy     string // MESHBRIDGE_FILTER_POLICY ("allowlist" or "bitfield", default "allowlist")
	DefaultPSK       []byte // MESHBRIDGE_DEFAULT_PSK (base64, 16 or 32 bytes; empty = built-in key)
	PublishDecrypted bool   // MESHBRIDGE_PUBLISH_DECRYPTED (default false)
	DryRun           bool   // MESHBRIDGE_DRY_RUN (default false; log instead of publishing)

	HealthAddr string // MESHBRIDGE_HEALTH_ADDR (optional, empty = no health server)
	LogLevel   string // MESHBRIDGE_LOG_LEVEL (default "info")
	LogFormat  string // MESHBRIDGE_LOG_FORMAT ("auto", "text" or "json"; default "auto")
}

// fileConfig is the TOML layout. Durations are Go duration strings.
type fileConfig struct {
	RadioAddress       string `toml:"radio_address"`
	RadioConnectDelay  string `toml:"radio_connect_delay"`
	HeartbeatInterval  string `toml:"heartbeat_interval"`
	QuiescenceInterval string `toml:"quiescence_interval"`
	RequireRadioMQTT   *bool  `toml:"require_radio_mqtt"`

	BrokerHost      string `toml:"broker_host"`
	BrokerPort      int    `toml:"broker_port"`
	BrokerUsername  string `toml:"broker_username"`
	BrokerPassword  string `toml:"broker_password"`
	BrokerKeepalive string `toml:"broker_keepalive"`
	BrokerFromRadio *bool  `toml:"broker_from_radio"`
	TopicBase       string `toml:"topic_base"`

	FilterPolicy     string `toml:"filter_policy"`
	DefaultPSK       string `toml:"default_psk"`
	PublishDecrypted *bool  `toml:"publish_decrypted"`
	DryRun           *bool  `toml:"dry_run"`

	HealthAddr string `toml:"health_addr"`
	LogLevel   string `toml:"log_level"`
	LogFormat  string `toml:"log_format"`
}

// DefaultRadioPort is the Meshtastic stream API port.
const DefaultRadioPort = "4403"

func Load() (*Config, error) {
	var f fileConfig
	path := os.Getenv("MESHBRIDGE_CONFIG")
	if path != "" {
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("MESHBRIDGE_CONFIG: %w", err)
		}
	}

	c := &Config{
		ConfigFile:     path,
		RadioAddress:   envOrDefault("MESHBRIDGE_RADIO_ADDRESS", orDefault(f.RadioAddress, "localhost:"+DefaultRadioPort)),
		BrokerHost:     envOrDefault("MESHBRIDGE_BROKER_HOST", f.BrokerHost),
		BrokerUsername: envOrDefault("MESHBRIDGE_BROKER_USERNAME", f.BrokerUsername),
		BrokerPassword: envOrDefault("MESHBRIDGE_BROKER_PASSWORD", f.BrokerPassword),
		TopicBase:      envOrDefault("MESHBRIDGE_TOPIC_BASE", f.TopicBase),
		FilterPolicy:   envOrDefault("MESHBRIDGE_FILTER_POLICY", orDefault(f.FilterPolicy, "allowlist")),
		HealthAddr:     envOrDefault("MESHBRIDGE_HEALTH_ADDR", f.HealthAddr),
		LogLevel:       envOrDefault("MESHBRIDGE_LOG_LEVEL", orDefault(f.LogLevel, "info")),
		LogFormat:      envOrDefault("MESHBRIDGE_LOG_FORMAT", orDefault(f.LogFormat, "auto")),
	}
	if _, _, err := net.SplitHostPort(c.RadioAddress); err != nil {
		c.RadioAddress = net.JoinHostPort(c.RadioAddress, DefaultRadioPort)
	}

	for _, d := range []struct {
		key      string
		file     string
		fallback string
		dst      *time.Duration
	}{
		{"MESHBRIDGE_RADIO_CONNECT_DELAY", f.RadioConnectDelay, "0s", &c.RadioConnectDelay},
		{"MESHBRIDGE_HEARTBEAT_INTERVAL", f.HeartbeatInterval, "307s", &c.HeartbeatInterval},
		{"MESHBRIDGE_QUIESCENCE_INTERVAL", f.QuiescenceInterval, "37s", &c.QuiescenceInterval},
		{"MESHBRIDGE_BROKER_KEEPALIVE", f.BrokerKeepalive, "60s", &c.BrokerKeepalive},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, orDefault(d.file, d.fallback)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	for _, b := range []struct {
		key      string
		file     *bool
		fallback bool
		dst      *bool
	}{
		{"MESHBRIDGE_REQUIRE_RADIO_MQTT", f.RequireRadioMQTT, true, &c.RequireRadioMQTT},
		{"MESHBRIDGE_BROKER_FROM_RADIO", f.BrokerFromRadio, false, &c.BrokerFromRadio},
		{"MESHBRIDGE_PUBLISH_DECRYPTED", f.PublishDecrypted, false, &c.PublishDecrypted},
		{"MESHBRIDGE_DRY_RUN", f.DryRun, false, &c.DryRun},
	} {
		v := b.fallback
		if b.file != nil {
			v = *b.file
		}
		if s := os.Getenv(b.key); s != "" {
			parsed, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.key, err)
			}
			v = parsed
		}
		*b.dst = v
	}

	portStr := os.Getenv("MESHBRIDGE_BROKER_PORT")
	switch {
	case portStr != "":
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("MESHBRIDGE_BROKER_PORT: %w", err)
		}
		c.BrokerPort = p
	case f.BrokerPort != 0:
		c.BrokerPort = f.BrokerPort
	default:
		c.BrokerPort = 4222
	}

	if psk := envOrDefault("MESHBRIDGE_DEFAULT_PSK", f.DefaultPSK); psk != "" {
		key, err := base64.StdEncoding.DecodeString(psk)
		if err != nil {
			return nil, fmt.Errorf("MESHBRIDGE_DEFAULT_PSK: %w", err)
		}
		c.DefaultPSK = key
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks value ranges. Load calls it.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("MESHBRIDGE_HEARTBEAT_INTERVAL must be positive, got %v", c.HeartbeatInterval)
	}
	if c.QuiescenceInterval < 0 {
		return fmt.Errorf("MESHBRIDGE_QUIESCENCE_INTERVAL must not be negative, got %v", c.QuiescenceInterval)
	}
	if c.RadioConnectDelay < 0 {
		return fmt.Errorf("MESHBRIDGE_RADIO_CONNECT_DELAY must not be negative, got %v", c.RadioConnectDelay)
	}
	if c.BrokerKeepalive <= 0 {
		return fmt.Errorf("MESHBRIDGE_BROKER_KEEPALIVE must be positive, got %v", c.BrokerKeepalive)
	}
	if c.BrokerPort < 1 || c.BrokerPort > 65535 {
		return fmt.Errorf("MESHBRIDGE_BROKER_PORT out of range: %d", c.BrokerPort)
	}
	switch c.FilterPolicy {
	case "allowlist", "bitfield":
	default:
		return fmt.Errorf("MESHBRIDGE_FILTER_POLICY: unknown policy %q", c.FilterPolicy)
	}
	if n := len(c.DefaultPSK); n != 0 && n != 16 && n != 32 {
		return fmt.Errorf("MESHBRIDGE_DEFAULT_PSK must decode to 16 or 32 bytes, got %d", n)
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("MESHBRIDGE_LOG_FORMAT: unknown format %q", c.LogFormat)
	}
	return nil
}

// RadioMQTT is the part of the radio's MQTT module config that supplies
// broker defaults.
type RadioMQTT struct {
	Address  string
	Username string
	Password string
	Root     string
}

// WithRadioDefaults returns a copy of c with unset broker settings filled
// in. The topic base follows the radio's MQTT root. The radio's MQTT server
// speaks MQTT, not NATS, so its host and credentials are only used when
// BrokerFromRadio is set; otherwise the host defaults to localhost. The
// radio address may carry an MQTT port, which is dropped: the bridge talks
// NATS on BrokerPort.
func (c Config) WithRadioDefaults(m RadioMQTT) Config {
	if c.BrokerHost == "" {
		host := ""
		if c.BrokerFromRadio {
			host = m.Address
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
		}
		c.BrokerHost = orDefault(host, "localhost")
	}
	if c.BrokerFromRadio && c.BrokerUsername == "" && c.BrokerPassword == "" {
		c.BrokerUsername = m.Username
		c.BrokerPassword = m.Password
	}
	if c.TopicBase == "" {
		root := strings.TrimRight(m.Root, "/")
		c.TopicBase = orDefault(root, "msh") + "/2/e"
	}
	return c
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
