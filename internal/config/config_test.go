package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// allEnvVars lists every env var Load reads; cleared between tests.
var allEnvVars = []string{
	"MESHBRIDGE_CONFIG",
	"MESHBRIDGE_RADIO_ADDRESS", "MESHBRIDGE_RADIO_CONNECT_DELAY",
	"MESHBRIDGE_HEARTBEAT_INTERVAL", "MESHBRIDGE_QUIESCENCE_INTERVAL",
	"MESHBRIDGE_REQUIRE_RADIO_MQTT",
	"MESHBRIDGE_BROKER_HOST", "MESHBRIDGE_BROKER_PORT",
	"MESHBRIDGE_BROKER_USERNAME", "MESHBRIDGE_BROKER_PASSWORD",
	"MESHBRIDGE_BROKER_KEEPALIVE", "MESHBRIDGE_BROKER_FROM_RADIO",
	"MESHBRIDGE_TOPIC_BASE",
	"MESHBRIDGE_FILTER_POLICY", "MESHBRIDGE_DEFAULT_PSK",
	"MESHBRIDGE_PUBLISH_DECRYPTED", "MESHBRIDGE_DRY_RUN",
	"MESHBRIDGE_HEALTH_ADDR", "MESHBRIDGE_LOG_LEVEL", "MESHBRIDGE_LOG_FORMAT",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RadioAddress != "localhost:4403" {
		t.Errorf("RadioAddress = %q, want %q", cfg.RadioAddress, "localhost:4403")
	}
	if cfg.HeartbeatInterval != 307*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 307s", cfg.HeartbeatInterval)
	}
	if cfg.QuiescenceInterval != 37*time.Second {
		t.Errorf("QuiescenceInterval = %v, want 37s", cfg.QuiescenceInterval)
	}
	if cfg.RadioConnectDelay != 0 {
		t.Errorf("RadioConnectDelay = %v, want 0", cfg.RadioConnectDelay)
	}
	if cfg.BrokerPort != 4222 {
		t.Errorf("BrokerPort = %d, want 4222", cfg.BrokerPort)
	}
	if cfg.BrokerKeepalive != 60*time.Second {
		t.Errorf("BrokerKeepalive = %v, want 60s", cfg.BrokerKeepalive)
	}
	if cfg.FilterPolicy != "allowlist" {
		t.Errorf("FilterPolicy = %q, want allowlist", cfg.FilterPolicy)
	}
	if !cfg.RequireRadioMQTT {
		t.Error("RequireRadioMQTT = false, want true")
	}
	if cfg.PublishDecrypted || cfg.DryRun {
		t.Error("PublishDecrypted/DryRun should default to false")
	}
	if cfg.DefaultPSK != nil {
		t.Errorf("DefaultPSK = %x, want nil", cfg.DefaultPSK)
	}
	if cfg.BrokerHost != "" || cfg.TopicBase != "" {
		t.Errorf("BrokerHost/TopicBase = %q/%q, want empty until radio defaults", cfg.BrokerHost, cfg.TopicBase)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "auto" {
		t.Errorf("LogLevel/LogFormat = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name      string
		env       map[string]string
		wantErr   bool
		wantRadio string
		wantPort  int
	}{
		{
			name:      "RadioAddressWithoutPort",
			env:       map[string]string{"MESHBRIDGE_RADIO_ADDRESS": "meshtastic.local"},
			wantRadio: "meshtastic.local:4403",
			wantPort:  4222,
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"MESHBRIDGE_RADIO_ADDRESS": "10.0.0.5:4404",
				"MESHBRIDGE_BROKER_PORT":   "14222",
			},
			wantRadio: "10.0.0.5:4404",
			wantPort:  14222,
		},
		{
			name:    "InvalidHeartbeat",
			env:     map[string]string{"MESHBRIDGE_HEARTBEAT_INTERVAL": "often"},
			wantErr: true,
		},
		{
			name:    "ZeroHeartbeat",
			env:     map[string]string{"MESHBRIDGE_HEARTBEAT_INTERVAL": "0s"},
			wantErr: true,
		},
		{
			name:    "NegativeQuiescence",
			env:     map[string]string{"MESHBRIDGE_QUIESCENCE_INTERVAL": "-1s"},
			wantErr: true,
		},
		{
			name:    "PortOutOfRange",
			env:     map[string]string{"MESHBRIDGE_BROKER_PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "PortNotNumber",
			env:     map[string]string{"MESHBRIDGE_BROKER_PORT": "nats"},
			wantErr: true,
		},
		{
			name:    "UnknownPolicy",
			env:     map[string]string{"MESHBRIDGE_FILTER_POLICY": "everything"},
			wantErr: true,
		},
		{
			name:    "BadBool",
			env:     map[string]string{"MESHBRIDGE_DRY_RUN": "maybe"},
			wantErr: true,
		},
		{
			name:    "PSKNotBase64",
			env:     map[string]string{"MESHBRIDGE_DEFAULT_PSK": "not base64!"},
			wantErr: true,
		},
		{
			name:    "PSKWrongLength",
			env:     map[string]string{"MESHBRIDGE_DEFAULT_PSK": "AQID"},
			wantErr: true,
		},
		{
			name:    "UnknownLogFormat",
			env:     map[string]string{"MESHBRIDGE_LOG_FORMAT": "xml"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.RadioAddress != tc.wantRadio {
				t.Errorf("RadioAddress = %q, want %q", cfg.RadioAddress, tc.wantRadio)
			}
			if cfg.BrokerPort != tc.wantPort {
				t.Errorf("BrokerPort = %d, want %d", cfg.BrokerPort, tc.wantPort)
			}
		})
	}
}

func TestLoadCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("MESHBRIDGE_HEARTBEAT_INTERVAL", "1m")
	t.Setenv("MESHBRIDGE_QUIESCENCE_INTERVAL", "0s")
	t.Setenv("MESHBRIDGE_RADIO_CONNECT_DELAY", "10s")
	t.Setenv("MESHBRIDGE_FILTER_POLICY", "bitfield")
	t.Setenv("MESHBRIDGE_PUBLISH_DECRYPTED", "true")
	t.Setenv("MESHBRIDGE_REQUIRE_RADIO_MQTT", "false")
	t.Setenv("MESHBRIDGE_DEFAULT_PSK", "1PG7OiApB1nwvP+rz05pAQ==")
	t.Setenv("MESHBRIDGE_HEALTH_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HeartbeatInterval != time.Minute {
		t.Errorf("HeartbeatInterval = %v, want 1m", cfg.HeartbeatInterval)
	}
	if cfg.QuiescenceInterval != 0 {
		t.Errorf("QuiescenceInterval = %v, want 0", cfg.QuiescenceInterval)
	}
	if cfg.RadioConnectDelay != 10*time.Second {
		t.Errorf("RadioConnectDelay = %v, want 10s", cfg.RadioConnectDelay)
	}
	if cfg.FilterPolicy != "bitfield" {
		t.Errorf("FilterPolicy = %q", cfg.FilterPolicy)
	}
	if !cfg.PublishDecrypted {
		t.Error("PublishDecrypted = false")
	}
	if cfg.RequireRadioMQTT {
		t.Error("RequireRadioMQTT = true")
	}
	want := []byte{0xd4, 0xf1, 0xbb, 0x3a, 0x20, 0x29, 0x07, 0x59, 0xf0, 0xbc, 0xff, 0xab, 0xcf, 0x4e, 0x69, 0x01}
	if !bytes.Equal(cfg.DefaultPSK, want) {
		t.Errorf("DefaultPSK = %x, want %x", cfg.DefaultPSK, want)
	}
	if cfg.HealthAddr != ":9090" {
		t.Errorf("HealthAddr = %q", cfg.HealthAddr)
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshbridge.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("MESHBRIDGE_CONFIG", writeConfigFile(t, `
radio_address = "radio.lan:4403"
heartbeat_interval = "2m"
broker_host = "nats.lan"
broker_port = 4333
topic_base = "msh/EU_868/2/e"
filter_policy = "bitfield"
dry_run = true
require_radio_mqtt = false
`))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RadioAddress != "radio.lan:4403" {
		t.Errorf("RadioAddress = %q", cfg.RadioAddress)
	}
	if cfg.HeartbeatInterval != 2*time.Minute {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
	if cfg.BrokerHost != "nats.lan" || cfg.BrokerPort != 4333 {
		t.Errorf("broker = %s:%d", cfg.BrokerHost, cfg.BrokerPort)
	}
	if cfg.TopicBase != "msh/EU_868/2/e" {
		t.Errorf("TopicBase = %q", cfg.TopicBase)
	}
	if cfg.FilterPolicy != "bitfield" || !cfg.DryRun || cfg.RequireRadioMQTT {
		t.Errorf("policy/dry-run/require = %q/%v/%v", cfg.FilterPolicy, cfg.DryRun, cfg.RequireRadioMQTT)
	}
	// Unset file keys keep their defaults.
	if cfg.QuiescenceInterval != 37*time.Second {
		t.Errorf("QuiescenceInterval = %v, want 37s", cfg.QuiescenceInterval)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("MESHBRIDGE_CONFIG", writeConfigFile(t, `
broker_host = "nats.lan"
broker_port = 4333
dry_run = true
`))
	t.Setenv("MESHBRIDGE_BROKER_HOST", "nats.override")
	t.Setenv("MESHBRIDGE_BROKER_PORT", "4444")
	t.Setenv("MESHBRIDGE_DRY_RUN", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BrokerHost != "nats.override" || cfg.BrokerPort != 4444 {
		t.Errorf("broker = %s:%d, want nats.override:4444", cfg.BrokerHost, cfg.BrokerPort)
	}
	if cfg.DryRun {
		t.Error("DryRun = true, want env override to false")
	}
}

func TestLoadFileErrors(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("MESHBRIDGE_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}

	t.Setenv("MESHBRIDGE_CONFIG", writeConfigFile(t, `broker_port = "not a number"`))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestWithRadioDefaults(t *testing.T) {
	radio := RadioMQTT{
		Address:  "mqtt.meshtastic.org:1883",
		Username: "meshdev",
		Password: "large4cats",
		Root:     "msh/US",
	}

	for _, tc := range []struct {
		name      string
		cfg       Config
		mqtt      RadioMQTT
		wantHost  string
		wantUser  string
		wantTopic string
	}{
		{"TopicOnlyFromRadio", Config{}, radio, "localhost", "", "msh/US/2/e"},
		{"OptInTakesServer", Config{BrokerFromRadio: true}, radio, "mqtt.meshtastic.org", "meshdev", "msh/US/2/e"},
		{"NothingFromRadio", Config{}, RadioMQTT{}, "localhost", "", "msh/2/e"},
		{"OptInNothingFromRadio", Config{BrokerFromRadio: true}, RadioMQTT{}, "localhost", "", "msh/2/e"},
		{"RootTrailingSlash", Config{}, RadioMQTT{Root: "msh/EU_868/"}, "localhost", "", "msh/EU_868/2/e"},
		{
			"ExplicitWins",
			Config{BrokerHost: "nats.lan", BrokerUsername: "bridge", TopicBase: "custom/base", BrokerFromRadio: true},
			radio, "nats.lan", "bridge", "custom/base",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.cfg.WithRadioDefaults(tc.mqtt)
			if got.BrokerHost != tc.wantHost {
				t.Errorf("BrokerHost = %q, want %q", got.BrokerHost, tc.wantHost)
			}
			if got.BrokerUsername != tc.wantUser {
				t.Errorf("BrokerUsername = %q, want %q", got.BrokerUsername, tc.wantUser)
			}
			if got.TopicBase != tc.wantTopic {
				t.Errorf("TopicBase = %q, want %q", got.TopicBase, tc.wantTopic)
			}
			if !tc.cfg.BrokerFromRadio && got.BrokerPassword != "" {
				t.Errorf("BrokerPassword = %q, radio credentials leaked", got.BrokerPassword)
			}
		})
	}
}

func TestLoad_RadioServerNotUsedByDefault(t *testing.T) {
	clearAllEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BrokerFromRadio {
		t.Error("BrokerFromRadio should default to false")
	}
	eff := cfg.WithRadioDefaults(RadioMQTT{Address: "mqtt.meshtastic.org", Username: "meshdev", Password: "large4cats", Root: "msh/US"})
	if eff.BrokerHost != "localhost" || eff.BrokerPort != 4222 {
		t.Errorf("broker = %s:%d, want localhost:4222", eff.BrokerHost, eff.BrokerPort)
	}
	if eff.BrokerUsername != "" || eff.BrokerPassword != "" {
		t.Errorf("credentials = %q/%q, want none", eff.BrokerUsername, eff.BrokerPassword)
	}
	if eff.TopicBase != "msh/US/2/e" {
		t.Errorf("TopicBase = %q, want msh/US/2/e", eff.TopicBase)
	}

	t.Setenv("MESHBRIDGE_BROKER_FROM_RADIO", "true")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.BrokerFromRadio {
		t.Error("MESHBRIDGE_BROKER_FROM_RADIO=true not applied")
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
