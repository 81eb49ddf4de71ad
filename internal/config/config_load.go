package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Mode:       "http",
			TimeoutSec: 300,
		},
		Channels: ChannelsConfig{
			Huddle: HuddleConfig{
				DMPolicy:          "pairing",
				InboundDebounceMs: 1000,
				TextChunkLimit:    4000,
				Watchdog: WatchdogConfig{
					IntervalSec:      60,
					FailureThreshold: 3,
					StaleAfterSec:    180,
				},
			},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Pairing: PairingConfig{
			StorePath: "~/.huddleclaw/pairing.db",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. The Huddle token is not overlaid here:
// account resolution reads HUDDLECLAW_HUDDLE_TOKEN itself so it can record the token source
// and apply it to the default account only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("HUDDLECLAW_HUDDLE_BASE_URL", &c.Channels.Huddle.BaseURL)
	envStr("HUDDLECLAW_HUDDLE_TRANSPORT_URL", &c.Channels.Huddle.TransportURL)
	envStr("HUDDLECLAW_HUDDLE_DM_POLICY", &c.Channels.Huddle.DMPolicy)

	// Auto-enable the channel if credentials are provided via env
	if os.Getenv(EnvHuddleToken) != "" {
		c.Channels.Huddle.Enabled = true
	}

	envStr("HUDDLECLAW_AGENT_MODE", &c.Agent.Mode)
	envStr("HUDDLECLAW_AGENT_URL", &c.Agent.URL)
	envStr("HUDDLECLAW_AGENT_TOKEN", &c.Agent.Token)

	envStr("HUDDLECLAW_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("HUDDLECLAW_HOST", &c.Gateway.Host)
	if v := os.Getenv("HUDDLECLAW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("HUDDLECLAW_PAIRING_STORE", &c.Pairing.StorePath)

	// Telemetry
	envStr("HUDDLECLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("HUDDLECLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("HUDDLECLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("HUDDLECLAW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("HUDDLECLAW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// EnvHuddleToken is the environment variable holding the default account's bot token.
const EnvHuddleToken = "HUDDLECLAW_HUDDLE_TOKEN"

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by the status command so tokens never reach the terminal.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Agent.Token)
	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.Channels.Huddle.Token)
	for _, acc := range cp.Channels.Huddle.Accounts {
		if acc != nil {
			maskNonEmpty(&acc.Token)
		}
	}
	for k := range cp.Telemetry.Headers {
		v := cp.Telemetry.Headers[k]
		maskNonEmpty(&v)
		cp.Telemetry.Headers[k] = v
	}
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
