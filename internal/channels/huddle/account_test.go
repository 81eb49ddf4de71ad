package huddle

import (
	"testing"

	"github.com/nextlevelbuilder/huddleclaw/internal/channels"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

func boolPtr(v bool) *bool { return &v }

func envMap(m map[string]string) EnvLookup {
	return func(k string) string { return m[k] }
}

func TestResolveAccountDefaults(t *testing.T) {
	cfg := config.HuddleConfig{Enabled: true, BaseURL: "https://chat.example.com/api/", Token: "tok"}
	acct := ResolveAccount(cfg, "", noEnv)

	if acct.ID != config.DefaultAccountID {
		t.Errorf("ID = %q", acct.ID)
	}
	if acct.BaseURL != "https://chat.example.com/api" {
		t.Errorf("BaseURL = %q", acct.BaseURL)
	}
	if acct.TransportURL != "wss://chat.example.com/api/realtime" {
		t.Errorf("TransportURL = %q", acct.TransportURL)
	}
	if acct.TokenSource != TokenSourceConfig || acct.DMPolicy != channels.DMPolicyPairing {
		t.Errorf("token source = %s, dm policy = %s", acct.TokenSource, acct.DMPolicy)
	}
	if err := acct.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestResolveAccountEnvToken(t *testing.T) {
	cfg := config.HuddleConfig{
		Enabled: true,
		BaseURL: "https://chat.example.com/api",
		Token:   "from-config",
		Accounts: map[string]*config.HuddleAccountConfig{
			config.DefaultAccountID: {},
			"ops":                   {Token: "ops-token"},
		},
	}
	env := envMap(map[string]string{config.EnvHuddleToken: " from-env "})

	def := ResolveAccount(cfg, config.DefaultAccountID, env)
	if def.Token != "from-env" || def.TokenSource != TokenSourceEnv {
		t.Errorf("default account token = %q (%s)", def.Token, def.TokenSource)
	}
	ops := ResolveAccount(cfg, "ops", env)
	if ops.Token != "ops-token" || ops.TokenSource != TokenSourceConfig {
		t.Errorf("named account token = %q (%s), env applies to default only", ops.Token, ops.TokenSource)
	}
	unknown := ResolveAccount(cfg, "ghost", env)
	if unknown.Enabled || unknown.Configured() {
		t.Errorf("unknown account should be disabled: %+v", unknown)
	}
}

func TestResolveAccountOverrides(t *testing.T) {
	cfg := config.HuddleConfig{
		Enabled:  true,
		BaseURL:  "https://chat.example.com/api",
		DMPolicy: "open",
		Accounts: map[string]*config.HuddleAccountConfig{
			"ops": {
				Token:        "t",
				Enabled:      boolPtr(false),
				BaseURL:      "http://10.0.0.5:8080",
				DMPolicy:     "allowlist",
				AllowFrom:    []string{"u1"},
				TransportURL: "ws://10.0.0.5:9000/socket",
			},
		},
	}
	acct := ResolveAccount(cfg, "ops", noEnv)
	if acct.Enabled {
		t.Error("account-level enabled=false ignored")
	}
	if acct.BaseURL != "http://10.0.0.5:8080" || acct.TransportURL != "ws://10.0.0.5:9000/socket" {
		t.Errorf("urls = %s %s", acct.BaseURL, acct.TransportURL)
	}
	if acct.DMPolicy != channels.DMPolicyAllowlist || len(acct.AllowFrom) != 1 {
		t.Errorf("policy = %s allow = %v", acct.DMPolicy, acct.AllowFrom)
	}
}

func TestValidateMissingFields(t *testing.T) {
	tests := []struct {
		name string
		acct Account
	}{
		{"token", Account{ID: "a", BaseURL: "https://x", TransportURL: "wss://x/realtime"}},
		{"base_url", Account{ID: "a", Token: "t"}},
		{"transport_url", Account{ID: "a", Token: "t", BaseURL: "https://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.acct.Validate(); err == nil {
				t.Error("expected a configuration error")
			}
		})
	}
}

func TestRequireMentionResolution(t *testing.T) {
	cfg := config.HuddleConfig{
		Enabled:        true,
		BaseURL:        "https://chat.example.com/api",
		RequireMention: boolPtr(false),
		Groups: map[string]*config.HuddleGroupConfig{
			"g-global": {RequireMention: boolPtr(true)},
		},
		Accounts: map[string]*config.HuddleAccountConfig{
			"a": {
				Token: "t",
				Groups: map[string]*config.HuddleGroupConfig{
					"g-acct": {RequireMention: boolPtr(false)},
					"*":      {RequireMention: boolPtr(true)},
				},
			},
			"b": {Token: "t"},
		},
	}
	a := ResolveAccount(cfg, "a", noEnv)
	b := ResolveAccount(cfg, "b", noEnv)

	tests := []struct {
		name    string
		acct    Account
		channel string
		want    bool
	}{
		{"account channel entry", a, "g-acct", false},
		{"global channel entry", a, "g-global", true},
		{"account wildcard", a, "g-other", true},
		{"global default", b, "g-other", false},
		{"built-in default", Account{}, "g", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.acct.RequireMention(tt.channel); got != tt.want {
				t.Errorf("RequireMention(%s) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestDeriveTransportURL(t *testing.T) {
	tests := map[string]string{
		"https://chat.example.com/api": "wss://chat.example.com/api/realtime",
		"http://localhost:8080":        "ws://localhost:8080/realtime",
		"":                             "",
	}
	for in, want := range tests {
		if got := DeriveTransportURL(in); got != want {
			t.Errorf("DeriveTransportURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFingerprintChangesWithSettings(t *testing.T) {
	cfg := config.HuddleConfig{Enabled: true, BaseURL: "https://chat.example.com/api", Token: "a"}
	before := ResolveAccount(cfg, "", noEnv).Fingerprint()
	if again := ResolveAccount(cfg, "", noEnv).Fingerprint(); again != before {
		t.Error("fingerprint not stable")
	}
	cfg.Token = "b"
	if after := ResolveAccount(cfg, "", noEnv).Fingerprint(); after == before {
		t.Error("token change not reflected in fingerprint")
	}
}
