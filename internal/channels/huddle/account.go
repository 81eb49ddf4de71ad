// Package huddle connects bot accounts to the Huddle team-messaging service: per-account
// connection supervision, inbound debouncing, mention gating, routing and reply delivery.
package huddle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"os"
	"strings"

	"github.com/nextlevelbuilder/huddleclaw/internal/channels"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

const channelName = "huddle"

// TokenSource records where an account's token came from.
type TokenSource string

const (
	TokenSourceEnv    TokenSource = "env"
	TokenSourceConfig TokenSource = "config"
	TokenSourceNone   TokenSource = "none"
)

// Account is an immutable snapshot of one bot account, resolved from config and
// environment at connection time.
type Account struct {
	ID           string
	Name         string
	Enabled      bool
	BaseURL      string
	TransportURL string
	Token        string
	TokenSource  TokenSource

	DMPolicy        channels.DMPolicy
	AllowFrom       []string
	MentionPatterns []string

	requireMention *bool
	groups         map[string]*config.HuddleGroupConfig // account-level
	globalGroups   map[string]*config.HuddleGroupConfig // top-level
}

// EnvLookup reads an environment variable. Tests inject a map-backed lookup.
type EnvLookup func(string) string

// ResolveAccount builds the account snapshot for accountID. Account entries inherit
// unset fields from the top-level Huddle config. The HUDDLECLAW_HUDDLE_TOKEN variable
// takes priority over config, for the default account only.
func ResolveAccount(cfg config.HuddleConfig, accountID string, getenv EnvLookup) Account {
	if getenv == nil {
		getenv = os.Getenv
	}
	if accountID == "" {
		accountID = defaultAccountID(cfg)
	}

	acct := Account{
		ID:              accountID,
		Name:            cfg.Name,
		Enabled:         cfg.Enabled,
		BaseURL:         cfg.BaseURL,
		TransportURL:    cfg.TransportURL,
		Token:           cfg.Token,
		AllowFrom:       cfg.AllowFrom,
		MentionPatterns: cfg.MentionPatterns,
		requireMention:  cfg.RequireMention,
		globalGroups:    cfg.Groups,
	}
	dmPolicy := cfg.DMPolicy

	if ac, ok := cfg.Accounts[accountID]; ok && ac != nil {
		if ac.Enabled != nil {
			acct.Enabled = cfg.Enabled && *ac.Enabled
		}
		if ac.Name != "" {
			acct.Name = ac.Name
		}
		if ac.BaseURL != "" {
			acct.BaseURL = ac.BaseURL
		}
		if ac.TransportURL != "" {
			acct.TransportURL = ac.TransportURL
		}
		acct.Token = ac.Token
		if ac.DMPolicy != "" {
			dmPolicy = ac.DMPolicy
		}
		if len(ac.AllowFrom) > 0 {
			acct.AllowFrom = ac.AllowFrom
		}
		if len(ac.MentionPatterns) > 0 {
			acct.MentionPatterns = ac.MentionPatterns
		}
		if ac.RequireMention != nil {
			acct.requireMention = ac.RequireMention
		}
		acct.groups = ac.Groups
	} else if len(cfg.Accounts) > 0 && accountID != config.DefaultAccountID {
		// unknown account
		acct.Enabled = false
		acct.Token = ""
	}

	acct.TokenSource = TokenSourceNone
	if acct.Token != "" {
		acct.TokenSource = TokenSourceConfig
	}
	if accountID == config.DefaultAccountID {
		if tok := strings.TrimSpace(getenv(config.EnvHuddleToken)); tok != "" {
			acct.Token = tok
			acct.TokenSource = TokenSourceEnv
		}
	}

	acct.BaseURL = strings.TrimRight(acct.BaseURL, "/")
	if acct.TransportURL == "" {
		acct.TransportURL = DeriveTransportURL(acct.BaseURL)
	}
	acct.DMPolicy = channels.ParseDMPolicy(dmPolicy)
	return acct
}

func defaultAccountID(cfg config.HuddleConfig) string {
	if cfg.DefaultAccount != "" {
		return cfg.DefaultAccount
	}
	return cfg.AccountIDs()[0]
}

// DeriveTransportURL maps the REST base URL onto the realtime endpoint:
// https://host/api → wss://host/api/realtime.
func DeriveTransportURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	return u.String()
}

// Configured reports whether the account has enough settings to connect.
func (a Account) Configured() bool {
	return a.Token != "" && a.BaseURL != ""
}

// Validate returns a ConfigurationError describing the first missing setting.
func (a Account) Validate() error {
	switch {
	case a.Token == "":
		return &protocol.ConfigurationError{AccountID: a.ID, Field: "token", Reason: "no bot token in config or " + config.EnvHuddleToken}
	case a.BaseURL == "":
		return &protocol.ConfigurationError{AccountID: a.ID, Field: "base_url", Reason: "required"}
	case a.TransportURL == "":
		return &protocol.ConfigurationError{AccountID: a.ID, Field: "transport_url", Reason: "cannot derive from base_url"}
	}
	return nil
}

// RequireMention resolves the mention requirement for a group channel:
// account channel entry, global channel entry, account "*", global "*",
// account default, global default, then true.
func (a Account) RequireMention(channelID string) bool {
	for _, groups := range []map[string]*config.HuddleGroupConfig{a.groups, a.globalGroups} {
		if g, ok := groups[channelID]; ok && g != nil && g.RequireMention != nil {
			return *g.RequireMention
		}
	}
	for _, groups := range []map[string]*config.HuddleGroupConfig{a.groups, a.globalGroups} {
		if g, ok := groups["*"]; ok && g != nil && g.RequireMention != nil {
			return *g.RequireMention
		}
	}
	if a.requireMention != nil {
		return *a.requireMention
	}
	return true
}

// Fingerprint summarizes every field that requires a rebuild when it changes.
func (a Account) Fingerprint() string {
	data, _ := json.Marshal(struct {
		Enabled                    bool
		BaseURL, TransportURL, Tok string
		DMPolicy                   channels.DMPolicy
		AllowFrom, MentionPatterns []string
		RequireMention             *bool
		Groups, GlobalGroups       map[string]*config.HuddleGroupConfig
	}{a.Enabled, a.BaseURL, a.TransportURL, a.Token, a.DMPolicy, a.AllowFrom, a.MentionPatterns, a.requireMention, a.groups, a.globalGroups})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
