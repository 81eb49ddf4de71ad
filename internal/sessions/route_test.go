package sessions

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

func TestResolveRouteDeterministic(t *testing.T) {
	in := RouteInput{Channel: "huddle", AccountID: "default", ChatID: "D-1", SenderID: "U42"}
	a := ResolveRoute(in, nil)
	b := ResolveRoute(in, nil)
	if a != b {
		t.Errorf("routes differ for identical input: %+v vs %+v", a, b)
	}
	if a.MatchedBy != "default" {
		t.Errorf("MatchedBy = %q, want default", a.MatchedBy)
	}
}

func TestResolveRouteDMIsolation(t *testing.T) {
	r1 := ResolveRoute(RouteInput{Channel: "huddle", ChatID: "d1", SenderID: "u1"}, nil)
	r2 := ResolveRoute(RouteInput{Channel: "huddle", ChatID: "d2", SenderID: "u2"}, nil)
	if r1.AgentID == r2.AgentID {
		t.Errorf("distinct DM senders share agent %q", r1.AgentID)
	}
	if r1.SessionKey == r2.SessionKey {
		t.Errorf("distinct DM senders share session %q", r1.SessionKey)
	}

	// same DM channel, different sender IDs (should not happen, but must still isolate)
	r3 := ResolveRoute(RouteInput{Channel: "huddle", ChatID: "d1", SenderID: "u3"}, nil)
	if r3.AgentID == r1.AgentID {
		t.Error("agent must key on sender for DMs")
	}
}

func TestResolveRouteGroupShared(t *testing.T) {
	r1 := ResolveRoute(RouteInput{Channel: "huddle", ChatID: "C7", SenderID: "u1", IsGroup: true}, nil)
	r2 := ResolveRoute(RouteInput{Channel: "huddle", ChatID: "C7", SenderID: "u2", IsGroup: true}, nil)
	if r1.AgentID != r2.AgentID || r1.SessionKey != r2.SessionKey {
		t.Errorf("group members got different routes: %+v vs %+v", r1, r2)
	}
	if !strings.Contains(r1.SessionKey, ":group:") {
		t.Errorf("SessionKey = %q, want group tag", r1.SessionKey)
	}
	if r1.SessionKey != strings.ToLower(r1.SessionKey) {
		t.Errorf("SessionKey = %q is not lower-case", r1.SessionKey)
	}
	if r1.PeerKind != PeerGroup {
		t.Errorf("PeerKind = %q", r1.PeerKind)
	}
}

func TestDeriveAgentIDAccountPrefix(t *testing.T) {
	tests := []struct {
		name      string
		accountID string
		want      string
	}{
		{"default account omitted", "default", "huddle-dm-u1"},
		{"empty account omitted", "", "huddle-dm-u1"},
		{"named account included", "ops", "huddle-ops-dm-u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveAgentID("huddle", tt.accountID, PeerDirect, "u1")
			if got != tt.want {
				t.Errorf("DeriveAgentID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("abc_123"); got != "abc_123" {
		t.Errorf("clean token changed: %q", got)
	}
	if got := SanitizeToken(""); got != "unknown" {
		t.Errorf("empty = %q, want unknown", got)
	}

	// lossy mappings must stay distinct
	inputs := []string{"U42", "u42", "u.42", "u-42", "u 42", "!!!"}
	seen := map[string]string{}
	for _, in := range inputs {
		tok := SanitizeToken(in)
		for _, r := range tok {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
				t.Errorf("SanitizeToken(%q) = %q has invalid rune %q", in, tok, r)
			}
		}
		if prev, dup := seen[tok]; dup {
			t.Errorf("SanitizeToken(%q) collides with %q: %q", in, prev, tok)
		}
		seen[tok] = in
	}

	long := strings.Repeat("x", 100)
	if got := SanitizeToken(long); len(got) > maxTokenLen+9 {
		t.Errorf("long token not truncated: len %d", len(got))
	}
}

func TestResolveRouteBindings(t *testing.T) {
	bindings := []config.AgentBinding{
		{AgentID: "Support", Match: config.BindingMatch{Channel: "huddle"}},
		{AgentID: "ops-bot", Match: config.BindingMatch{Channel: "huddle", AccountID: "ops"}},
		{AgentID: "war-room", Match: config.BindingMatch{Channel: "huddle", Peer: &config.BindingPeer{Kind: "group", ID: "c-incident"}}},
		{AgentID: "other", Match: config.BindingMatch{Channel: "slack"}},
	}

	tests := []struct {
		name      string
		in        RouteInput
		wantAgent string
		wantBy    string
	}{
		{"peer", RouteInput{Channel: "huddle", ChatID: "c-incident", SenderID: "u1", IsGroup: true}, "war-room", "binding.peer"},
		{"account", RouteInput{Channel: "huddle", AccountID: "ops", ChatID: "d1", SenderID: "u1"}, "ops-bot", "binding.account"},
		{"channel", RouteInput{Channel: "huddle", ChatID: "d1", SenderID: "u1"}, "support", "binding.channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ResolveRoute(tt.in, bindings)
			if r.AgentID != tt.wantAgent || r.MatchedBy != tt.wantBy {
				t.Errorf("route = %+v, want agent %q by %q", r, tt.wantAgent, tt.wantBy)
			}
		})
	}

	// a channel-wide binding still isolates DM sessions by chat
	a := ResolveRoute(RouteInput{Channel: "huddle", ChatID: "d1", SenderID: "u1"}, bindings)
	b := ResolveRoute(RouteInput{Channel: "huddle", ChatID: "d2", SenderID: "u2"}, bindings)
	if a.SessionKey == b.SessionKey {
		t.Error("bound DMs share a session key")
	}
}
