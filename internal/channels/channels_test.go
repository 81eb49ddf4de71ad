package channels

import (
	"fmt"
	"testing"
	"time"
)

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		sender    string
		want      bool
	}{
		{"empty list allows all", nil, "u1", true},
		{"exact id", []string{"u1"}, "u1", true},
		{"compound sender id part", []string{"u1"}, "u1|alice", true},
		{"username with at", []string{"@alice"}, "u9|alice", true},
		{"username case-insensitive", []string{"@Alice"}, "u9|alice", true},
		{"compound allowed", []string{"u2|bob"}, "u2", true},
		{"wildcard", []string{"*"}, "anyone", true},
		{"not listed", []string{"u1", "@alice"}, "u2|bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAllowed(tt.allowList, tt.sender); got != tt.want {
				t.Errorf("IsAllowed(%v, %q) = %v, want %v", tt.allowList, tt.sender, got, tt.want)
			}
		})
	}
}

func TestCheckDMPolicy(t *testing.T) {
	allow := []string{"u1"}
	tests := []struct {
		name   string
		policy DMPolicy
		list   []string
		sender string
		paired bool
		want   PolicyDecision
	}{
		{"disabled", DMPolicyDisabled, allow, "u1", true, PolicyDeny},
		{"open", DMPolicyOpen, nil, "u2", false, PolicyAllow},
		{"allowlist hit", DMPolicyAllowlist, allow, "u1", false, PolicyAllow},
		{"allowlist miss", DMPolicyAllowlist, allow, "u2", false, PolicyDeny},
		{"allowlist empty denies", DMPolicyAllowlist, nil, "u2", false, PolicyDeny},
		{"pairing allowlisted", DMPolicyPairing, allow, "u1", false, PolicyAllow},
		{"pairing approved", DMPolicyPairing, nil, "u2", true, PolicyAllow},
		{"pairing unknown", DMPolicyPairing, nil, "u2", false, PolicyPair},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckDMPolicy(tt.policy, tt.list, tt.sender, tt.paired); got != tt.want {
				t.Errorf("CheckDMPolicy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDMPolicy(t *testing.T) {
	for in, want := range map[string]DMPolicy{
		"":           DMPolicyPairing,
		"OPEN":       DMPolicyOpen,
		" allowlist": DMPolicyAllowlist,
		"disabled":   DMPolicyDisabled,
		"bogus":      DMPolicyPairing,
	} {
		if got := ParseDMPolicy(in); got != want {
			t.Errorf("ParseDMPolicy(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSenderRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewSenderRateLimiter(2)
	r.now = func() time.Time { return now }

	if !r.Allow("a") || !r.Allow("a") {
		t.Fatal("first two hits should pass")
	}
	if r.Allow("a") {
		t.Error("third hit in window should be limited")
	}
	if !r.Allow("b") {
		t.Error("other keys have their own budget")
	}

	now = now.Add(61 * time.Second)
	if !r.Allow("a") {
		t.Error("new window should reset the budget")
	}
}

func TestSenderRateLimiterCap(t *testing.T) {
	r := NewSenderRateLimiter(1)
	for i := range maxTrackedSenders + 10 {
		r.Allow(fmt.Sprintf("k%d", i))
	}
	if n := len(r.entries); n > maxTrackedSenders {
		t.Errorf("tracked %d keys, cap is %d", n, maxTrackedSenders)
	}
}

func TestSenderRateLimiterDisabled(t *testing.T) {
	r := NewSenderRateLimiter(-1)
	for range 100 {
		if !r.Allow("a") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}
