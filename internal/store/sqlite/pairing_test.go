package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/huddleclaw/internal/store"
)

func openTestStore(t *testing.T) *PairingStore {
	t.Helper()
	s, err := OpenPairingStore(filepath.Join(t.TempDir(), "pairing.db"))
	if err != nil {
		t.Fatalf("OpenPairingStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPairingFlow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	req := store.PairingRequest{Channel: "huddle", AccountID: "default", SenderID: "u1", SenderName: "alice", ChatID: "d1"}

	code, err := s.RequestPairing(ctx, req)
	if err != nil {
		t.Fatalf("RequestPairing: %v", err)
	}
	if len(code) != 8 {
		t.Errorf("code = %q, want 8 chars", code)
	}

	again, err := s.RequestPairing(ctx, req)
	if err != nil || again != code {
		t.Errorf("repeat request = %q, %v; want existing code %q", again, err, code)
	}

	pending, err := s.ListPending(ctx)
	if err != nil || len(pending) != 1 || pending[0].SenderName != "alice" {
		t.Fatalf("ListPending = %+v, %v", pending, err)
	}

	paired, _ := s.IsPaired(ctx, "huddle", "default", "u1")
	if paired {
		t.Fatal("sender paired before approval")
	}

	p, err := s.Approve(ctx, code)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if p.SenderID != "u1" || p.AccountID != "default" {
		t.Errorf("approved = %+v", p)
	}
	if paired, _ := s.IsPaired(ctx, "huddle", "default", "u1"); !paired {
		t.Error("sender not paired after approval")
	}
	if paired, _ := s.IsPaired(ctx, "huddle", "other", "u1"); paired {
		t.Error("pairing must be scoped to the account")
	}
	if pending, _ := s.ListPending(ctx); len(pending) != 0 {
		t.Errorf("pending after approval = %d", len(pending))
	}

	ok, err := s.Revoke(ctx, "huddle", "default", "u1")
	if err != nil || !ok {
		t.Fatalf("Revoke = %v, %v", ok, err)
	}
	if paired, _ := s.IsPaired(ctx, "huddle", "default", "u1"); paired {
		t.Error("sender still paired after revoke")
	}
}

func TestPairingApproveUnknownOrExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Approve(ctx, "NOPE1234"); !errors.Is(err, store.ErrPairingNotFound) {
		t.Errorf("unknown code err = %v", err)
	}

	code, err := s.RequestPairing(ctx, store.PairingRequest{Channel: "huddle", AccountID: "default", SenderID: "u2"})
	if err != nil {
		t.Fatalf("RequestPairing: %v", err)
	}
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.Approve(ctx, code); !errors.Is(err, store.ErrPairingNotFound) {
		t.Errorf("expired code err = %v", err)
	}
}

func TestPairingApproveIsCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	code, _ := s.RequestPairing(ctx, store.PairingRequest{Channel: "huddle", AccountID: "default", SenderID: "u3"})

	lower := []byte(code)
	for i, c := range lower {
		if c >= 'A' && c <= 'Z' {
			lower[i] = c + 32
		}
	}
	if _, err := s.Approve(ctx, " "+string(lower)+" "); err != nil {
		t.Fatalf("Approve lower-case code: %v", err)
	}
	list, _ := s.ListPaired(ctx)
	if len(list) != 1 || list[0].SenderID != "u3" {
		t.Errorf("ListPaired = %+v", list)
	}
}
