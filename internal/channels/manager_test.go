package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
)

type stubChannel struct {
	*BaseChannel
	startErr error
	sent     []bus.OutboundMessage
}

func newStubChannel(name string, startErr error) *stubChannel {
	return &stubChannel{BaseChannel: NewBaseChannel(name), startErr: startErr}
}

func (s *stubChannel) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.SetRunning(true)
	return nil
}

func (s *stubChannel) Stop(context.Context) error {
	s.SetRunning(false)
	return nil
}

func (s *stubChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	s.sent = append(s.sent, msg)
	return nil
}

type stubStatusChannel struct {
	*stubChannel
}

func (s stubStatusChannel) Status(context.Context) []AccountStatus {
	return []AccountStatus{{AccountID: "default", Connected: s.IsRunning()}}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	ok := newStubChannel("huddle", nil)
	broken := newStubChannel("other", errors.New("bad token"))
	m.RegisterChannel("huddle", stubStatusChannel{ok})
	m.RegisterChannel("other", broken)

	if got := m.GetEnabledChannels(); len(got) != 2 || got[0] != "huddle" || got[1] != "other" {
		t.Errorf("GetEnabledChannels = %v", got)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if !ok.IsRunning() || broken.IsRunning() {
		t.Errorf("running = %v/%v, want true/false", ok.IsRunning(), broken.IsRunning())
	}

	status := m.GetStatus(context.Background())
	entry, _ := status["huddle"].(map[string]interface{})
	accounts, _ := entry["accounts"].([]AccountStatus)
	if len(accounts) != 1 || !accounts[0].Connected {
		t.Errorf("huddle status = %+v", entry)
	}
	if _, hasAccounts := status["other"].(map[string]interface{})["accounts"]; hasAccounts {
		t.Error("plain channel should not report accounts")
	}

	m.StopAll(context.Background())
	if ok.IsRunning() {
		t.Error("channel still running after StopAll")
	}
}

func TestManagerStartAllFailsWhenNothingStarts(t *testing.T) {
	m := NewManager()
	m.RegisterChannel("huddle", newStubChannel("huddle", errors.New("down")))
	if err := m.StartAll(context.Background()); err == nil {
		t.Fatal("StartAll succeeded with no running channel")
	}
	if err := NewManager().StartAll(context.Background()); err != nil {
		t.Errorf("empty manager: %v", err)
	}
}

func TestManagerSend(t *testing.T) {
	m := NewManager()
	ch := newStubChannel("huddle", nil)
	m.RegisterChannel("huddle", ch)

	if err := m.Send(context.Background(), bus.OutboundMessage{Channel: "huddle", ChatID: "c1", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ch.sent) != 1 || ch.sent[0].ChatID != "c1" {
		t.Errorf("sent = %+v", ch.sent)
	}
	if err := m.Send(context.Background(), bus.OutboundMessage{Channel: "nope"}); err == nil {
		t.Error("Send to unknown channel succeeded")
	}
}
