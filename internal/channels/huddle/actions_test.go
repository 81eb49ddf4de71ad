package huddle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

// huddleAPI is a minimal REST server recording the order of calls.
type huddleAPI struct {
	mu    sync.Mutex
	calls []string
}

func (a *huddleAPI) record(call string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
}

func (a *huddleAPI) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *huddleAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.User{ID: "bot", Username: "huddlebot", IsBot: true})
	})
	mux.HandleFunc("GET /users/me/channels", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"channels": []protocol.Channel{}})
	})
	mux.HandleFunc("POST /channels/direct", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode dm body: %v", err)
		}
		a.record("dm:" + body.UserID)
		json.NewEncoder(w).Encode(protocol.Channel{ID: "dm-" + body.UserID, Type: "direct"})
	})
	mux.HandleFunc("POST /channels/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		var post protocol.PostMessage
		if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
			t.Errorf("decode post: %v", err)
		}
		a.record("send:" + r.PathValue("id") + ":" + post.Content)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(protocol.Message{ID: "msg-1", ChannelID: r.PathValue("id"), UserID: "bot", Content: post.Content})
	})
	return mux
}

func newHTTPChannel(t *testing.T, api *huddleAPI) (*Channel, *fakeRT) {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	rt := newFakeRT()
	settings := testSettings(func(c *config.HuddleConfig) { c.BaseURL = srv.URL })
	ch := New(Options{
		Settings: settings,
		Runtime:  &recordingRuntime{},
		Getenv:   noEnv,
		factory: func(acct Account, _ config.HuddleConfig) *Connection {
			client := protocol.NewClient(protocol.ClientOptions{BaseURL: acct.BaseURL, Token: acct.Token})
			conn := newConnection(acct, client, rt)
			client.OnSuccess(conn.touchOutbound)
			return conn
		},
	})
	t.Cleanup(func() { ch.Stop(context.Background()) })
	return ch, rt
}

func TestScenarioSendTextToUserOpensDirectChannel(t *testing.T) {
	api := &huddleAPI{}
	ch, _ := newHTTPChannel(t, api)

	res := ch.SendText(context.Background(), "", "user:42", "hello there", "")
	if !res.OK {
		t.Fatalf("SendText failed: %s", res.Error)
	}
	if res.Status != "sent" || res.MessageID != "msg-1" || res.ChannelID != "dm-42" {
		t.Errorf("result = %+v", res)
	}

	calls := api.snapshot()
	want := []string{"dm:42", "send:dm-42:hello there"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}

	conn := ch.supervisor.Current(config.DefaultAccountID)
	if conn == nil || conn.channels.Kind(context.Background(), "dm-42", nil) != protocol.ChannelDirect {
		t.Error("opened direct channel should be cached as direct")
	}
}

func TestSendTextToChannelSkipsDirectLookup(t *testing.T) {
	api := &huddleAPI{}
	ch, _ := newHTTPChannel(t, api)

	res := ch.SendText(context.Background(), "", "#general", "news", "")
	if !res.OK || res.ChannelID != "general" {
		t.Fatalf("result = %+v", res)
	}
	if calls := api.snapshot(); len(calls) != 1 || calls[0] != "send:general:news" {
		t.Errorf("calls = %v", calls)
	}
}

func TestActionErrors(t *testing.T) {
	api := &huddleAPI{}
	ch, _ := newHTTPChannel(t, api)
	ctx := context.Background()

	if res := ch.SendText(ctx, "", "user:", "x", ""); res.OK || res.Error == "" {
		t.Errorf("bad target result = %+v", res)
	}
	if res := ch.SendText(ctx, "", "#general", "   ", ""); res.OK {
		t.Errorf("empty text result = %+v", res)
	}
}

func TestReactionActionsUseRest(t *testing.T) {
	rest := newFakeREST()
	ch := newTestChannel(testSettings(nil), newFakeRT(), rest, &recordingRuntime{}, nil)
	defer ch.Stop(context.Background())
	ctx := context.Background()

	if res := ch.React(ctx, "", "m1", ":thumbsup:"); !res.OK || res.Status != "reacted" {
		t.Errorf("React = %+v", res)
	}
	if res := ch.Unreact(ctx, "", "m1", "thumbsup"); !res.OK || res.Status != "unreacted" {
		t.Errorf("Unreact = %+v", res)
	}
	if res := ch.EditMessage(ctx, "", "m1", "fixed"); !res.OK || res.Status != "edited" || res.MessageID != "m1" {
		t.Errorf("EditMessage = %+v", res)
	}
	if res := ch.DeleteMessage(ctx, "", "m1"); !res.OK || res.Status != "deleted" {
		t.Errorf("DeleteMessage = %+v", res)
	}
}

func TestSendMediaUploadsThenPosts(t *testing.T) {
	rest := newFakeREST()
	ch := newTestChannel(testSettings(nil), newFakeRT(), rest, &recordingRuntime{}, nil)
	defer ch.Stop(context.Background())

	p := writeTestPNG(t, t.TempDir(), 16, 16)
	res := ch.SendMedia(context.Background(), "", "@7", p, "a picture", "")
	if !res.OK || res.ChannelID != "dm-7" {
		t.Fatalf("SendMedia = %+v", res)
	}
	sent := rest.sentMessages()
	if len(sent) != 1 || sent[0].Post.Content != "a picture" || len(sent[0].Post.Attachments) != 1 || sent[0].Post.Attachments[0] != "file-1" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestProbeAndStatus(t *testing.T) {
	rest := newFakeREST()
	ch := newTestChannel(testSettings(nil), newFakeRT(), rest, &recordingRuntime{}, nil)
	ctx := context.Background()

	st := ch.Probe("")
	if !st.Configured || st.Connected || st.BaseURL != "https://chat.example.com/api" || st.TokenSource != "config" {
		t.Errorf("probe before start = %+v", st)
	}
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !ch.IsRunning() {
		t.Error("channel not running after Start")
	}
	statuses := ch.Status(ctx)
	if len(statuses) != 1 || !statuses[0].Connected || statuses[0].BotUserID != "bot" {
		t.Errorf("status = %+v", statuses)
	}
	if !ch.StopAccount(config.DefaultAccountID) || ch.IsRunning() {
		t.Error("StopAccount should stop the only account")
	}
	ch.Stop(ctx)
}
