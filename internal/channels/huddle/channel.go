package huddle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/huddleclaw/internal/agent"
	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
	"github.com/nextlevelbuilder/huddleclaw/internal/store"
)

// Options configures the Huddle channel.
type Options struct {
	Settings   func() config.HuddleConfig
	Bindings   func() []config.AgentBinding
	Runtime    agent.Runtime
	Pairing    store.PairingStore // optional
	Tracer     trace.Tracer       // optional
	Getenv     EnvLookup          // optional, defaults to os.Getenv
	HTTPClient *http.Client       // optional, for media downloads
	SendOnly   bool               // connect for outbound actions only; inbound messages are dropped

	factory connFactory
}

// Channel is the Huddle channel: a supervisor of per-account connections feeding the
// dispatch pipeline, plus the outbound action surface.
type Channel struct {
	*channels.BaseChannel
	settings   func() config.HuddleConfig
	supervisor *Supervisor
	pipeline   *Pipeline
}

// New creates the Huddle channel. Nothing connects until Start.
func New(opts Options) *Channel {
	pipeline := NewPipeline(PipelineOptions{
		Runtime:    opts.Runtime,
		Pairing:    opts.Pairing,
		Settings:   opts.Settings,
		Bindings:   opts.Bindings,
		Tracer:     opts.Tracer,
		HTTPClient: opts.HTTPClient,
	})
	flush := FlushHandler(pipeline.Handle)
	if opts.SendOnly {
		flush = nil
	}
	sup := NewSupervisor(SupervisorOptions{
		Settings: opts.Settings,
		Getenv:   opts.Getenv,
		Flush:    flush,
		factory:  opts.factory,
	})
	return &Channel{
		BaseChannel: channels.NewBaseChannel(channelName),
		settings:    opts.Settings,
		supervisor:  sup,
		pipeline:    pipeline,
	}
}

// Start connects every enabled account in parallel. Accounts that fail are reported in
// the returned error; the others keep running and the watchdog retries transient failures.
func (c *Channel) Start(ctx context.Context) error {
	cfg := c.settings()
	slog.Info("starting huddle channel", "accounts", len(cfg.AccountIDs()))

	var (
		mu        sync.Mutex
		errs      []error
		connected int
		wg        sync.WaitGroup
	)
	for _, id := range cfg.AccountIDs() {
		if !ResolveAccount(cfg, id, c.supervisor.getenv).Enabled {
			slog.Info("huddle account disabled, skipping", "account", id)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.supervisor.GetConnection(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("huddle account %s: %w", id, err))
				return
			}
			connected++
		}()
	}
	wg.Wait()

	c.SetRunning(connected > 0)
	return errors.Join(errs...)
}

// Stop disconnects all accounts and waits for in-flight agent runs.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping huddle channel")
	c.supervisor.Stop()

	done := make(chan struct{})
	go func() {
		c.pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("huddle: stop timed out waiting for agent runs")
	}
	c.pipeline.Stop()
	c.SetRunning(false)
	return nil
}

// Send delivers an outbound bus message: media first (caption on the first item), then text.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	text := msg.Content
	for i, m := range msg.Media {
		caption := m.Caption
		if i == 0 && caption == "" && text != "" && len(msg.Media) == 1 {
			caption, text = text, ""
		}
		if res := c.SendMedia(ctx, msg.AccountID, msg.ChatID, m.URL, caption, msg.ParentID); !res.OK {
			return errors.New(res.Error)
		}
	}
	if text == "" {
		return nil
	}
	if res := c.SendText(ctx, msg.AccountID, msg.ChatID, text, msg.ParentID); !res.OK {
		return errors.New(res.Error)
	}
	return nil
}

// Status implements channels.StatusChannel.
func (c *Channel) Status(_ context.Context) []channels.AccountStatus {
	return c.supervisor.Status()
}

// StartAccount connects (or reconnects) one account.
func (c *Channel) StartAccount(ctx context.Context, accountID string) error {
	_, err := c.supervisor.GetConnection(ctx, accountID)
	if err == nil {
		c.SetRunning(true)
	}
	return err
}

// StopAccount disconnects one account. Returns false when it was not running.
func (c *Channel) StopAccount(accountID string) bool {
	stopped := c.supervisor.StopAccount(accountID)
	if len(c.supervisor.Tracked()) == 0 {
		c.SetRunning(false)
	}
	return stopped
}

// Probe reports whether an account is configured and connected, and its base URL.
func (c *Channel) Probe(accountID string) channels.AccountStatus {
	return c.supervisor.Probe(accountID)
}

// Reconcile applies a config change: removed accounts stop, changed ones rebuild.
func (c *Channel) Reconcile(ctx context.Context) error {
	err := c.supervisor.Reconcile(ctx)
	c.SetRunning(len(c.supervisor.Tracked()) > 0)
	return err
}

var _ channels.StatusChannel = (*Channel)(nil)
