package huddle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

const joinConcurrency = 8

// FlushHandler receives a debounced batch together with the account's current connection.
type FlushHandler func(ctx context.Context, conn *Connection, batch []bus.InboundMessage)

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Settings func() config.HuddleConfig // current config snapshot, re-read on every rebuild
	Getenv   EnvLookup
	Flush    FlushHandler

	factory connFactory
}

// Supervisor owns at most one Connection per account. It builds connections on demand,
// feeds their inbound events through the account's debouncer, and runs the health
// watchdog while any account is tracked.
type Supervisor struct {
	settings func() config.HuddleConfig
	getenv   EnvLookup
	factory  connFactory
	flush    FlushHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	accounts map[string]*accountState
	watchdog *Watchdog
}

// accountState is the per-account registry entry. The debouncer and flood limiter
// outlive connection rebuilds; conn is swapped wholesale.
type accountState struct {
	id      string
	buildMu sync.Mutex

	// guarded by Supervisor.mu
	conn        *Connection
	state       ConnState
	lastErr     error
	authFailed  bool
	fingerprint string

	rebuilding atomic.Bool
	debouncer  *bus.InboundDebouncer
	limiter    *channels.SenderRateLimiter
}

// NewSupervisor creates a supervisor with no tracked accounts.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.factory == nil {
		opts.factory = dialConnection
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		settings: opts.Settings,
		getenv:   opts.Getenv,
		factory:  opts.factory,
		flush:    opts.Flush,
		ctx:      ctx,
		cancel:   cancel,
		accounts: make(map[string]*accountState),
	}
}

// GetConnection returns the account's connection, building it when there is none or
// the existing one is no longer connected. Concurrent callers share one build.
func (s *Supervisor) GetConnection(ctx context.Context, accountID string) (*Connection, error) {
	if accountID == "" {
		accountID = defaultAccountID(s.settings())
	}
	st := s.track(accountID)
	if conn := s.activeConn(st); conn != nil {
		return conn, nil
	}

	st.buildMu.Lock()
	defer st.buildMu.Unlock()
	if !s.isTracked(st) {
		return nil, fmt.Errorf("huddle account %s was stopped", accountID)
	}
	if conn := s.activeConn(st); conn != nil {
		return conn, nil
	}
	return s.build(ctx, st)
}

// Current returns the installed connection for an account without building one.
func (s *Supervisor) Current(accountID string) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[accountID]; ok {
		return st.conn
	}
	return nil
}

// isTracked reports whether st is still the registry entry for its account.
func (s *Supervisor) isTracked(st *accountState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[st.id] == st
}

func (s *Supervisor) activeConn(st *accountState) *Connection {
	s.mu.Lock()
	conn := st.conn
	s.mu.Unlock()
	if conn != nil && conn.IsActive() {
		return conn
	}
	return nil
}

func (s *Supervisor) track(accountID string) *accountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[accountID]; ok {
		return st
	}

	cfg := s.settings()
	st := &accountState{
		id:      accountID,
		state:   StateDisconnected,
		limiter: channels.NewSenderRateLimiter(cfg.InboundRatePerMin),
	}
	st.debouncer = bus.NewInboundDebouncer(cfg.DebounceWindow(),
		func(batch []bus.InboundMessage) { s.deliverBatch(st, batch) },
		bus.WithBypass(bypassDebounce),
	)
	s.accounts[accountID] = st
	return st
}

// bypassDebounce flushes attachments and control commands on their own, immediately.
func bypassDebounce(m bus.InboundMessage) bool {
	return len(m.Attachments) > 0 || IsControlCommand(m.Content)
}

func (s *Supervisor) deliverBatch(st *accountState, batch []bus.InboundMessage) {
	s.mu.Lock()
	conn := st.conn
	s.mu.Unlock()
	if conn == nil {
		slog.Warn("huddle: dropping inbound batch, account has no connection", "account", st.id, "count", len(batch))
		return
	}
	if s.flush != nil {
		s.flush(s.ctx, conn, batch)
	}
}

// build replaces the account's connection. Caller holds st.buildMu.
func (s *Supervisor) build(ctx context.Context, st *accountState) (*Connection, error) {
	cfg := s.settings()
	acct := ResolveAccount(cfg, st.id, s.getenv)

	// the old connection is fully gone before a new one is dialed
	s.teardown(st)

	if !acct.Enabled {
		err := &protocol.ConfigurationError{AccountID: acct.ID, Field: "enabled", Reason: "account is disabled"}
		s.fail(st, err)
		return nil, err
	}
	if err := acct.Validate(); err != nil {
		s.fail(st, err)
		return nil, err
	}

	s.setState(st, nil, StateConnecting)
	conn := s.factory(acct, cfg)

	id, err := conn.rt.Connect(ctx)
	if err != nil {
		conn.close(false)
		s.fail(st, err)
		return nil, err
	}
	conn.identity = id
	s.setState(st, nil, StateAuthenticated)

	me, err := conn.rest.GetMe(ctx)
	switch {
	case protocol.IsAuthError(err):
		conn.close(false)
		s.fail(st, err)
		return nil, err
	case err != nil:
		slog.Warn("huddle: bot profile lookup failed", "account", acct.ID, "error", &protocol.DiscoveryError{Op: "get_me", Err: err})
	default:
		if conn.identity.UserID == "" {
			conn.identity.UserID = me.ID
		}
		if me.Username != "" {
			conn.identity.Username = me.Username
		}
	}
	conn.patterns = compileMentionPatterns(acct.MentionPatterns, conn.identity.Username)
	joinChannels(ctx, conn)

	s.mu.Lock()
	st.conn = conn
	st.state = StateActive
	st.lastErr = nil
	st.authFailed = false
	st.fingerprint = acct.Fingerprint()
	s.ensureWatchdogLocked(cfg)
	s.mu.Unlock()

	slog.Info("huddle: account connected",
		"account", acct.ID,
		"bot_user_id", conn.identity.UserID,
		"bot_username", conn.identity.Username,
		"channels", conn.channels.Len(),
		"token_source", acct.TokenSource,
	)

	go s.consume(st, conn)
	return conn, nil
}

// teardown removes the account's connection from the registry and closes it.
func (s *Supervisor) teardown(st *accountState) {
	s.mu.Lock()
	old := st.conn
	st.conn = nil
	if old != nil {
		st.state = StateDisconnected
	}
	s.mu.Unlock()

	if old != nil {
		old.close(true)
		slog.Info("huddle: connection closed", "account", st.id)
	}
}

// fail records a build failure. Transient failures start the watchdog so the account is
// retried even when it never connected.
func (s *Supervisor) fail(st *accountState, err error) {
	s.mu.Lock()
	st.state = StateDisconnected
	st.lastErr = err
	st.authFailed = protocol.IsAuthError(err)
	if !st.authFailed && !protocol.IsConfigError(err) && s.accounts[st.id] == st && s.ctx.Err() == nil {
		s.ensureWatchdogLocked(s.settings())
	}
	s.mu.Unlock()

	switch {
	case protocol.IsAuthError(err):
		slog.Error("huddle: authentication rejected, check the bot token", "account", st.id, "error", err)
	case protocol.IsConfigError(err):
		slog.Error("huddle: account not configured", "account", st.id, "error", err)
	default:
		slog.Error("huddle: connect failed", "account", st.id, "error", err)
	}
}

// setState updates the account state. When conn is non-nil the update only applies
// while conn is still the installed connection.
func (s *Supervisor) setState(st *accountState, conn *Connection, state ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn != nil && st.conn != conn {
		return
	}
	st.state = state
}

// joinChannels lists the bot's channels, caches their kinds and joins each one.
// Discovery failures are logged; the connection still comes up.
func joinChannels(ctx context.Context, conn *Connection) {
	list, err := conn.rest.GetUserChannels(ctx)
	if err != nil {
		slog.Warn("huddle: channel discovery failed", "account", conn.account.ID,
			"error", &protocol.DiscoveryError{Op: "list_channels", Err: err})
		return
	}

	var g errgroup.Group
	g.SetLimit(joinConcurrency)
	for _, ch := range list {
		conn.channels.Put(ch)
		g.Go(func() error {
			if err := conn.rt.JoinChannel(ctx, ch.ID); err != nil {
				slog.Warn("huddle: join channel failed", "account", conn.account.ID, "channel_id", ch.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Supervisor) ensureWatchdogLocked(cfg config.HuddleConfig) {
	if s.watchdog != nil {
		return
	}
	w := NewWatchdog(WatchdogOptions{
		Interval:  cfg.Watchdog.Interval(),
		Threshold: cfg.Watchdog.Threshold(),
		Accounts:  s.watchedAccounts,
		Check:     s.health,
		Rebuild:   s.rebuild,
	})
	w.Start()
	s.watchdog = w
	slog.Debug("huddle watchdog started", "interval", cfg.Watchdog.Interval())
}

// watchedAccounts lists accounts the watchdog may rebuild. Accounts whose token was
// rejected or whose config is incomplete wait for a config change or explicit start.
func (s *Supervisor) watchedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.accounts))
	for id, st := range s.accounts {
		if st.authFailed || protocol.IsConfigError(st.lastErr) || st.rebuilding.Load() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// health requires a connected socket and recent activity in either direction. An
// account without an installed connection is down.
func (s *Supervisor) health(accountID string) Health {
	s.mu.Lock()
	st := s.accounts[accountID]
	var conn *Connection
	if st != nil {
		conn = st.conn
	}
	s.mu.Unlock()
	if conn == nil {
		return HealthDown
	}

	if conn.IsActive() && time.Since(conn.LastActivity()) <= s.settings().Watchdog.StaleAfter() {
		s.setState(st, conn, StateActive)
		return HealthOK
	}
	s.setState(st, conn, StateUnhealthy)
	return HealthDegraded
}

// rebuild is the watchdog's recovery path. A failed rebuild leaves the account without
// a connection, which the next tick reports as down and retries.
func (s *Supervisor) rebuild(accountID string) {
	s.mu.Lock()
	st := s.accounts[accountID]
	var prev *Connection
	if st != nil {
		prev = st.conn
	}
	s.mu.Unlock()
	if st == nil || !st.rebuilding.CompareAndSwap(false, true) {
		return
	}
	defer st.rebuilding.Store(false)

	st.buildMu.Lock()
	defer st.buildMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	stopped := s.accounts[accountID] != st
	replaced := st.conn != nil && st.conn != prev
	s.mu.Unlock()
	if stopped {
		slog.Debug("huddle watchdog: account stopped, rebuild skipped", "account", accountID)
		return
	}
	if replaced {
		slog.Debug("huddle watchdog: connection already replaced", "account", accountID)
		return
	}
	if _, err := s.build(s.ctx, st); err != nil {
		slog.Error("huddle watchdog: rebuild failed, will retry", "account", accountID, "error", err)
		return
	}
	slog.Info("huddle watchdog: connection rebuilt", "account", accountID)
}

// StopAccount flushes the account's pending messages, closes its connection and stops
// tracking it. The watchdog stops with the last tracked account.
func (s *Supervisor) StopAccount(accountID string) bool {
	s.mu.Lock()
	st, ok := s.accounts[accountID]
	delete(s.accounts, accountID)
	var idle *Watchdog
	if len(s.accounts) == 0 {
		idle, s.watchdog = s.watchdog, nil
	}
	s.mu.Unlock()

	if idle != nil {
		idle.Stop()
		slog.Debug("huddle watchdog stopped")
	}
	if !ok {
		return false
	}

	st.debouncer.Stop()
	st.buildMu.Lock()
	s.teardown(st)
	st.buildMu.Unlock()
	return true
}

// Tracked returns the IDs of accounts the supervisor currently manages.
func (s *Supervisor) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WatchdogRunning reports whether the health watchdog is active.
func (s *Supervisor) WatchdogRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchdog != nil
}

// Reconcile brings tracked accounts in line with the current config: accounts that
// disappeared or were disabled are stopped, accounts whose settings changed are rebuilt,
// and new enabled accounts are connected.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	cfg := s.settings()
	want := make(map[string]Account)
	if cfg.Enabled {
		for _, id := range cfg.AccountIDs() {
			if acct := ResolveAccount(cfg, id, s.getenv); acct.Enabled {
				want[id] = acct
			}
		}
	}

	for _, id := range s.Tracked() {
		if _, ok := want[id]; !ok {
			slog.Info("huddle: account removed or disabled, stopping", "account", id)
			s.StopAccount(id)
		}
	}

	var g errgroup.Group
	for id, acct := range want {
		s.mu.Lock()
		st := s.accounts[id]
		unchanged := st != nil && st.conn != nil && st.fingerprint == acct.Fingerprint()
		s.mu.Unlock()
		if unchanged {
			continue
		}
		g.Go(func() error {
			st := s.track(id)
			st.buildMu.Lock()
			defer st.buildMu.Unlock()
			if !s.isTracked(st) {
				return nil
			}
			_, err := s.build(ctx, st)
			return err
		})
	}
	return g.Wait()
}

// Stop closes every account and the watchdog.
func (s *Supervisor) Stop() {
	s.cancel()
	for _, id := range s.Tracked() {
		s.StopAccount(id)
	}
}

// Status reports every configured account, connected or not.
func (s *Supervisor) Status() []channels.AccountStatus {
	cfg := s.settings()
	ids := cfg.AccountIDs()
	out := make([]channels.AccountStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Probe(id))
	}
	return out
}

// Probe reports one account's configuration and connection state.
func (s *Supervisor) Probe(accountID string) channels.AccountStatus {
	cfg := s.settings()
	if accountID == "" {
		accountID = defaultAccountID(cfg)
	}
	acct := ResolveAccount(cfg, accountID, s.getenv)
	status := channels.AccountStatus{
		AccountID:   acct.ID,
		Enabled:     acct.Enabled,
		Configured:  acct.Configured(),
		BaseURL:     acct.BaseURL,
		TokenSource: string(acct.TokenSource),
		State:       string(StateDisconnected),
	}

	s.mu.Lock()
	st := s.accounts[accountID]
	var (
		conn     *Connection
		failures int
	)
	if st != nil {
		conn = st.conn
		status.State = string(st.state)
		if st.lastErr != nil {
			status.Error = st.lastErr.Error()
		}
	}
	wd := s.watchdog
	s.mu.Unlock()

	if wd != nil {
		failures = wd.Failures(accountID)
	}
	status.ConsecutiveFailures = failures
	if conn != nil {
		status.Connected = conn.IsActive()
		status.BotUserID = conn.identity.UserID
		status.BotUsername = conn.identity.Username
		status.LastActivity = conn.LastActivity().UTC().Format(time.RFC3339)
	}
	return status
}
