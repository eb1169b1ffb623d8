// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine wires the transport, dispatcher, session registry, approval
// machine and audit sink into one client. A single goroutine consumes the
// inbound stream; user operations arrive from any goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/audit"
	"github.com/ManuGH/ztc/internal/dispatch"
	"github.com/ManuGH/ztc/internal/log"
	"github.com/ManuGH/ztc/internal/protocol"
	"github.com/ManuGH/ztc/internal/session"
	"github.com/ManuGH/ztc/internal/telemetry"
	"github.com/ManuGH/ztc/internal/transport"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("engine: already started")
	// ErrStopped is returned after Close.
	ErrStopped = errors.New("engine: stopped")
)

// Config assembles the engine.
type Config struct {
	Workspace         string
	Branch            string
	Transport         transport.Config
	Policy            approval.Policy
	TrustedWorkspaces []string
	HistoryLimit      int
	Channels          map[string]bool
	HoldTimeout       time.Duration
	UpdateBuffer      int // default 256
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithApprovalOptions forwards options to the approval machine.
func WithApprovalOptions(opts ...approval.Option) Option {
	return func(e *Engine) { e.approvalOpts = append(e.approvalOpts, opts...) }
}

// WithTransportOptions forwards options to the connection.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(e *Engine) { e.transportOpts = append(e.transportOpts, opts...) }
}

// Engine is the client core.
type Engine struct {
	cfg      Config
	logger   zerolog.Logger
	conn     *transport.Connection
	machine  *approval.Machine
	registry *session.Registry
	router   *dispatch.Router
	feed     *audit.Broadcast
	updates  chan Update

	approvalOpts  []approval.Option
	transportOpts []transport.Option

	dlMu      sync.Mutex
	downloads map[string][]chan protocol.FileDownload

	emitMu    sync.RWMutex
	stopped   bool
	started   atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	loopDone  chan struct{}
}

// New builds an engine. sink receives every audit record before the matching
// response is sent; it stays owned by the caller.
func New(dialer transport.Dialer, sink audit.Sink, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 256
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	e := &Engine{
		cfg:       cfg,
		logger:    log.WithComponent("engine"),
		updates:   make(chan Update, cfg.UpdateBuffer),
		feed:      audit.NewBroadcast(),
		downloads: make(map[string][]chan protocol.FileDownload),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	combined := audit.NewMulti(e.logger,
		audit.Named{Name: "primary", Sink: sink},
		audit.Named{Name: "feed", Sink: e.feed, BestEffort: true},
	)
	machineOpts := append([]approval.Option{
		approval.WithTrustStore(approval.NewTrustStore(cfg.TrustedWorkspaces...)),
		approval.WithTimeoutHandler(e.onTimeout),
	}, e.approvalOpts...)
	machine, err := approval.NewMachine(cfg.Policy, combined, e.send, machineOpts...)
	if err != nil {
		return nil, err
	}
	e.machine = machine
	e.registry = session.NewRegistry(
		session.WithHistoryLimit(cfg.HistoryLimit),
		session.WithExpirer(machine),
	)
	e.router = dispatch.NewRouter(dispatch.Config{
		HoldTimeout: cfg.HoldTimeout,
		Channels:    cfg.Channels,
	}, e.registry.Exists)

	connOpts := append([]transport.Option{
		transport.WithStatusHandler(e.onStatus),
		transport.WithRestore(e.restore),
	}, e.transportOpts...)
	e.conn = transport.New(dialer, cfg.Transport, connOpts...)
	return e, nil
}

// Start connects, launches the dispatch loop and opens the initial session.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, span := telemetry.Start(ctx, "engine.connect", telemetry.ConnectAttributes(e.cfg.Transport.URL, "")...)
	err := e.conn.Connect(ctx)
	telemetry.End(span, err)
	if err != nil {
		close(e.loopDone)
		return err
	}
	go e.loop()

	if e.registry.Len() == 0 {
		if _, err := e.NewSession(ctx, e.cfg.Workspace, e.cfg.Branch); err != nil {
			return fmt.Errorf("engine: initial session: %w", err)
		}
	}
	return nil
}

// Reconnect dials again after the connection gave up retrying. Events queued
// before the give-up are flushed once the link is open.
func (e *Engine) Reconnect(ctx context.Context) error {
	select {
	case <-e.stop:
		return ErrStopped
	default:
	}
	if !e.started.Load() {
		return e.Start(ctx)
	}
	ctx, span := telemetry.Start(ctx, "engine.reconnect", telemetry.ConnectAttributes(e.cfg.Transport.URL, e.conn.NegotiatedVersion())...)
	err := e.conn.Connect(ctx)
	telemetry.End(span, err)
	return err
}

// Updates is the presentation feed. It is closed by Close.
func (e *Engine) Updates() <-chan Update { return e.updates }

// AuditFeed subscribes to audit records as they are written.
func (e *Engine) AuditFeed() (<-chan audit.Record, func()) { return e.feed.Subscribe(256) }

// State returns the connection state.
func (e *Engine) State() transport.State { return e.conn.State() }

// NegotiatedVersion returns the schema version in use.
func (e *Engine) NegotiatedVersion() string { return e.conn.NegotiatedVersion() }

// Ready reports whether the connection is open.
func (e *Engine) Ready() bool { return e.conn.State() == transport.StateOpen }

// Policy returns the approval policy.
func (e *Engine) Policy() approval.Policy { return e.machine.Policy() }

// QueueStats reports the outbound queue.
func (e *Engine) QueueStats() transport.QueueStats { return e.conn.Queue().Stats() }

// Close drains the connection, stops the loop and closes the feeds.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.machine.Close()
		err = e.conn.Close(ctx)
		close(e.stop)
		if e.started.CompareAndSwap(false, true) {
			close(e.loopDone)
		}
		<-e.loopDone
		_ = e.feed.Close()

		e.emitMu.Lock()
		e.stopped = true
		close(e.updates)
		e.emitMu.Unlock()
	})
	return err
}

func (e *Engine) send(ctx context.Context, ev protocol.Event) error {
	return e.conn.Send(ctx, ev)
}

// available reports whether t may be sent on the negotiated version.
func (e *Engine) available(t protocol.Type) bool {
	v, err := protocol.ParseVersion(e.conn.NegotiatedVersion())
	if err != nil {
		return false
	}
	return t.AvailableIn(v)
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	inbound := e.conn.Inbound()
	for {
		select {
		case ev, ok := <-inbound:
			if !ok {
				return
			}
			e.handle(ev)
		case <-ticker.C:
			e.router.Sweep()
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) emit(u Update) {
	if u.Time.IsZero() {
		u.Time = time.Now()
	}
	e.emitMu.RLock()
	defer e.emitMu.RUnlock()
	if e.stopped {
		return
	}
	select {
	case e.updates <- u:
	case <-e.stop:
	}
}

func (e *Engine) onStatus(st transport.Status) {
	u := Update{Kind: UpdateStatus, Time: time.Now(), Status: &st}
	e.emitMu.RLock()
	defer e.emitMu.RUnlock()
	if e.stopped {
		return
	}
	select {
	case e.updates <- u:
	default:
		e.logger.Debug().Str(log.FieldNewState, string(st.State)).Msg("status update dropped, feed full")
	}
}

func (e *Engine) onTimeout(a approval.PendingAction) {
	s, err := e.registry.Get(a.SessionID)
	if err != nil {
		return
	}
	e.refresh(s)
	e.emitDecision(s, a, s.ID == e.registry.ActiveID())
}

func (e *Engine) refresh(s *session.Session) {
	from, to, err := s.Refresh()
	if err != nil {
		e.logger.Error().Err(err).Str(log.FieldSessionID, s.ID.String()).Msg("session state derivation failed")
		return
	}
	if from == to {
		return
	}
	e.logger.Debug().
		Str(log.FieldSessionID, s.ID.String()).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("session state changed")
	info := e.infoFor(s)
	e.emit(Update{Kind: UpdateSession, SessionID: s.ID, Foreground: info.Active, Session: &info})
}

func (e *Engine) infoFor(s *session.Session) session.Info {
	for _, info := range e.registry.List() {
		if info.ID == s.ID {
			return info
		}
	}
	return session.Info{ID: s.ID, State: s.State()}
}

// restore replays session contexts after a reconnect, before the connection
// reports Open.
func (e *Engine) restore(context.Context) []protocol.Event {
	resume := e.available(protocol.TypeSessionResume)
	var out []protocol.Event
	for _, s := range e.registry.Sessions() {
		if resume {
			var ids []string
			for _, p := range s.Book().Pending() {
				ids = append(ids, p.ActionID)
			}
			out = append(out, protocol.ForSession(s.ID, protocol.SessionResume{
				Workspace:        s.Workspace(),
				Branch:           s.Branch(),
				PendingActionIDs: ids,
			}))
		}
		out = append(out, e.machine.ResendEvents(s.Book())...)
	}
	if len(out) > 0 {
		e.logger.Info().Int("events", len(out)).Msg("restoring session contexts")
	}
	return out
}

func uuidOrEmpty(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
