// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	xlog "github.com/ManuGH/ztc/internal/log"
	"github.com/ManuGH/ztc/internal/metrics"
	"github.com/ManuGH/ztc/internal/protocol"
)

// Config controls connection behaviour. Zero values take the defaults below.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration // default 10s
	QueueCapacity    int           // default 1000
	CriticalWait     time.Duration // default 1s
	CloseGrace       time.Duration // default 2s
	MaxRetries       int           // default 5
	Backoff          Backoff       // default 500ms..30s
	Capabilities     []string
	InboundBuffer    int // default 256
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.CriticalWait <= 0 {
		c.CriticalWait = time.Second
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Backoff.Base <= 0 && c.Backoff.Max <= 0 {
		jitter := c.Backoff.Jitter
		c.Backoff = DefaultBackoff()
		c.Backoff.Jitter = jitter
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 256
	}
	return c
}

// Status is published on every state change and reconnect attempt.
type Status struct {
	State      State
	Previous   State
	Attempt    int
	MaxRetries int
	Version    string
	Degraded   bool
	Err        error
}

// RestoreFunc returns events that must reach the backend right after a
// handshake, before the connection reports Open.
type RestoreFunc func(ctx context.Context) []protocol.Event

// Option configures a Connection.
type Option func(*Connection)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithStatusHandler registers a status observer. It runs on the goroutine
// that caused the change and must not block.
func WithStatusHandler(fn func(Status)) Option {
	return func(c *Connection) { c.onStatus = fn }
}

// WithRestore registers the post-handshake restore hook.
func WithRestore(fn RestoreFunc) Option {
	return func(c *Connection) { c.restore = fn }
}

// WithCodec supplies a preconfigured codec.
func WithCodec(codec *protocol.Codec) Option {
	return func(c *Connection) { c.codec = codec }
}

// Connection owns one logical link to the backend across reconnects.
type Connection struct {
	cfg      Config
	dialer   Dialer
	codec    *protocol.Codec
	queue    *Queue
	logger   zerolog.Logger
	onStatus func(Status)
	restore  RestoreFunc
	warn     *rate.Limiter

	inbound     chan protocol.Event
	inboundOnce sync.Once
	done        chan struct{}

	life       context.Context
	lifeCancel context.CancelFunc

	mu           sync.Mutex
	state        State
	conn         Conn
	runDone      chan struct{}
	retryCount   int
	lastActivity time.Time
	serverCaps   []string
	exhausted    error
}

// New creates a disconnected Connection.
func New(dialer Dialer, cfg Config, opts ...Option) *Connection {
	cfg = cfg.withDefaults()
	life, cancel := context.WithCancel(context.Background())
	c := &Connection{
		cfg:        cfg,
		dialer:     dialer,
		logger:     xlog.WithComponent("transport"),
		warn:       rate.NewLimiter(rate.Every(5*time.Second), 1),
		inbound:    make(chan protocol.Event, cfg.InboundBuffer),
		done:       make(chan struct{}),
		life:       life,
		lifeCancel: cancel,
		state:      StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.codec == nil {
		c.codec = protocol.NewCodec()
	}
	c.queue = NewQueue(cfg.QueueCapacity, c.degraded)
	metrics.SetConnectionState(string(StateDisconnected))
	return c
}

// Inbound delivers decoded events. It is closed once the connection is Closed.
func (c *Connection) Inbound() <-chan protocol.Event { return c.inbound }

// Done is closed when Close has finished.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Codec returns the connection codec.
func (c *Connection) Codec() *protocol.Codec { return c.codec }

// Queue exposes the outbound queue for inspection.
func (c *Connection) Queue() *Queue { return c.queue }

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NegotiatedVersion returns the schema version agreed at handshake.
func (c *Connection) NegotiatedVersion() string {
	v, _ := c.codec.Negotiated()
	return v
}

// RetryCount returns the current reconnect attempt, 0 when idle.
func (c *Connection) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// LastActivity returns the time of the last frame read or written.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ServerCapabilities returns the capabilities from the last handshake_ack.
func (c *Connection) ServerCapabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.serverCaps...)
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) setRetry(n int) {
	c.mu.Lock()
	c.retryCount = n
	c.mu.Unlock()
}

// transition applies ev to the current state.
func (c *Connection) transition(ev EventKind, attempt int, cause error) error {
	c.mu.Lock()
	tr, ok := TransitionFor(c.state, ev)
	if !ok {
		from := c.state
		c.mu.Unlock()
		return &IllegalTransitionError{From: from, Event: ev}
	}
	c.state = tr.To
	c.mu.Unlock()

	c.announce(tr, attempt, cause)
	return nil
}

func (c *Connection) announce(tr Transition, attempt int, cause error) {
	metrics.SetConnectionState(string(tr.To))
	evt := c.logger.Info()
	if cause != nil {
		evt = c.logger.Warn().Err(cause)
	}
	evt.Str(xlog.FieldOldState, string(tr.From)).
		Str(xlog.FieldNewState, string(tr.To)).
		Str(xlog.FieldEvent, string(tr.Event)).
		Int(xlog.FieldAttempt, attempt).
		Msg("connection state changed")

	c.publish(Status{
		State:      tr.To,
		Previous:   tr.From,
		Attempt:    attempt,
		MaxRetries: c.cfg.MaxRetries,
		Version:    c.NegotiatedVersion(),
		Degraded:   c.queue.Stats().Degraded,
		Err:        cause,
	})
}

func (c *Connection) publish(st Status) {
	if c.onStatus != nil {
		c.onStatus(st)
	}
}

func (c *Connection) degraded(v bool) {
	if v && c.warn.Allow() {
		c.logger.Warn().
			Int(xlog.FieldQueueLen, c.queue.Len()).
			Msg("outbound queue full of critical events, senders are blocking")
	}
	c.publish(Status{State: c.State(), MaxRetries: c.cfg.MaxRetries, Version: c.NegotiatedVersion(), Degraded: v})
}

// Connect dials, performs the handshake and starts the read and write loops.
// On failure the connection returns to Disconnected and a *ConnectError is
// returned.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.transition(EvConnect, 0, nil); err != nil {
		if c.State() == StateClosed {
			return ErrClosed
		}
		return ErrNotDisconnected
	}
	_, err := c.establish(ctx, 0, true)
	return err
}

// establish runs one dial+handshake attempt. The initial attempt performs its
// own failure transitions; reconnect attempts leave that to the caller.
func (c *Connection) establish(ctx context.Context, attempt int, initial bool) (Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	started := time.Now()
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		cerr := &ConnectError{URL: c.cfg.URL, Attempt: attempt, Err: err}
		if initial {
			_ = c.transition(EvDialFailed, attempt, cerr)
		} else {
			metrics.RecordReconnectAttempt("dial_error")
		}
		return nil, cerr
	}
	if err := c.transition(EvDialed, attempt, nil); err != nil {
		_ = conn.Close()
		return nil, ErrClosed
	}

	ack, err := c.handshake(ctx, conn)
	if err == nil {
		err = c.writeRestore(ctx, conn)
	}
	if err != nil {
		_ = conn.Close()
		metrics.ObserveHandshake("error", time.Since(started))
		cerr := &ConnectError{URL: c.cfg.URL, Attempt: attempt, Err: err}
		if initial {
			_ = c.transition(EvHandshakeFailed, attempt, cerr)
		} else {
			metrics.RecordReconnectAttempt("handshake_error")
		}
		return nil, cerr
	}

	c.mu.Lock()
	tr, ok := TransitionFor(c.state, EvAckAccepted)
	if !ok {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	c.state = tr.To
	c.conn = conn
	c.serverCaps = ack.Capabilities
	c.lastActivity = time.Now()
	c.exhausted = nil
	if initial {
		c.runDone = make(chan struct{})
	}
	runDone := c.runDone
	c.mu.Unlock()

	metrics.ObserveHandshake("ok", time.Since(started))
	c.announce(tr, attempt, nil)
	if initial {
		go c.run(conn, runDone)
	}
	return conn, nil
}

func (c *Connection) handshake(ctx context.Context, conn Conn) (protocol.HandshakeAck, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	hello := protocol.Global(protocol.Handshake{
		ClientVersion:     c.codec.ClientVersion(),
		SupportedVersions: c.codec.Supported(),
		Capabilities:      c.cfg.Capabilities,
	})
	data, err := c.codec.Encode(hello)
	if err != nil {
		return protocol.HandshakeAck{}, err
	}
	if err := conn.Write(ctx, data); err != nil {
		return protocol.HandshakeAck{}, handshakeErr(ctx, err)
	}

	raw, err := conn.Read(ctx)
	if err != nil {
		return protocol.HandshakeAck{}, handshakeErr(ctx, err)
	}
	ev, err := c.codec.Decode(raw)
	if err != nil {
		return protocol.HandshakeAck{}, err
	}
	ack, ok := ev.Payload.(protocol.HandshakeAck)
	if !ok {
		return protocol.HandshakeAck{}, fmt.Errorf("transport: expected %s, got %s", protocol.TypeHandshakeAck, ev.Type)
	}
	if ack.Rejected() {
		return ack, fmt.Errorf("%w: %s", ErrHandshakeRejected, ack.Reason)
	}

	version, err := c.pickVersion(ack)
	if err != nil {
		return ack, err
	}
	enc := protocol.SelectEncoding(c.cfg.Capabilities, ack.Capabilities)
	if err := c.codec.Negotiate(version, enc); err != nil {
		if errors.Is(err, protocol.ErrVersionImmutable) {
			return ack, fmt.Errorf("%w: %v", ErrVersionChanged, err)
		}
		return ack, err
	}
	c.logger.Debug().
		Str(xlog.FieldVersion, version).
		Str("encoding", string(enc)).
		Strs("server_capabilities", ack.Capabilities).
		Msg("handshake accepted")
	return ack, nil
}

// pickVersion honours the version the backend negotiated. Without one it
// settles on the highest version both sides support.
func (c *Connection) pickVersion(ack protocol.HandshakeAck) (string, error) {
	switch {
	case ack.NegotiatedVersion != "":
		return protocol.Negotiate(c.codec.Supported(), []string{ack.NegotiatedVersion})
	case len(ack.SupportedVersions) > 0:
		return protocol.Negotiate(c.codec.Supported(), ack.SupportedVersions)
	default:
		return protocol.Negotiate(c.codec.Supported(), []string{ack.ServerVersion})
	}
}

func handshakeErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrHandshakeTimeout
	}
	return err
}

func (c *Connection) writeRestore(ctx context.Context, conn Conn) error {
	if c.restore == nil {
		return nil
	}
	for _, ev := range c.restore(ctx) {
		data, err := c.codec.Encode(ev)
		if err != nil {
			c.logger.Error().Err(err).Str(xlog.FieldEventType, string(ev.Type)).Msg("skipping unencodable restore event")
			continue
		}
		if err := conn.Write(ctx, data); err != nil {
			return err
		}
		metrics.RecordFrame("out", string(ev.Type))
	}
	return nil
}

// run serves the link and reconnects after unexpected loss until the retry
// ceiling is reached or the connection is closed.
func (c *Connection) run(conn Conn, done chan struct{}) {
	defer close(done)
	for {
		err := c.serve(c.life, conn)
		_ = conn.Close()
		if c.life.Err() != nil {
			return
		}
		if terr := c.transition(EvLinkLost, 0, err); terr != nil {
			// Draining: Close owns the rest of the shutdown.
			return
		}
		conn, err = c.reconnect()
		if err != nil {
			return
		}
	}
}

func (c *Connection) serve(ctx context.Context, conn Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, conn) })
	g.Go(func() error { return c.writeLoop(gctx, conn) })
	return g.Wait()
}

func (c *Connection) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.touch()
		ev, err := c.codec.Decode(data)
		if err != nil {
			kind := "unknown"
			var ce *protocol.CodecError
			if errors.As(err, &ce) {
				kind = string(ce.Kind)
			}
			metrics.RecordCodecError(kind)
			c.logger.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		metrics.RecordFrame("in", string(ev.Type))
		select {
		case c.inbound <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context, conn Conn) error {
	for {
		e, err := c.queue.Next(ctx)
		if err != nil {
			return err
		}
		data, err := c.codec.Encode(e.Event)
		if err != nil {
			c.logger.Error().Err(err).
				Str(xlog.FieldEventID, e.Event.EventID.String()).
				Str(xlog.FieldEventType, string(e.Event.Type)).
				Msg("dropping unencodable outbound event")
			metrics.RecordOutboundDrop(string(e.Event.Type), "encode_error")
			c.queue.Ack(e)
			continue
		}
		if err := conn.Write(ctx, data); err != nil {
			return err
		}
		c.touch()
		metrics.RecordFrame("out", string(e.Event.Type))
		c.queue.Ack(e)
	}
}

func (c *Connection) reconnect() (Conn, error) {
	var (
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= c.cfg.MaxRetries; attempt++ {
		c.setRetry(attempt)
		delay := c.cfg.Backoff.Delay(attempt - 1)
		c.logger.Info().
			Int(xlog.FieldAttempt, attempt).
			Dur(xlog.FieldBackoff, delay).
			Msg("reconnecting")
		c.publish(Status{State: c.State(), Attempt: attempt, MaxRetries: c.cfg.MaxRetries, Version: c.NegotiatedVersion(), Err: lastErr})

		if err := sleepCtx(c.life, delay); err != nil {
			return nil, err
		}
		conn, err := c.establish(c.life, attempt, false)
		if err == nil {
			metrics.RecordReconnectAttempt("success")
			c.setRetry(0)
			return conn, nil
		}
		lastErr = err
		if c.life.Err() != nil || errors.Is(err, ErrClosed) {
			return nil, err
		}
		var cerr *ConnectError
		if errors.As(err, &cerr) && cerr.Fatal() {
			break
		}
		if c.State() == StateHandshaking {
			if terr := c.transition(EvRetry, attempt, err); terr != nil {
				return nil, ErrClosed
			}
		}
	}

	metrics.RecordReconnectAttempt("gave_up")
	c.setRetry(0)
	if attempt > c.cfg.MaxRetries {
		attempt = c.cfg.MaxRetries
	}
	final := fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
	c.mu.Lock()
	c.exhausted = final
	c.mu.Unlock()
	if terr := c.transition(EvGaveUp, attempt, final); terr != nil {
		return nil, ErrClosed
	}
	return nil, final
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues ev for delivery. It fails with ErrClosed once Close started,
// with ErrRetriesExhausted after reconnecting gave up and until Connect
// succeeds again, and with ErrBackpressure when a critical event cannot be
// admitted in time. Droppable events that find no room are discarded and
// counted.
func (c *Connection) Send(ctx context.Context, ev protocol.Event) error {
	c.mu.Lock()
	state, exhausted := c.state, c.exhausted
	c.mu.Unlock()
	switch {
	case state == StateDraining, state == StateClosed:
		return ErrClosed
	case state == StateDisconnected && exhausted != nil:
		return exhausted
	}
	if ev.Type == "" && ev.Payload != nil {
		ev.Type = ev.Payload.Type()
	}
	if v, ok := c.codec.Negotiated(); ok {
		if nv, err := protocol.ParseVersion(v); err == nil && !ev.Type.AvailableIn(nv) {
			return &protocol.CodecError{Kind: protocol.KindUnavailable, Type: ev.Type, Version: v}
		}
	}
	return c.queue.Push(ctx, ev, c.cfg.CriticalWait)
}

// Close shuts the connection down. From Open it drains first: ephemeral events
// are purged and the rest are flushed for up to the close grace period.
func (c *Connection) Close(ctx context.Context) error {
	for {
		switch c.State() {
		case StateClosed:
			return nil
		case StateDraining:
			select {
			case <-c.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		case StateOpen:
			if err := c.transition(EvClose, 0, nil); err != nil {
				continue
			}
			c.drain(ctx)
			c.lifeCancel()
			c.waitRun()
			_ = c.transition(EvDrained, 0, nil)
			c.finish()
			return nil
		default:
			if err := c.transition(EvClose, 0, nil); err != nil {
				continue
			}
			c.lifeCancel()
			c.waitRun()
			c.finish()
			return nil
		}
	}
}

func (c *Connection) drain(ctx context.Context) {
	if n := c.queue.PurgeEphemeral(); n > 0 {
		c.logger.Debug().Int("purged", n).Msg("purged ephemeral events before close")
	}
	grace, cancel := context.WithTimeout(ctx, c.cfg.CloseGrace)
	defer cancel()
	if err := c.queue.WaitEmpty(grace); err != nil {
		c.logger.Warn().
			Int(xlog.FieldQueueLen, c.queue.Len()).
			Msg("close grace expired with events unsent")
	}
}

func (c *Connection) waitRun() {
	c.mu.Lock()
	done := c.runDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Connection) finish() {
	c.queue.Close()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.inboundOnce.Do(func() { close(c.inbound) })
	close(c.done)
}
