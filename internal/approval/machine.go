// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ztc/internal/audit"
	"github.com/ManuGH/ztc/internal/log"
	"github.com/ManuGH/ztc/internal/metrics"
	"github.com/ManuGH/ztc/internal/protocol"
)

// Clock abstracts time for timeouts.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// SendFunc hands an outbound event to the transport.
type SendFunc func(ctx context.Context, ev protocol.Event) error

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(m *Machine) { m.clock = c } }

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Machine) { m.logger = l } }

// WithTrustStore shares a trust store, e.g. one seeded from configuration.
func WithTrustStore(t *TrustStore) Option { return func(m *Machine) { m.trust = t } }

// WithTimeoutHandler is called after a timer expired an action.
func WithTimeoutHandler(fn func(PendingAction)) Option {
	return func(m *Machine) { m.onTimeout = fn }
}

// Machine applies the approval policy to the books of every session.
type Machine struct {
	policy Policy
	sink   audit.Sink
	send   SendFunc
	trust  *TrustStore
	clock  Clock
	logger zerolog.Logger

	onTimeout func(PendingAction)

	mu     sync.Mutex
	closed bool
	timers map[string]func() bool
}

// NewMachine creates a machine. sink must be durable: a failed audit write
// fails the transition it records.
func NewMachine(policy Policy, sink audit.Sink, send SendFunc, opts ...Option) (*Machine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy.Mode == "" {
		policy.Mode = ModeManual
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	m := &Machine{
		policy: policy,
		sink:   sink,
		send:   send,
		trust:  NewTrustStore(),
		clock:  realClock{},
		logger: log.WithComponent("approval"),
		timers: make(map[string]func() bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Policy returns the active policy.
func (m *Machine) Policy() Policy { return m.policy }

// Trust returns the workspace trust store.
func (m *Machine) Trust() *TrustStore { return m.trust }

// Propose registers a request_approval event in book. A repeated action id
// returns the existing action with created=false and writes nothing. When the
// policy resolves the action immediately, the returned snapshot is already
// terminal.
func (m *Machine) Propose(ctx context.Context, book *Book, ev protocol.Event) (PendingAction, bool, error) {
	req, ok := ev.Payload.(protocol.RequestApproval)
	if !ok {
		return PendingAction{}, false, fmt.Errorf("approval: propose with %s payload", ev.Type)
	}
	req.Kind = protocol.NormalizeKind(req.Kind)
	if m.isClosed() {
		return PendingAction{}, false, ErrClosed
	}

	book.mu.Lock()
	if e, dup := book.actions[req.ActionID]; dup {
		book.mu.Unlock()
		m.logger.Debug().Str(log.FieldActionID, req.ActionID).Msg("duplicate proposal ignored")
		return e.action, false, nil
	}

	level := Classify(req, book.workspace, m.trust.Trusted(book.workspace))
	a := PendingAction{
		ActionID:       req.ActionID,
		SessionID:      book.sessionID,
		TaskID:         req.TaskID,
		Turn:           book.turn,
		Kind:           req.Kind,
		Level:          level,
		Description:    req.Description,
		Details:        req.Details,
		Path:           req.Path,
		Command:        req.Command,
		Cwd:            req.Cwd,
		Request:        req,
		RequestEventID: ev.EventID,
		CreatedAt:      m.clock.Now(),
		Disposition:    DispositionProposed,
	}
	if err := apply(&a, EvRegister); err != nil {
		book.mu.Unlock()
		return PendingAction{}, false, err
	}
	if err := m.sink.Write(ctx, audit.Record{
		Timestamp:     a.CreatedAt,
		Type:          audit.EventProposed,
		SessionID:     a.SessionID.String(),
		ActionID:      a.ActionID,
		Kind:          a.Kind,
		Level:         string(a.Level),
		Disposition:   string(a.Disposition),
		OutcomeDetail: a.Description,
		Actor:         string(ActorSystem),
	}); err != nil {
		book.mu.Unlock()
		return PendingAction{}, false, fmt.Errorf("approval: audit proposal %s: %w", a.ActionID, err)
	}
	book.actions[a.ActionID] = &entry{action: a, request: ev}
	book.order = append(book.order, a.ActionID)

	newlyComplete := req.PlanComplete && !book.planComplete[req.TaskID]
	if req.PlanComplete {
		book.planComplete[req.TaskID] = true
	}
	var auto []string
	if newlyComplete && m.policy.Mode == ModeBatch {
		for _, id := range book.order {
			p := book.actions[id].action
			if p.Disposition == DispositionPending && p.TaskID == req.TaskID && p.Level == LevelReview {
				auto = append(auto, id)
			}
		}
	} else if m.policy.autoApproves(level, book.planComplete[req.TaskID]) {
		auto = append(auto, a.ActionID)
	}
	book.mu.Unlock()

	metrics.RecordProposal(string(level), a.Kind)
	metrics.AddPendingApprovals(1)
	m.logger.Info().
		Str(log.FieldSessionID, a.SessionID.String()).
		Str(log.FieldActionID, a.ActionID).
		Str(log.FieldKind, a.Kind).
		Str(log.FieldLevel, string(level)).
		Msg("action proposed")

	var firstErr error
	for _, id := range auto {
		detail := fmt.Sprintf("auto-approved by %s policy", m.policy.Mode)
		if _, err := m.resolve(ctx, book, id, EvApprove, nil, "", ActorPolicy, audit.EventAutoDecided, detail); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	snap, _ := book.Get(a.ActionID)
	if snap.Disposition == DispositionPending {
		m.schedule(book, snap)
	}
	return snap, true, firstErr
}

// Decide applies a user verdict. Deciding an already terminal action
// returns its stored state and no error.
func (m *Machine) Decide(ctx context.Context, book *Book, actionID string, v Verdict) (PendingAction, error) {
	ev, err := eventFor(v.Outcome)
	if err != nil {
		return PendingAction{}, err
	}
	var detail string
	switch v.Outcome {
	case OutcomeApprove:
		detail = "approved by user"
	case OutcomeReject:
		detail = "rejected by user"
	case OutcomeModify:
		detail = "modified by user"
	}
	if v.Reason != "" {
		detail += ": " + v.Reason
	}
	return m.resolve(ctx, book, actionID, ev, v.Modifications, v.Reason, ActorUser, audit.EventDecided, detail)
}

// Expire resolves a pending action as Expired. The backend is told
// approved=false with reason "expired"; reason is kept in the audit record.
func (m *Machine) Expire(ctx context.Context, book *Book, actionID, reason string) (PendingAction, error) {
	typ := audit.EventExpired
	if reason == ReasonForceClosed {
		typ = audit.EventForceClosed
	}
	return m.resolve(ctx, book, actionID, EvExpire, nil, ReasonExpired, ActorSystem, typ, "expired: "+reason)
}

// ExpireAll expires every pending action in book.
func (m *Machine) ExpireAll(ctx context.Context, book *Book, reason string) ([]PendingAction, error) {
	var (
		out      []PendingAction
		firstErr error
	)
	for _, p := range book.Pending() {
		a, err := m.Expire(ctx, book, p.ActionID, reason)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out = append(out, a)
	}
	return out, firstErr
}

// Interrupt rejects the pending actions proposed during turn.
func (m *Machine) Interrupt(ctx context.Context, book *Book, turn uint64) ([]PendingAction, error) {
	var (
		out      []PendingAction
		firstErr error
	)
	for _, p := range book.Pending() {
		if p.Turn != turn {
			continue
		}
		a, err := m.resolve(ctx, book, p.ActionID, EvReject, nil, ReasonInterrupted, ActorUser, audit.EventInterrupted, "rejected: interrupted")
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out = append(out, a)
	}
	return out, firstErr
}

// Acknowledge marks the response for actionID as seen by the backend.
func (m *Machine) Acknowledge(ctx context.Context, book *Book, actionID string) error {
	book.mu.Lock()
	defer book.mu.Unlock()
	e, ok := book.actions[actionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	if e.action.Delivered || !e.action.Disposition.IsTerminal() {
		return nil
	}
	e.action.Delivered = true
	if err := m.sink.Write(ctx, audit.Record{
		Type:          audit.EventDeliveryAcked,
		SessionID:     e.action.SessionID.String(),
		ActionID:      actionID,
		Kind:          e.action.Kind,
		Level:         string(e.action.Level),
		Disposition:   string(e.action.Disposition),
		OutcomeDetail: "response acknowledged by backend",
		Actor:         string(ActorSystem),
	}); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldActionID, actionID).Msg("audit delivery ack failed")
	}
	return nil
}

// ResendEvents returns what book must replay after a reconnect: the original
// request_approval event of every pending action, then every decided response
// that never reached the transport.
func (m *Machine) ResendEvents(book *Book) []protocol.Event {
	book.mu.Lock()
	defer book.mu.Unlock()
	var requests, responses []protocol.Event
	for _, id := range book.order {
		e := book.actions[id]
		switch {
		case e.action.Disposition == DispositionPending:
			requests = append(requests, e.request)
		case e.response != nil && !e.queued:
			responses = append(responses, *e.response)
			e.queued = true
		}
	}
	return append(requests, responses...)
}

// Close stops every timeout. Further proposals fail with ErrClosed.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for key, stop := range m.timers {
		stop()
		delete(m.timers, key)
	}
}

func (m *Machine) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func timerKey(book *Book, actionID string) string {
	return book.sessionID.String() + "/" + actionID
}

func (m *Machine) schedule(book *Book, a PendingAction) {
	d := m.policy.Timeout(a.Level)
	if d <= 0 {
		return
	}
	key := timerKey(book, a.ActionID)
	book.mu.Lock()
	defer book.mu.Unlock()
	// A decision may have landed between Propose releasing the book and here.
	if e, ok := book.actions[a.ActionID]; !ok || e.action.Disposition != DispositionPending {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.timers[key]; ok {
		return
	}
	m.timers[key] = m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		delete(m.timers, key)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		expired, err := m.Expire(ctx, book, a.ActionID, ReasonTimeout)
		if err != nil {
			m.logger.Warn().Err(err).Str(log.FieldActionID, a.ActionID).Msg("timeout expiry failed")
		}
		if m.onTimeout != nil && expired.Disposition == DispositionExpired {
			m.onTimeout(expired)
		}
	})
}

// armedTimers reports how many expiry timers are outstanding.
func (m *Machine) armedTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// unschedule must be called with the book lock held.
func (m *Machine) unschedule(book *Book, actionID string) {
	key := timerKey(book, actionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.timers[key]; ok {
		stop()
		delete(m.timers, key)
	}
}

// resolve moves a pending action to a terminal disposition. The audit record
// is written under the book lock before the action is committed, and the
// response is sent only after both.
func (m *Machine) resolve(ctx context.Context, book *Book, actionID string, ev EventKind, mods []byte, reason string, actor Actor, typ audit.EventType, detail string) (PendingAction, error) {
	book.mu.Lock()
	e, ok := book.actions[actionID]
	if !ok {
		book.mu.Unlock()
		return PendingAction{}, fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	if e.action.Disposition.IsTerminal() {
		snap := e.action
		book.mu.Unlock()
		return snap, nil
	}
	if actor != ActorUser && e.action.Level == LevelDangerous && (ev == EvApprove || ev == EvModify) {
		snap := e.action
		book.mu.Unlock()
		return snap, ErrUserDecisionRequired
	}
	if ev == EvModify && len(mods) == 0 {
		snap := e.action
		book.mu.Unlock()
		return snap, ErrModificationsRequired
	}

	next := e.action
	if err := apply(&next, ev); err != nil {
		book.mu.Unlock()
		return e.action, err
	}
	next.DecidedAt = m.clock.Now()
	next.DecidedBy = actor
	next.Reason = reason
	next.Modifications = mods

	approved := ev == EvApprove || ev == EvModify
	resp := protocol.ForSession(book.sessionID, protocol.ApprovalResponse{
		ActionID:      actionID,
		Approved:      approved,
		Modifications: mods,
		Reason:        reason,
	})
	next.ResponseEventID = resp.EventID

	if err := m.sink.Write(ctx, audit.Record{
		Timestamp:     next.DecidedAt,
		Type:          typ,
		SessionID:     next.SessionID.String(),
		ActionID:      actionID,
		Kind:          next.Kind,
		Level:         string(next.Level),
		Disposition:   string(next.Disposition),
		OutcomeDetail: detail,
		Actor:         string(actor),
		LatencyMS:     next.Latency().Milliseconds(),
	}); err != nil {
		snap := e.action
		book.mu.Unlock()
		return snap, fmt.Errorf("approval: audit %s: %w", actionID, err)
	}

	e.action = next
	e.response = &resp
	m.unschedule(book, actionID)

	if next.Level == LevelTrust && approved {
		m.grantTrust(ctx, book, next)
	}
	book.mu.Unlock()

	metrics.RecordDecision(string(next.Level), string(next.Disposition), string(actor), next.Latency())
	metrics.AddPendingApprovals(-1)
	m.logger.Info().
		Str(log.FieldSessionID, next.SessionID.String()).
		Str(log.FieldActionID, actionID).
		Str(log.FieldLevel, string(next.Level)).
		Str(log.FieldDisposition, string(next.Disposition)).
		Str("actor", string(actor)).
		Msg("action resolved")

	if m.send == nil {
		return next, nil
	}
	if err := m.send(ctx, resp); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldActionID, actionID).Msg("approval response not queued, will resend on reconnect")
		return next, &DeliveryError{ActionID: actionID, Err: err}
	}
	book.mu.Lock()
	e.queued = true
	book.mu.Unlock()
	return next, nil
}

// grantTrust must be called with the book lock held.
func (m *Machine) grantTrust(ctx context.Context, book *Book, a PendingAction) {
	if !m.trust.Grant(book.workspace) {
		return
	}
	if err := m.sink.Write(ctx, audit.Record{
		Type:          audit.EventTrustGranted,
		SessionID:     a.SessionID.String(),
		ActionID:      a.ActionID,
		Kind:          a.Kind,
		Level:         string(a.Level),
		Disposition:   string(a.Disposition),
		OutcomeDetail: "workspace trusted: " + book.workspace,
		Actor:         string(a.DecidedBy),
	}); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldWorkspace, book.workspace).Msg("audit trust grant failed")
	}
}
