// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/log"
	"github.com/ManuGH/ztc/internal/protocol"
	"github.com/ManuGH/ztc/internal/session"
	"github.com/ManuGH/ztc/internal/telemetry"
)

// ErrUnsupported is returned when the negotiated schema version lacks the
// event type an operation needs.
var ErrUnsupported = errors.New("engine: not supported by negotiated protocol version")

// Sessions lists every open session.
func (e *Engine) Sessions() []session.Info { return e.registry.List() }

// ActiveSession returns the id of the active session.
func (e *Engine) ActiveSession() uuid.UUID { return e.registry.ActiveID() }

// History returns the recorded events of a session.
func (e *Engine) History(id uuid.UUID) ([]protocol.Event, error) {
	s, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return s.History(), nil
}

// NewSession opens a session and makes it active. On 0.2.0 links the backend
// is told with session_create; the session is confirmed when session_created
// arrives.
func (e *Engine) NewSession(ctx context.Context, workspace, branch string) (session.Info, error) {
	s := e.registry.Create(workspace, branch)
	if e.available(protocol.TypeSessionCreate) {
		ev := protocol.ForSession(s.ID, protocol.SessionCreate{Workspace: workspace, Branch: branch})
		if err := e.conn.Send(ctx, ev); err != nil {
			return e.infoFor(s), fmt.Errorf("engine: announce session %s: %w", s.ID, err)
		}
	}
	info := e.infoFor(s)
	e.emit(Update{Kind: UpdateSession, SessionID: s.ID, Foreground: true, Session: &info})
	return info, nil
}

// SwitchSession makes id the active session.
func (e *Engine) SwitchSession(id uuid.UUID) error {
	if err := e.registry.Switch(id); err != nil {
		return err
	}
	s, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	info := e.infoFor(s)
	e.emit(Update{Kind: UpdateSession, SessionID: id, Foreground: true, Session: &info})
	return nil
}

// CloseSession closes id. Without force a session with pending actions is
// refused with *session.BusyError.
func (e *Engine) CloseSession(ctx context.Context, id uuid.UUID, force bool) (session.Info, error) {
	info, err := e.registry.Close(ctx, id, force)
	if err != nil {
		return session.Info{}, err
	}
	if e.available(protocol.TypeSessionClose) {
		if err := e.conn.Send(ctx, protocol.ForSession(id, protocol.SessionClose{Force: force})); err != nil {
			e.logger.Warn().Err(err).Str(log.FieldSessionID, id.String()).Msg("session_close not queued")
		}
	}
	e.emit(Update{Kind: UpdateSession, SessionID: id, Session: &info})
	return info, nil
}

// Compare returns the latest diffs of two sessions side by side.
func (e *Engine) Compare(a, b uuid.UUID) (session.ComparisonView, error) {
	return e.registry.PairForComparison(a, b)
}

// SendMessage starts a turn in the active session with a user message.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	var s *session.Session
	err := e.registry.WithActive(func(active *session.Session) error {
		if _, err := active.BeginTurn(); err != nil {
			return err
		}
		ev := protocol.ForSession(active.ID, protocol.UserMessage{Text: text})
		active.Record(ev)
		s = active
		return e.conn.Send(ctx, ev)
	})
	if s != nil {
		e.refresh(s)
	}
	return err
}

// Pending returns the pending actions of every session, active session first.
func (e *Engine) Pending() []approval.PendingAction {
	var out []approval.PendingAction
	active, ok := e.registry.Active()
	if ok {
		out = append(out, active.Book().Pending()...)
	}
	for _, s := range e.registry.Sessions() {
		if ok && s.ID == active.ID {
			continue
		}
		out = append(out, s.Book().Pending()...)
	}
	return out
}

// owner finds the session holding actionID, looking at the active session
// first.
func (e *Engine) owner(actionID string) (*session.Session, error) {
	if s, ok := e.registry.Active(); ok {
		if _, found := s.Book().Get(actionID); found {
			return s, nil
		}
	}
	for _, s := range e.registry.Sessions() {
		if _, found := s.Book().Get(actionID); found {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", approval.ErrActionNotFound, actionID)
}

// Decide applies a user verdict to actionID.
func (e *Engine) Decide(ctx context.Context, actionID string, v approval.Verdict) (approval.PendingAction, error) {
	s, err := e.owner(actionID)
	if err != nil {
		return approval.PendingAction{}, err
	}
	before, _ := s.Book().Get(actionID)

	ctx, span := telemetry.Start(ctx, "approval.decide",
		telemetry.ApprovalAttributes(s.ID.String(), actionID, before.Kind, string(before.Level), string(v.Outcome))...)
	a, err := e.machine.Decide(ctx, s.Book(), actionID, v)
	telemetry.End(span, err)

	if a.Disposition.IsTerminal() && !before.Disposition.IsTerminal() {
		e.refresh(s)
		e.emitDecision(s, a, s.ID == e.registry.ActiveID())
	}
	return a, err
}

// DecideAll applies v to every pending action of the active session.
func (e *Engine) DecideAll(ctx context.Context, v approval.Verdict) ([]approval.PendingAction, error) {
	active, ok := e.registry.Active()
	if !ok {
		return nil, session.ErrNoActive
	}
	var (
		out  []approval.PendingAction
		errs []error
	)
	for _, p := range active.Book().Pending() {
		a, err := e.Decide(ctx, p.ActionID, v)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, a)
	}
	return out, errors.Join(errs...)
}

// Interrupt stops the current turn of the active session: its pending
// actions are rejected and the backend is sent an interrupt.
func (e *Engine) Interrupt(ctx context.Context, reason string) ([]approval.PendingAction, error) {
	active, ok := e.registry.Active()
	if !ok {
		return nil, session.ErrNoActive
	}
	book := active.Book()
	rejected, err := e.machine.Interrupt(ctx, book, book.Turn())
	sendErr := e.conn.Send(ctx, protocol.ForSession(active.ID, protocol.Interrupt{Reason: reason}))
	active.EndTurn()
	e.refresh(active)
	for _, a := range rejected {
		if a.Disposition == approval.DispositionRejected {
			e.emitDecision(active, a, true)
		}
	}
	return rejected, errors.Join(err, sendErr)
}

// SetChannel toggles a text_chunk channel.
func (e *Engine) SetChannel(name string, enabled bool) { e.router.SetChannel(name, enabled) }

// Channels returns the channel filter.
func (e *Engine) Channels() map[string]bool { return e.router.Channels() }

// UploadFile sends content to the backend under name.
func (e *Engine) UploadFile(ctx context.Context, name string, content []byte) error {
	if !e.available(protocol.TypeUploadFile) {
		return ErrUnsupported
	}
	ev := protocol.Global(protocol.UploadFile{
		Filename: name,
		FileData: base64.StdEncoding.EncodeToString(content),
	})
	if id := e.registry.ActiveID(); id != uuid.Nil {
		ev = protocol.ForSession(id, ev.Payload)
	}
	return e.conn.Send(ctx, ev)
}

// DownloadFile requests name from the backend and waits for the reply or
// ctx.
func (e *Engine) DownloadFile(ctx context.Context, name string) ([]byte, error) {
	if !e.available(protocol.TypeRequestFileDownload) {
		return nil, ErrUnsupported
	}
	wait := make(chan protocol.FileDownload, 1)
	e.dlMu.Lock()
	e.downloads[name] = append(e.downloads[name], wait)
	e.dlMu.Unlock()

	ev := protocol.Global(protocol.RequestFileDownload{Filename: name})
	if id := e.registry.ActiveID(); id != uuid.Nil {
		ev = protocol.ForSession(id, ev.Payload)
	}
	if err := e.conn.Send(ctx, ev); err != nil {
		e.dropWaiter(name, wait)
		return nil, err
	}

	select {
	case p := <-wait:
		return p.Content()
	case <-ctx.Done():
		e.dropWaiter(name, wait)
		return nil, ctx.Err()
	case <-e.stop:
		e.dropWaiter(name, wait)
		return nil, ErrStopped
	}
}

func (e *Engine) dropWaiter(name string, wait chan protocol.FileDownload) {
	e.dlMu.Lock()
	defer e.dlMu.Unlock()
	list := e.downloads[name]
	for i, w := range list {
		if w == wait {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(e.downloads, name)
	} else {
		e.downloads[name] = list
	}
}

// ExportSessions writes a JSON snapshot of every session to path atomically.
func (e *Engine) ExportSessions(path string) error {
	data, err := json.MarshalIndent(e.registry.List(), "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(data, '\n'), 0o600)
}
