// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"errors"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/dispatch"
	"github.com/ManuGH/ztc/internal/log"
	"github.com/ManuGH/ztc/internal/protocol"
	"github.com/ManuGH/ztc/internal/session"
	"github.com/ManuGH/ztc/internal/telemetry"
)

func (e *Engine) handle(ev protocol.Event) {
	d, err := e.router.Admit(ev, e.registry.ActiveID())
	var violation *dispatch.ProtocolViolation
	switch {
	case err == nil:
		e.deliver(ev, d, true)
	case errors.Is(err, dispatch.ErrFiltered):
		e.deliver(ev, d, false)
	case errors.Is(err, dispatch.ErrDuplicate), errors.Is(err, dispatch.ErrHeld):
	case errors.As(err, &violation):
		e.logger.Warn().Err(err).Str(log.FieldEventType, string(ev.Type)).Msg("protocol violation, event ignored")
	default:
		e.logger.Error().Err(err).Str(log.FieldEventType, string(ev.Type)).Msg("dispatch failed")
	}
}

// deliver hands a routed event to its consumer. forward=false keeps the event
// out of the update feed while still recording it.
func (e *Engine) deliver(ev protocol.Event, d dispatch.Decision, forward bool) {
	ctx := context.Background()
	switch d.Target {
	case dispatch.TargetApproval:
		e.deliverApproval(ctx, ev, d)
	case dispatch.TargetSessions:
		e.deliverSession(ctx, ev, d)
	case dispatch.TargetFiles:
		e.deliverFile(ev)
	default:
		e.deliverPresentation(ev, d, forward)
	}
}

func (e *Engine) sessionFor(ev protocol.Event, d dispatch.Decision) (*session.Session, bool) {
	s, err := e.registry.Get(d.Session)
	if err != nil {
		e.logger.Warn().
			Str(log.FieldEventType, string(ev.Type)).
			Str(log.FieldSessionID, uuidOrEmpty(d.Session)).
			Msg("event for unknown session dropped")
		return nil, false
	}
	return s, true
}

func (e *Engine) deliverApproval(ctx context.Context, ev protocol.Event, d dispatch.Decision) {
	s, ok := e.sessionFor(ev, d)
	if !ok {
		return
	}
	book := s.Book()

	switch p := ev.Payload.(type) {
	case protocol.RequestApproval:
		s.Record(ev)
		before := book.Pending()

		ctx, span := telemetry.Start(ctx, "approval.propose",
			telemetry.EventAttributes(string(ev.Type), ev.EventID.String(), s.ID.String())...)
		a, created, err := e.machine.Propose(ctx, book, ev)
		telemetry.End(span, err)
		if err != nil {
			e.logger.Error().Err(err).Str(log.FieldActionID, p.ActionID).Msg("proposal failed")
			e.emit(Update{Kind: UpdateWarning, SessionID: s.ID, Foreground: d.Foreground, Message: err.Error()})
		}
		if !created {
			return
		}
		e.refresh(s)
		e.emit(Update{Kind: UpdateProposal, SessionID: s.ID, Foreground: d.Foreground, Action: &a})
		for _, prev := range before {
			if cur, ok := book.Get(prev.ActionID); ok && cur.Disposition.IsTerminal() {
				e.emitDecision(s, cur, d.Foreground)
			}
		}
		if a.Disposition.IsTerminal() {
			e.emitDecision(s, a, d.Foreground)
		}

	case protocol.ApprovalResponse:
		if err := e.machine.Acknowledge(ctx, book, p.ActionID); err != nil {
			e.logger.Warn().Err(err).Str(log.FieldActionID, p.ActionID).Msg("response echo for unknown action")
		}
	}
}

func (e *Engine) emitDecision(s *session.Session, a approval.PendingAction, foreground bool) {
	e.emit(Update{Kind: UpdateDecision, SessionID: s.ID, Foreground: foreground, Action: &a})
}

func (e *Engine) deliverSession(ctx context.Context, ev protocol.Event, d dispatch.Decision) {
	switch p := ev.Payload.(type) {
	case protocol.SessionCreated:
		s, err := e.registry.Get(d.Session)
		if err == nil {
			s.Confirm(p.Workspace, p.Branch)
		} else if s, err = e.registry.Adopt(d.Session, p.Workspace, p.Branch); err != nil {
			e.logger.Warn().Err(err).Msg("session adoption failed")
			return
		}
		info := e.infoFor(s)
		e.emit(Update{Kind: UpdateSession, SessionID: s.ID, Foreground: info.Active, Session: &info})

		for _, r := range e.router.Release(s.ID, e.registry.ActiveID()) {
			e.deliver(r.Event, r.Decision, true)
		}

	case protocol.SessionClosed:
		info, err := e.registry.Close(ctx, d.Session, true)
		if err != nil {
			e.logger.Warn().Err(err).Str(log.FieldSessionID, uuidOrEmpty(d.Session)).Msg("backend closed unknown session")
			return
		}
		e.logger.Info().Str(log.FieldSessionID, info.ID.String()).Str(log.FieldReason, p.Reason).Msg("session closed by backend")
		e.emit(Update{Kind: UpdateSession, SessionID: info.ID, Session: &info, Message: p.Reason})
	}
}

func (e *Engine) deliverFile(ev protocol.Event) {
	p, ok := ev.Payload.(protocol.FileDownload)
	if !ok {
		return
	}
	e.dlMu.Lock()
	waiters := e.downloads[p.Filename]
	delete(e.downloads, p.Filename)
	e.dlMu.Unlock()

	if len(waiters) == 0 {
		e.logger.Warn().Str(log.FieldPath, p.Filename).Msg("unsolicited file download dropped")
		return
	}
	for _, w := range waiters {
		w <- p
	}
}

func (e *Engine) deliverPresentation(ev protocol.Event, d dispatch.Decision, forward bool) {
	s, ok := e.sessionFor(ev, d)
	if !ok {
		return
	}
	s.Record(ev)
	switch p := ev.Payload.(type) {
	case protocol.Interrupt:
		s.EndTurn()
	case protocol.TextChunk:
		if p.Channel == dispatch.ChannelUpdate {
			s.EndTurn()
		}
	}
	e.refresh(s)
	if forward {
		ev := ev
		e.emit(Update{Kind: UpdateEvent, SessionID: s.ID, Foreground: d.Foreground, Event: &ev})
	}
}
