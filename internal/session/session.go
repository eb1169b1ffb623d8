// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session keeps the set of concurrent task sessions multiplexed over
// one backend connection. Each session owns its history and its approval
// book; nothing is shared between sessions.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/protocol"
)

// DefaultHistoryLimit bounds a session's event history.
const DefaultHistoryLimit = 1000

// Session is one task context. All accessors are safe for concurrent use.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu         sync.Mutex
	workspace  string
	branch     string
	state      State
	history    []protocol.Event
	limit      int
	book       *approval.Book
	turnActive bool
	lastDiff   *protocol.ShowDiff
	confirmed  bool
}

func newSession(id uuid.UUID, workspace, branch string, limit int, now time.Time) *Session {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Session{
		ID:        id,
		CreatedAt: now,
		workspace: workspace,
		branch:    branch,
		state:     StateIdle,
		limit:     limit,
		book:      approval.NewBook(id, workspace),
	}
}

// Book returns the session's approval book.
func (s *Session) Book() *approval.Book { return s.book }

// Workspace returns the workspace root.
func (s *Session) Workspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspace
}

// Branch returns the branch the session works on.
func (s *Session) Branch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branch
}

// State returns the last derived state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Confirmed reports whether the backend acknowledged the session.
func (s *Session) Confirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed
}

// Confirm applies the backend's session_created details. Empty fields keep
// the local values.
func (s *Session) Confirm(workspace, branch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = true
	if workspace != "" && workspace != s.workspace {
		s.workspace = workspace
		s.book.SetWorkspace(workspace)
	}
	if branch != "" {
		s.branch = branch
	}
}

// Record appends ev to the history, evicting the oldest entry at the limit.
func (s *Session) Record(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if len(s.history) >= s.limit {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, ev)
	if d, ok := ev.Payload.(protocol.ShowDiff); ok {
		s.lastDiff = &d
	}
}

// History returns a copy of the recorded events, oldest first.
func (s *Session) History() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Event, len(s.history))
	copy(out, s.history)
	return out
}

// LatestDiff returns the most recent show_diff payload.
func (s *Session) LatestDiff() (protocol.ShowDiff, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDiff == nil {
		return protocol.ShowDiff{}, false
	}
	return *s.lastDiff, true
}

// BeginTurn marks a user turn in progress and returns its number.
func (s *Session) BeginTurn() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return 0, ErrClosed
	}
	s.turnActive = true
	return s.book.BeginTurn(), nil
}

// EndTurn clears the in-progress turn.
func (s *Session) EndTurn() {
	s.mu.Lock()
	s.turnActive = false
	s.mu.Unlock()
}

// TurnActive reports whether a turn is in progress.
func (s *Session) TurnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnActive
}

// Refresh re-derives the state after a mutation and reports the change.
func (s *Session) Refresh() (from, to State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return StateClosed, StateClosed, nil
	}
	next := s.deriveLocked()
	from = s.state
	if next == from {
		return from, from, nil
	}
	if err := s.transitionLocked(next); err != nil {
		return from, from, err
	}
	return from, next, nil
}

func (s *Session) deriveLocked() State {
	switch {
	case s.book.HasPending(approval.LevelPlan):
		return StateAwaitingPlanApproval
	case s.book.HasPending(""):
		return StateAwaitingChangeReview
	case s.turnActive:
		return StateExecuting
	default:
		return StateIdle
	}
}

func (s *Session) transitionLocked(to State) error {
	if d := DecisionFor(s.state, to); !d.Allowed {
		return &IllegalTransitionError{From: s.state, To: to, Reason: d.Reason}
	}
	s.state = to
	return nil
}

// Info is a read-only snapshot of a session.
type Info struct {
	ID         uuid.UUID                `json:"id"`
	Workspace  string                   `json:"workspace"`
	Branch     string                   `json:"branch,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	State      State                    `json:"state"`
	Active     bool                     `json:"active"`
	Confirmed  bool                     `json:"confirmed"`
	HistoryLen int                      `json:"history_len"`
	Pending    []approval.PendingAction `json:"pending,omitempty"`
}

func (s *Session) info(active bool) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.ID,
		Workspace:  s.workspace,
		Branch:     s.branch,
		CreatedAt:  s.CreatedAt,
		State:      s.state,
		Active:     active,
		Confirmed:  s.confirmed,
		HistoryLen: len(s.history),
		Pending:    s.book.Pending(),
	}
}

func (s *Session) markClosed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnActive = false
	return s.transitionLocked(StateClosed)
}
