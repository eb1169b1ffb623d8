// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package approval

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ManuGH/ztc/internal/protocol"
)

// entry is the mutable record behind a PendingAction snapshot.
type entry struct {
	action   PendingAction
	request  protocol.Event
	response *protocol.Event
	queued   bool
}

// Book holds the pending actions of one session. Sessions never share a
// Book, so no session can observe another's actions.
type Book struct {
	mu           sync.Mutex
	sessionID    uuid.UUID
	workspace    string
	turn         uint64
	actions      map[string]*entry
	order        []string
	planComplete map[string]bool
}

// NewBook creates an empty book for a session rooted at workspace.
func NewBook(sessionID uuid.UUID, workspace string) *Book {
	return &Book{
		sessionID:    sessionID,
		workspace:    workspace,
		actions:      make(map[string]*entry),
		planComplete: make(map[string]bool),
	}
}

// SessionID returns the owning session.
func (b *Book) SessionID() uuid.UUID { return b.sessionID }

// Workspace returns the workspace used for classification.
func (b *Book) Workspace() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workspace
}

// SetWorkspace updates the workspace, e.g. when the backend confirms it.
func (b *Book) SetWorkspace(ws string) {
	b.mu.Lock()
	b.workspace = ws
	b.mu.Unlock()
}

// BeginTurn starts a new user turn and returns its number. Proposals that
// arrive afterwards belong to it.
func (b *Book) BeginTurn() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turn++
	return b.turn
}

// Turn returns the current turn number.
func (b *Book) Turn() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.turn
}

// Get returns a snapshot of one action.
func (b *Book) Get(actionID string) (PendingAction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.actions[actionID]
	if !ok {
		return PendingAction{}, false
	}
	return e.action, true
}

// List returns snapshots of every action in proposal order.
func (b *Book) List() []PendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingAction, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.actions[id].action)
	}
	return out
}

// Pending returns snapshots of the actions still awaiting a decision.
func (b *Book) Pending() []PendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingLocked()
}

func (b *Book) pendingLocked() []PendingAction {
	var out []PendingAction
	for _, id := range b.order {
		if a := b.actions[id].action; a.Disposition == DispositionPending {
			out = append(out, a)
		}
	}
	return out
}

// PendingCount returns how many actions await a decision.
func (b *Book) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.actions {
		if e.action.Disposition == DispositionPending {
			n++
		}
	}
	return n
}

// HasPending reports whether an action of level is pending. An empty level
// matches any.
func (b *Book) HasPending(level Level) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.actions {
		if e.action.Disposition == DispositionPending && (level == "" || e.action.Level == level) {
			return true
		}
	}
	return false
}
