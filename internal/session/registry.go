// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/log"
	"github.com/ManuGH/ztc/internal/metrics"
	"github.com/ManuGH/ztc/internal/protocol"
)

// Expirer resolves the pending actions of a book being force-closed.
type Expirer interface {
	ExpireAll(ctx context.Context, book *approval.Book, reason string) ([]approval.PendingAction, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithHistoryLimit bounds each session's history.
func WithHistoryLimit(n int) Option { return func(r *Registry) { r.historyLimit = n } }

// WithExpirer sets the force-close collaborator, normally the approval machine.
func WithExpirer(e Expirer) Option { return func(r *Registry) { r.expirer = e } }

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithNow replaces the clock used for CreatedAt.
func WithNow(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// Registry holds the open sessions and the single active one.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[uuid.UUID]*Session
	order        []uuid.UUID
	active       uuid.UUID
	historyLimit int
	expirer      Expirer
	logger       zerolog.Logger
	now          func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:     make(map[uuid.UUID]*Session),
		historyLimit: DefaultHistoryLimit,
		logger:       log.WithComponent("session"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a new session and makes it active.
func (r *Registry) Create(workspace, branch string) *Session {
	s := newSession(uuid.New(), workspace, branch, r.historyLimit, r.now())

	r.mu.Lock()
	r.insertLocked(s)
	r.active = s.ID
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SetOpenSessions(n)
	r.logger.Info().Str(log.FieldSessionID, s.ID.String()).Str(log.FieldWorkspace, workspace).Msg("session created")
	return s
}

// Adopt registers a session the backend announced under its own id. It
// becomes active only when no session is.
func (r *Registry) Adopt(id uuid.UUID, workspace, branch string) (*Session, error) {
	s := newSession(id, workspace, branch, r.historyLimit, r.now())
	s.confirmed = true

	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	r.insertLocked(s)
	if r.active == uuid.Nil {
		r.active = id
	}
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SetOpenSessions(n)
	r.logger.Info().Str(log.FieldSessionID, id.String()).Msg("session adopted from backend")
	return s, nil
}

func (r *Registry) insertLocked(s *Session) {
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
}

// Get returns the session with id.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Switch makes id the active session.
func (r *Registry) Switch(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.active != id {
		r.logger.Info().Str(log.FieldSessionID, id.String()).Msg("active session switched")
	}
	r.active = id
	return nil
}

// Active returns the active session.
func (r *Registry) Active() (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[r.active]
	return s, ok
}

// ActiveID returns the active session id, uuid.Nil when none.
func (r *Registry) ActiveID() uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// WithActive runs fn with the active session while holding the registry
// read lock, so a concurrent Switch cannot retarget the call midway.
func (r *Registry) WithActive(fn func(*Session) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[r.active]
	if !ok {
		return ErrNoActive
	}
	return fn(s)
}

// List returns snapshots of every session in creation order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id].info(id == r.active))
	}
	return out
}

// Sessions returns the open sessions in creation order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close removes a session. With pending actions it fails with *BusyError
// unless force is set, in which case they are expired first and the override
// is logged. The next session in creation order becomes active.
func (r *Registry) Close(ctx context.Context, id uuid.UUID, force bool) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if pending := s.book.Pending(); len(pending) > 0 {
		if !force {
			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ActionID
			}
			return Info{}, &BusyError{ID: id, Pending: ids}
		}
		r.logger.Warn().
			Str(log.FieldSessionID, id.String()).
			Int("pending", len(pending)).
			Msg("force-closing session with pending actions")
		if r.expirer == nil {
			return Info{}, fmt.Errorf("session: force close of %s: no expirer configured", id)
		}
		if _, err := r.expirer.ExpireAll(ctx, s.book, approval.ReasonForceClosed); err != nil {
			// Expired actions stay audited even when the response could not be queued.
			r.logger.Warn().Err(err).Str(log.FieldSessionID, id.String()).Msg("force close expiry incomplete")
			if s.book.PendingCount() > 0 {
				return Info{}, fmt.Errorf("session: force close of %s: %w", id, err)
			}
		}
	}

	if err := s.markClosed(); err != nil {
		return Info{}, err
	}
	delete(r.sessions, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.active == id {
		r.active = uuid.Nil
		if len(r.order) > 0 {
			r.active = r.order[0]
		}
	}
	metrics.SetOpenSessions(len(r.sessions))
	r.logger.Info().Str(log.FieldSessionID, id.String()).Bool("force", force).Msg("session closed")
	return s.info(false), nil
}

// DiffSide is one half of a comparison.
type DiffSide struct {
	SessionID uuid.UUID
	Workspace string
	Branch    string
	Diff      *protocol.ShowDiff
}

// ComparisonView joins the latest diffs of two sessions without mutating
// either.
type ComparisonView struct {
	Left  DiffSide
	Right DiffSide
}

// PairForComparison builds a read-only view of a and b.
func (r *Registry) PairForComparison(a, b uuid.UUID) (ComparisonView, error) {
	left, err := r.Get(a)
	if err != nil {
		return ComparisonView{}, err
	}
	right, err := r.Get(b)
	if err != nil {
		return ComparisonView{}, err
	}
	return ComparisonView{Left: side(left), Right: side(right)}, nil
}

func side(s *Session) DiffSide {
	out := DiffSide{SessionID: s.ID, Workspace: s.Workspace(), Branch: s.Branch()}
	if d, ok := s.LatestDiff(); ok {
		out.Diff = &d
	}
	return out
}
