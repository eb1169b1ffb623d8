// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package approval

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Mode selects how much the policy decides on the user's behalf.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeBatch  Mode = "batch"
	ModeYOLO   Mode = "yolo"
)

// Policy configures automatic decisions and per-level timeouts. A zero
// timeout disables expiry for that level. Dangerous never expires and is
// never auto-approved, whatever the policy says.
type Policy struct {
	Mode     Mode
	Timeouts map[Level]time.Duration
}

// DefaultPolicy is manual mode without timeouts.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeManual}
}

// Validate rejects unknown modes and negative timeouts.
func (p Policy) Validate() error {
	switch p.Mode {
	case "", ModeManual, ModeBatch, ModeYOLO:
	default:
		return fmt.Errorf("approval: unknown mode %q", p.Mode)
	}
	for lvl, d := range p.Timeouts {
		if _, ok := ParseLevel(string(lvl)); !ok {
			return fmt.Errorf("approval: timeout for unknown level %q", lvl)
		}
		if d < 0 {
			return fmt.Errorf("approval: negative timeout for %s", lvl)
		}
	}
	return nil
}

// Timeout returns the expiry for level, zero meaning none.
func (p Policy) Timeout(level Level) time.Duration {
	if level == LevelDangerous {
		return 0
	}
	return p.Timeouts[level]
}

// autoApproves reports whether policy resolves the action without the user.
// planComplete is whether the action's task has received its plan_complete
// proposal.
func (p Policy) autoApproves(level Level, planComplete bool) bool {
	if level == LevelDangerous {
		return false
	}
	switch p.Mode {
	case ModeYOLO:
		return true
	case ModeBatch:
		return level == LevelReview && planComplete
	}
	return false
}

// TrustStore records workspaces the user has approved a Trust action in.
type TrustStore struct {
	mu      sync.RWMutex
	trusted map[string]struct{}
}

// NewTrustStore creates a store pre-seeded with workspaces.
func NewTrustStore(workspaces ...string) *TrustStore {
	s := &TrustStore{trusted: make(map[string]struct{})}
	for _, ws := range workspaces {
		s.Grant(ws)
	}
	return s
}

// Trusted reports whether ws has been trusted.
func (s *TrustStore) Trusted(ws string) bool {
	if ws == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.trusted[filepath.Clean(ws)]
	return ok
}

// Grant trusts ws. It reports whether ws was newly trusted.
func (s *TrustStore) Grant(ws string) bool {
	if ws == "" {
		return false
	}
	key := filepath.Clean(ws)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trusted[key]; ok {
		return false
	}
	s.trusted[key] = struct{}{}
	return true
}
