// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for an id the registry does not hold.
	ErrNotFound = errors.New("session: not found")
	// ErrNoActive is returned when an operation needs an active session.
	ErrNoActive = errors.New("session: no active session")
	// ErrExists is returned when adopting an id that is already registered.
	ErrExists = errors.New("session: already exists")
	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("session: closed")
)

// BusyError is returned by Close when actions are still pending and force
// was not requested.
type BusyError struct {
	ID      uuid.UUID
	Pending []string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("session: %s has %d pending action(s): %s", e.ID, len(e.Pending), strings.Join(e.Pending, ", "))
}
