// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"errors"
	"fmt"

	"github.com/ManuGH/ztc/internal/protocol"
)

var (
	ErrClosed            = errors.New("transport: connection closed")
	ErrBackpressure      = errors.New("transport: outbound queue full of critical events")
	ErrNotDisconnected   = errors.New("transport: connect requires a disconnected connection")
	ErrHandshakeTimeout  = errors.New("transport: handshake timed out")
	ErrHandshakeRejected = errors.New("transport: handshake rejected by backend")
	ErrVersionChanged    = errors.New("transport: backend negotiated a different schema version on reconnect")
	ErrRetriesExhausted  = errors.New("transport: reconnect retry ceiling reached")
)

// ConnectError wraps a failed dial or handshake.
type ConnectError struct {
	URL     string
	Attempt int
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("transport: connect %s (attempt %d): %v", e.URL, e.Attempt, e.Err)
	}
	return fmt.Sprintf("transport: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Fatal reports whether retrying cannot succeed.
func (e *ConnectError) Fatal() bool {
	return isFatal(e.Err)
}

func isFatal(err error) bool {
	return errors.Is(err, protocol.ErrIncompatibleVersion) ||
		errors.Is(err, ErrVersionChanged) ||
		errors.Is(err, ErrHandshakeRejected) ||
		errors.Is(err, protocol.ErrUnsupportedVersion)
}
