// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies codec failures.
type ErrorKind string

const (
	KindMalformed          ErrorKind = "malformed"
	KindUnsupportedVersion ErrorKind = "unsupported_version"
	KindBeforeHandshake    ErrorKind = "before_handshake"
	KindUnavailable        ErrorKind = "unavailable_in_version"
)

// Sentinels matched by CodecError.Is.
var (
	ErrMalformed          = &CodecError{Kind: KindMalformed}
	ErrUnsupportedVersion = &CodecError{Kind: KindUnsupportedVersion}
	ErrBeforeHandshake    = &CodecError{Kind: KindBeforeHandshake}
	ErrUnavailable        = &CodecError{Kind: KindUnavailable}

	// ErrVersionImmutable is returned when a codec that already negotiated a
	// version is asked to switch to another one.
	ErrVersionImmutable = errors.New("protocol: negotiated version is immutable")
)

// CodecError describes a frame that could not be encoded or decoded.
type CodecError struct {
	Kind    ErrorKind
	Type    Type
	Version string
	Err     error
}

func (e *CodecError) Error() string {
	msg := "protocol: " + string(e.Kind)
	if e.Type != "" {
		msg += fmt.Sprintf(" type=%s", e.Type)
	}
	if e.Version != "" {
		msg += fmt.Sprintf(" schema_version=%s", e.Version)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CodecError) Unwrap() error { return e.Err }

// Is matches any CodecError of the same kind.
func (e *CodecError) Is(target error) bool {
	t, ok := target.(*CodecError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func malformed(t Type, format string, args ...any) *CodecError {
	return &CodecError{Kind: KindMalformed, Type: t, Err: fmt.Errorf(format, args...)}
}
