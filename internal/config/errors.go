// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownConfigField classifies strict parse failures caused by unknown keys.
	ErrUnknownConfigField = errors.New("unknown config field")
	// ErrUnsupportedFormat is returned for config files with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// ValidationError lists every rule a configuration violates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}
