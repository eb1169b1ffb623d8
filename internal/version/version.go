// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package version carries build metadata set through -ldflags.
package version

import (
	"fmt"

	"github.com/ManuGH/ztc/internal/protocol"
)

var (
	// Version is the release, set by the build.
	Version = "v0.2.0-dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the build and the protocol versions it speaks.
func String() string {
	return fmt.Sprintf("ztc %s (commit %s, built %s, protocol %s, supports %v)",
		Version, Commit, Date, protocol.ClientVersion, protocol.SupportedVersions)
}
