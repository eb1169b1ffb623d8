// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ClientVersion is the newest schema version this client speaks.
const ClientVersion = "0.2.0"

// SupportedVersions lists every schema version this client can decode.
var SupportedVersions = []string{"0.1.0", "0.2.0"}

var (
	// ErrIncompatibleVersion is fatal for a handshake: the peers share no
	// schema version.
	ErrIncompatibleVersion = errors.New("protocol: incompatible schema version")
	// ErrInvalidVersion reports a version string that is not MAJOR.MINOR.PATCH.
	ErrInvalidVersion = errors.New("protocol: invalid schema version")
)

// Version is a parsed MAJOR.MINOR.PATCH schema version.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses s. A leading "v" is tolerated.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		out[i] = n
	}
	return Version{Major: out[0], Minor: out[1], Patch: out[2]}, nil
}

// MustParseVersion is ParseVersion for constants.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Negotiate picks the highest version present in both lists. Entries that do
// not parse are ignored.
func Negotiate(client, server []string) (string, error) {
	offered := make(map[Version]struct{}, len(server))
	for _, s := range server {
		if v, err := ParseVersion(s); err == nil {
			offered[v] = struct{}{}
		}
	}
	var common []Version
	for _, s := range client {
		v, err := ParseVersion(s)
		if err != nil {
			continue
		}
		if _, ok := offered[v]; ok {
			common = append(common, v)
		}
	}
	if len(common) == 0 {
		return "", fmt.Errorf("%w: client %v, server %v", ErrIncompatibleVersion, client, server)
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Compare(common[j]) > 0 })
	return common[0].String(), nil
}
