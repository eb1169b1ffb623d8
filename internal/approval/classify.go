// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package approval

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ManuGH/ztc/internal/protocol"
)

// destructive matches commands that are Dangerous regardless of cwd.
var destructive = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(\S+\s+)*(-[a-zA-Z]*[rR][a-zA-Z]*|--recursive)\b`),
	regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`\bdd\b.*\bof=`),
	regexp.MustCompile(`\bshred\b`),
	regexp.MustCompile(`\bgit\s+push\b.*(\s--force(-with-lease)?\b|\s-[a-zA-Z]*f\b)`),
	regexp.MustCompile(`\bgit\s+reset\b.*--hard\b`),
	regexp.MustCompile(`\bgit\s+clean\b.*\s-[a-zA-Z]*f`),
	regexp.MustCompile(`\bch(mod|own)\s+(-[a-zA-Z]*R|--recursive)\b`),
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
}

// IsDestructive reports whether cmd matches the destructive command list.
func IsDestructive(cmd string) bool {
	for _, re := range destructive {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}

// WithinWorkspace reports whether path is provably inside workspace. The
// check is lexical: relative paths resolve against the workspace, and an
// empty workspace contains nothing.
func WithinWorkspace(workspace, path string) bool {
	if workspace == "" || path == "" {
		return false
	}
	root := filepath.Clean(workspace)
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	rel, err := filepath.Rel(root, filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Classify maps a proposal onto an approval level. The first matching rule
// wins: Dangerous, then Plan, then Trust, then Review.
func Classify(req protocol.RequestApproval, workspace string, trusted bool) Level {
	req.Kind = protocol.NormalizeKind(req.Kind)
	if isDangerous(req, workspace) {
		return LevelDangerous
	}
	if req.Plan {
		return LevelPlan
	}
	if !trusted && (req.Kind == protocol.KindWriteFile || req.Kind == protocol.KindExecCommand) {
		return LevelTrust
	}
	return LevelReview
}

func isDangerous(req protocol.RequestApproval, workspace string) bool {
	if strings.EqualFold(strings.TrimSpace(req.Level), string(LevelDangerous)) {
		return true
	}
	switch req.Kind {
	case protocol.KindDelete:
		return true
	case protocol.KindWriteFile:
		return !WithinWorkspace(workspace, req.Path)
	case protocol.KindExecCommand:
		if IsDestructive(req.Command) {
			return true
		}
		cwd := req.Cwd
		if cwd == "" {
			cwd = workspace
		}
		return !WithinWorkspace(workspace, cwd)
	}
	return false
}
