// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CheckMode selects the integrity pragma.
type CheckMode string

const (
	// CheckQuick skips index consistency and is cheap enough for every open.
	CheckQuick CheckMode = "quick"
	// CheckFull runs PRAGMA integrity_check.
	CheckFull CheckMode = "full"
)

// ErrCorrupt matches every *CorruptionError.
var ErrCorrupt = errors.New("sqlite: database is corrupt")

// CorruptionError lists the rows an integrity check reported.
type CorruptionError struct {
	Path     string
	Mode     CheckMode
	Problems []string
}

func (e *CorruptionError) Error() string {
	where := "database"
	if e.Path != "" {
		where = e.Path
	}
	return fmt.Sprintf("sqlite: %s failed %s check: %s", where, e.Mode, strings.Join(e.Problems, "; "))
}

func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupt }

// ParseCheckMode accepts "quick" and "full".
func ParseCheckMode(s string) (CheckMode, error) {
	switch m := CheckMode(strings.ToLower(strings.TrimSpace(s))); m {
	case CheckQuick, CheckFull:
		return m, nil
	}
	return "", fmt.Errorf("sqlite: unknown check mode %q", s)
}

func (m CheckMode) pragma() string {
	if m == CheckFull {
		return "PRAGMA integrity_check"
	}
	return "PRAGMA quick_check"
}

// Check runs the integrity pragma for mode on db. A healthy database yields a
// single "ok" row; anything else is returned as a *CorruptionError.
func Check(ctx context.Context, db *sql.DB, mode CheckMode) error {
	rows, err := db.QueryContext(ctx, mode.pragma())
	if err != nil {
		return fmt.Errorf("sqlite: %s check: %w", mode, err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("sqlite: scan %s check: %w", mode, err)
		}
		problems = append(problems, line)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: %s check: %w", mode, err)
	}

	if len(problems) == 1 && strings.EqualFold(problems[0], "ok") {
		return nil
	}
	if len(problems) == 0 {
		problems = []string{"integrity check returned no rows"}
	}
	return &CorruptionError{Mode: mode, Problems: problems}
}

// CheckFile opens path read-only and checks it. The file must exist.
func CheckFile(ctx context.Context, path string, mode CheckMode) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", path))
	if err != nil {
		return fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	defer db.Close()

	err = Check(ctx, db, mode)
	var corrupt *CorruptionError
	if errors.As(err, &corrupt) {
		corrupt.Path = path
	}
	return err
}

// IsDatabaseFile reports whether header starts with the SQLite file magic.
func IsDatabaseFile(header []byte) bool {
	const magic = "SQLite format 3\x00"
	return len(header) >= len(magic) && string(header[:len(magic)]) == magic
}
