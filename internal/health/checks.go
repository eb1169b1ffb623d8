// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/ztc/internal/persistence/sqlite"
	"github.com/ManuGH/ztc/internal/transport"
)

// LinkState is what ConnectionChecker needs from the engine.
type LinkState interface {
	State() transport.State
	QueueStats() transport.QueueStats
	NegotiatedVersion() string
}

// ConnectionChecker is healthy while the backend link is open, degraded while
// it reconnects or the outbound queue is under pressure.
type ConnectionChecker struct {
	link LinkState
}

// NewConnectionChecker checks link.
func NewConnectionChecker(link LinkState) *ConnectionChecker {
	return &ConnectionChecker{link: link}
}

func (c *ConnectionChecker) Name() string { return "connection" }

func (c *ConnectionChecker) Check(context.Context) CheckResult {
	state := c.link.State()
	stats := c.link.QueueStats()
	switch state {
	case transport.StateOpen:
		if stats.Degraded {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("outbound queue full (%d/%d)", stats.Len, stats.Capacity),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "open, protocol " + c.link.NegotiatedVersion()}
	case transport.StateConnecting, transport.StateHandshaking:
		return CheckResult{Status: StatusDegraded, Message: string(state)}
	default:
		return CheckResult{Status: StatusUnhealthy, Message: string(state), Error: "backend link not open"}
	}
}

// AuditChecker verifies the audit log location is writable. An audit trail
// that cannot be written blocks every approval, so failures are unhealthy.
type AuditChecker struct {
	path string
}

// NewAuditChecker checks the audit log at path.
func NewAuditChecker(path string) *AuditChecker {
	return &AuditChecker{path: path}
}

func (c *AuditChecker) Name() string { return "audit" }

func (c *AuditChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusUnhealthy, Error: "audit path not configured"}
	}
	if info, err := os.Stat(c.path); err == nil {
		if info.IsDir() {
			return CheckResult{Status: StatusUnhealthy, Error: "audit path is a directory", Message: c.path}
		}
		f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_APPEND, 0)
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
		}
		_ = f.Close()
		return CheckResult{Status: StatusHealthy, Message: c.path}
	}
	return checkDirWritable(filepath.Dir(c.path))
}

// AuditDBChecker runs a quick integrity check on the SQLite audit mirror.
// Until the database exists it only checks that it can be created.
type AuditDBChecker struct {
	path string
}

// NewAuditDBChecker checks the SQLite database at path.
func NewAuditDBChecker(path string) *AuditDBChecker {
	return &AuditDBChecker{path: path}
}

func (c *AuditDBChecker) Name() string { return "audit_db" }

func (c *AuditDBChecker) Check(ctx context.Context) CheckResult {
	if _, err := os.Stat(c.path); errors.Is(err, os.ErrNotExist) {
		return checkDirWritable(filepath.Dir(c.path))
	}
	if err := sqlite.CheckFile(ctx, c.path, sqlite.CheckQuick); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: c.path}
}

func checkDirWritable(dir string) CheckResult {
	f, err := os.CreateTemp(dir, ".ztc-health-*")
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: dir}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return CheckResult{Status: StatusHealthy, Message: dir}
}
