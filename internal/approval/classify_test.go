// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/ztc/internal/protocol"
)

func TestClassify(t *testing.T) {
	const ws = "/home/dev/project"

	tests := []struct {
		name    string
		req     protocol.RequestApproval
		trusted bool
		want    Level
	}{
		{"delete is dangerous", protocol.RequestApproval{Kind: protocol.KindDelete, Path: "a.txt"}, true, LevelDangerous},
		{"write inside trusted", protocol.RequestApproval{Kind: protocol.KindWriteFile, Path: "src/main.go"}, true, LevelReview},
		{"write absolute inside", protocol.RequestApproval{Kind: protocol.KindWriteFile, Path: ws + "/README.md"}, true, LevelReview},
		{"write escaping workspace", protocol.RequestApproval{Kind: protocol.KindWriteFile, Path: "../other/x"}, true, LevelDangerous},
		{"write outside workspace", protocol.RequestApproval{Kind: protocol.KindWriteFile, Path: "/etc/passwd"}, true, LevelDangerous},
		{"write without path", protocol.RequestApproval{Kind: protocol.KindWriteFile}, true, LevelDangerous},
		{"write prefix sibling", protocol.RequestApproval{Kind: protocol.KindWriteFile, Path: "/home/dev/project-evil/x"}, true, LevelDangerous},
		{"first write untrusted", protocol.RequestApproval{Kind: protocol.KindWriteFile, Path: "a.go"}, false, LevelTrust},
		{"exec untrusted", protocol.RequestApproval{Kind: protocol.KindExecCommand, Command: "go test ./..."}, false, LevelTrust},
		{"exec trusted", protocol.RequestApproval{Kind: protocol.KindExecCommand, Command: "go test ./..."}, true, LevelReview},
		{"exec cwd outside", protocol.RequestApproval{Kind: protocol.KindExecCommand, Command: "ls", Cwd: "/tmp"}, true, LevelDangerous},
		{"exec rm -rf", protocol.RequestApproval{Kind: protocol.KindExecCommand, Command: "rm -rf build"}, true, LevelDangerous},
		{"exec force push", protocol.RequestApproval{Kind: protocol.KindExecCommand, Command: "git push --force origin main"}, true, LevelDangerous},
		{"plan", protocol.RequestApproval{Kind: protocol.KindOther, Plan: true}, false, LevelPlan},
		{"dangerous beats plan", protocol.RequestApproval{Kind: protocol.KindDelete, Plan: true}, false, LevelDangerous},
		{"plan beats trust", protocol.RequestApproval{Kind: protocol.KindWriteFile, Path: "a", Plan: true}, false, LevelPlan},
		{"backend dangerous hint", protocol.RequestApproval{Kind: protocol.KindOther, Level: "dangerous"}, true, LevelDangerous},
		{"capitalised dangerous hint", protocol.RequestApproval{Kind: protocol.KindExecCommand, Command: "./deploy-prod.sh", Level: "Dangerous"}, true, LevelDangerous},
		{"upper case dangerous hint", protocol.RequestApproval{Kind: protocol.KindOther, Level: "DANGEROUS"}, true, LevelDangerous},
		{"padded dangerous hint", protocol.RequestApproval{Kind: protocol.KindOther, Level: " dangerous "}, true, LevelDangerous},
		{"mixed case delete kind", protocol.RequestApproval{Kind: "Delete", Path: "a.txt"}, true, LevelDangerous},
		{"unknown kind is other", protocol.RequestApproval{Kind: "network_call"}, false, LevelReview},
		{"backend review hint cannot lower", protocol.RequestApproval{Kind: protocol.KindDelete, Level: "review"}, true, LevelDangerous},
		{"other", protocol.RequestApproval{Kind: protocol.KindOther}, false, LevelReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.req, ws, tt.trusted))
		})
	}
}

func TestParseLevel(t *testing.T) {
	for _, in := range []string{"review", "Review", "REVIEW", " review"} {
		l, ok := ParseLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, LevelReview, l, in)
	}
	_, ok := ParseLevel("meh")
	assert.False(t, ok)
}

func TestClassify_EmptyWorkspaceIsOutside(t *testing.T) {
	req := protocol.RequestApproval{Kind: protocol.KindWriteFile, Path: "a.go"}
	assert.Equal(t, LevelDangerous, Classify(req, "", true))
}

func TestIsDestructive(t *testing.T) {
	dangerous := []string{
		"rm -rf /",
		"rm -r dir",
		"rm -f -r dir",
		"sudo rm --recursive x",
		"mkfs.ext4 /dev/sdb1",
		"dd if=/dev/zero of=/dev/sda bs=1M",
		"shred -u secrets.txt",
		"git push -f",
		"git push origin main --force-with-lease",
		"git reset --hard HEAD~3",
		"git clean -fdx",
		"chmod -R 777 /",
		"chown -R nobody .",
		"shutdown -h now",
		"sudo reboot",
		"systemctl poweroff",
		":(){ :|:& };:",
		"echo hi > /dev/sda",
	}
	for _, cmd := range dangerous {
		assert.True(t, IsDestructive(cmd), cmd)
	}

	safe := []string{
		"rm file.txt",
		"rm -f file.txt",
		"git push origin main",
		"git reset --soft HEAD~1",
		"git clean -n",
		"chmod 644 a.txt",
		"go test ./...",
		"ls -la",
		"echo hi > out.txt",
	}
	for _, cmd := range safe {
		assert.False(t, IsDestructive(cmd), cmd)
	}
}

func TestWithinWorkspace(t *testing.T) {
	assert.True(t, WithinWorkspace("/w", "/w"))
	assert.True(t, WithinWorkspace("/w", "a/b/../c"))
	assert.True(t, WithinWorkspace("/w/", "/w/x"))
	assert.False(t, WithinWorkspace("/w", "/w/../x"))
	assert.False(t, WithinWorkspace("/w", "/wx/y"))
	assert.False(t, WithinWorkspace("/w", ""))
	assert.True(t, WithinWorkspace("/w", "..foo"), "a file named ..foo stays inside")
}
