// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/engine"
	"github.com/ManuGH/ztc/internal/protocol"
	"github.com/ManuGH/ztc/internal/session"
	"github.com/ManuGH/ztc/internal/transport"
)

type decision struct {
	id string
	v  approval.Verdict
}

type fakeClient struct {
	messages  []string
	decisions []decision
	decideAll []approval.Verdict
	sessions  []session.Info
	switched  uuid.UUID
	closed    []uuid.UUID
	closeErr  error
	channels  map[string]bool
	uploads   map[string][]byte
	files     map[string][]byte
	exported  string
	interrupt string
	reconnect int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		channels: map[string]bool{"output": true, "reasoning": false},
		uploads:  map[string][]byte{},
		files:    map[string][]byte{},
	}
}

func (f *fakeClient) SendMessage(_ context.Context, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeClient) Decide(_ context.Context, id string, v approval.Verdict) (approval.PendingAction, error) {
	f.decisions = append(f.decisions, decision{id: id, v: v})
	return approval.PendingAction{ActionID: id}, nil
}

func (f *fakeClient) DecideAll(_ context.Context, v approval.Verdict) ([]approval.PendingAction, error) {
	f.decideAll = append(f.decideAll, v)
	return []approval.PendingAction{{ActionID: "a"}, {ActionID: "b"}}, nil
}

func (f *fakeClient) Pending() []approval.PendingAction { return nil }

func (f *fakeClient) NewSession(_ context.Context, ws, branch string) (session.Info, error) {
	info := session.Info{ID: uuid.New(), Workspace: ws, Branch: branch}
	f.sessions = append(f.sessions, info)
	return info, nil
}

func (f *fakeClient) SwitchSession(id uuid.UUID) error {
	f.switched = id
	return nil
}

func (f *fakeClient) CloseSession(_ context.Context, id uuid.UUID, force bool) (session.Info, error) {
	if f.closeErr != nil && !force {
		return session.Info{}, f.closeErr
	}
	f.closed = append(f.closed, id)
	return session.Info{ID: id}, nil
}

func (f *fakeClient) Sessions() []session.Info { return f.sessions }

func (f *fakeClient) Compare(a, b uuid.UUID) (session.ComparisonView, error) {
	return session.ComparisonView{
		Left:  session.DiffSide{SessionID: a, Diff: &protocol.ShowDiff{Path: "main.go", Diff: "+left"}},
		Right: session.DiffSide{SessionID: b},
	}, nil
}

func (f *fakeClient) Interrupt(_ context.Context, reason string) ([]approval.PendingAction, error) {
	f.interrupt = reason
	return []approval.PendingAction{{ActionID: "x"}}, nil
}

func (f *fakeClient) SetChannel(name string, enabled bool) { f.channels[name] = enabled }

func (f *fakeClient) Channels() map[string]bool { return f.channels }

func (f *fakeClient) UploadFile(_ context.Context, name string, content []byte) error {
	f.uploads[name] = content
	return nil
}

func (f *fakeClient) DownloadFile(_ context.Context, name string) ([]byte, error) {
	return f.files[name], nil
}

func (f *fakeClient) ExportSessions(path string) error {
	f.exported = path
	return nil
}

func (f *fakeClient) Reconnect(context.Context) error {
	f.reconnect++
	return nil
}

func newTestConsole() (*console, *fakeClient, *bytes.Buffer) {
	fc := newFakeClient()
	var out bytes.Buffer
	return newConsole(fc, &out), fc, &out
}

func TestConsole_PlainTextIsAMessage(t *testing.T) {
	c, fc, _ := newTestConsole()
	require.NoError(t, c.Execute(context.Background(), "  refactor the parser  "))
	require.NoError(t, c.Execute(context.Background(), ""))
	assert.Equal(t, []string{"refactor the parser"}, fc.messages)
}

func TestConsole_Decisions(t *testing.T) {
	c, fc, out := newTestConsole()
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/approve act-1"))
	require.NoError(t, c.Execute(ctx, "/reject act-2 not in this branch"))
	require.NoError(t, c.Execute(ctx, `/modify act-3 {"path": "b.go"}`))
	require.NoError(t, c.Execute(ctx, "/reject all"))

	require.Len(t, fc.decisions, 3)
	assert.Equal(t, approval.OutcomeApprove, fc.decisions[0].v.Outcome)
	assert.Equal(t, "act-2", fc.decisions[1].id)
	assert.Equal(t, "not in this branch", fc.decisions[1].v.Reason)
	assert.Equal(t, approval.OutcomeModify, fc.decisions[2].v.Outcome)
	assert.JSONEq(t, `{"path":"b.go"}`, string(fc.decisions[2].v.Modifications))

	require.Len(t, fc.decideAll, 1)
	assert.Equal(t, approval.OutcomeReject, fc.decideAll[0].Outcome)
	assert.Contains(t, out.String(), "2 action(s) decided")
}

func TestConsole_Usage(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"/approve", "usage"},
		{"/modify act-1 not-json", "must be JSON"},
		{"/switch", "usage"},
		{"/close", "usage"},
		{"/compare one", "usage"},
		{"/channel output maybe", "usage"},
		{"/frobnicate", "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, _, _ := newTestConsole()
			err := c.Execute(context.Background(), tt.line)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConsole_SessionPrefixes(t *testing.T) {
	c, fc, _ := newTestConsole()
	a := uuid.MustParse("aaaa1111-0000-4000-8000-000000000001")
	b := uuid.MustParse("aaaa2222-0000-4000-8000-000000000002")
	fc.sessions = []session.Info{{ID: a}, {ID: b}}
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/switch aaaa2"))
	assert.Equal(t, b, fc.switched)

	err := c.Execute(ctx, "/switch aaaa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	err = c.Execute(ctx, "/switch ffff")
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, c.Execute(ctx, "/switch "+a.String()))
	assert.Equal(t, a, fc.switched)
}

func TestConsole_CloseBusyNeedsForce(t *testing.T) {
	c, fc, _ := newTestConsole()
	id := uuid.New()
	fc.sessions = []session.Info{{ID: id}}
	fc.closeErr = &session.BusyError{ID: id, Pending: []string{"act-9"}}
	ctx := context.Background()

	err := c.Execute(ctx, "/close "+id.String()[:6])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "act-9")
	assert.Contains(t, err.Error(), "--force")
	assert.Empty(t, fc.closed)

	require.NoError(t, c.Execute(ctx, "/close --force "+id.String()[:6]))
	assert.Equal(t, []uuid.UUID{id}, fc.closed)
}

func TestConsole_ChannelsAndInterrupt(t *testing.T) {
	c, fc, out := newTestConsole()
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/channel reasoning on"))
	assert.True(t, fc.channels["reasoning"])
	require.NoError(t, c.Execute(ctx, "/channel"))
	assert.Contains(t, out.String(), "reasoning")

	require.NoError(t, c.Execute(ctx, "/interrupt wrong direction"))
	assert.Equal(t, "wrong direction", fc.interrupt)
	assert.Contains(t, out.String(), "1 pending action(s) rejected")
}

func TestConsole_Files(t *testing.T) {
	c, fc, _ := newTestConsole()
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o600))
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/upload "+src))
	assert.Equal(t, []byte("hello"), fc.uploads["notes.txt"])

	fc.files["report.md"] = []byte("# done")
	dest := filepath.Join(dir, "out.md")
	require.NoError(t, c.Execute(ctx, "/download report.md "+dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "# done", string(got))

	require.NoError(t, c.Execute(ctx, "/export "+filepath.Join(dir, "snap.json")))
	assert.Equal(t, filepath.Join(dir, "snap.json"), fc.exported)
}

func TestConsole_Reconnect(t *testing.T) {
	c, fc, out := newTestConsole()
	updates := make(chan engine.Update, 1)
	updates <- engine.Update{Kind: engine.UpdateStatus, Status: &transport.Status{
		State: transport.StateDisconnected,
		Err:   fmt.Errorf("%w: dial refused", transport.ErrRetriesExhausted),
	}}
	close(updates)
	c.PrintUpdates(updates)
	assert.Contains(t, out.String(), "use /reconnect")

	require.NoError(t, c.Execute(context.Background(), "/reconnect"))
	assert.Equal(t, 1, fc.reconnect)
	assert.Contains(t, out.String(), "reconnected")
}

func TestConsole_Compare(t *testing.T) {
	c, fc, out := newTestConsole()
	a, b := uuid.New(), uuid.New()
	fc.sessions = []session.Info{{ID: a}, {ID: b}}

	require.NoError(t, c.Execute(context.Background(), "/compare "+a.String()+" "+b.String()))
	assert.Contains(t, out.String(), "+left")
	assert.Contains(t, out.String(), "(no diff yet)")
}

func TestConsole_RunStopsOnQuit(t *testing.T) {
	c, fc, _ := newTestConsole()
	in := strings.NewReader("first\n/quit\nnever\n")
	require.NoError(t, c.Run(context.Background(), in))
	assert.Equal(t, []string{"first"}, fc.messages)
}

func TestConsole_RunReportsErrorsAndContinues(t *testing.T) {
	c, fc, out := newTestConsole()
	require.NoError(t, c.Run(context.Background(), strings.NewReader("/nope\nsecond\n")))
	assert.Contains(t, out.String(), "error: unknown command /nope")
	assert.Equal(t, []string{"second"}, fc.messages)
}

func TestConsole_Render(t *testing.T) {
	fg, bg := uuid.New(), uuid.New()
	action := approval.PendingAction{
		ActionID:    "act-7",
		Kind:        protocol.KindExecCommand,
		Level:       approval.LevelDangerous,
		Description: "wipe build dir",
		Command:     "rm -rf build",
		Disposition: approval.DispositionPending,
	}
	chunk := protocol.ForSession(bg, protocol.TextChunk{Text: "thinking", Channel: "reasoning"})

	c, _, out := newTestConsole()
	updates := make(chan engine.Update, 4)
	updates <- engine.Update{Kind: engine.UpdateProposal, SessionID: fg, Foreground: true, Action: &action}
	updates <- engine.Update{Kind: engine.UpdateEvent, SessionID: bg, Event: &chunk}
	decided := action
	decided.Disposition = approval.DispositionRejected
	decided.DecidedBy = approval.ActorUser
	decided.Reason = "no"
	updates <- engine.Update{Kind: engine.UpdateDecision, SessionID: fg, Foreground: true, Action: &decided}
	updates <- engine.Update{Kind: engine.UpdateWarning, Message: "late response"}
	close(updates)
	c.PrintUpdates(updates)

	got := out.String()
	assert.Contains(t, got, "? act-7 [dangerous]")
	assert.Contains(t, got, "$ rm -rf build")
	assert.Contains(t, got, "only an explicit /approve act-7")
	assert.Contains(t, got, "["+short(bg)+"] (reasoning) thinking")
	assert.Contains(t, got, "act-7 rejected by user (no)")
	assert.Contains(t, got, "warning: late response")
	assert.NotContains(t, got, "["+short(fg)+"]")
}
