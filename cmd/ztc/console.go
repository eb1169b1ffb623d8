// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/engine"
	"github.com/ManuGH/ztc/internal/protocol"
	"github.com/ManuGH/ztc/internal/session"
	"github.com/ManuGH/ztc/internal/transport"
)

// client is the engine surface the console drives.
type client interface {
	SendMessage(ctx context.Context, text string) error
	Decide(ctx context.Context, actionID string, v approval.Verdict) (approval.PendingAction, error)
	DecideAll(ctx context.Context, v approval.Verdict) ([]approval.PendingAction, error)
	Pending() []approval.PendingAction
	NewSession(ctx context.Context, workspace, branch string) (session.Info, error)
	SwitchSession(id uuid.UUID) error
	CloseSession(ctx context.Context, id uuid.UUID, force bool) (session.Info, error)
	Sessions() []session.Info
	Compare(a, b uuid.UUID) (session.ComparisonView, error)
	Interrupt(ctx context.Context, reason string) ([]approval.PendingAction, error)
	SetChannel(name string, enabled bool)
	Channels() map[string]bool
	UploadFile(ctx context.Context, name string, content []byte) error
	DownloadFile(ctx context.Context, name string) ([]byte, error)
	ExportSessions(path string) error
	Reconnect(ctx context.Context) error
}

var errQuit = errors.New("quit")

// console maps input lines to engine calls and renders the update feed.
type console struct {
	eng client
	mu  sync.Mutex
	out io.Writer
}

func newConsole(eng client, out io.Writer) *console {
	return &console{eng: eng, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Run reads lines until EOF, /quit or ctx ends.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			err := c.Execute(ctx, line)
			switch {
			case errors.Is(err, errQuit):
				return nil
			case err != nil:
				c.printf("error: %v\n", err)
			}
		}
	}
}

// Execute runs one input line. Plain text is a user message.
func (c *console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.eng.SendMessage(ctx, line)
	}
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		c.printf("%s", helpText)
		return nil
	case "/approve":
		return c.decide(ctx, args, func(string) approval.Verdict { return approval.Approve() })
	case "/reject":
		return c.decide(ctx, args, approval.Reject)
	case "/modify":
		return c.modify(ctx, line, args)
	case "/pending":
		c.printPending()
		return nil
	case "/new":
		return c.newSession(ctx, args)
	case "/switch":
		if len(args) != 1 {
			return errors.New("usage: /switch <session>")
		}
		id, err := c.resolveSession(args[0])
		if err != nil {
			return err
		}
		return c.eng.SwitchSession(id)
	case "/list":
		c.printSessions()
		return nil
	case "/close":
		return c.closeSession(ctx, args)
	case "/compare":
		return c.compare(args)
	case "/interrupt":
		rejected, err := c.eng.Interrupt(ctx, strings.Join(args, " "))
		c.printf("interrupted, %d pending action(s) rejected\n", len(rejected))
		return err
	case "/channel":
		return c.channel(args)
	case "/upload":
		return c.upload(ctx, args)
	case "/download":
		return c.download(ctx, args)
	case "/reconnect":
		if err := c.eng.Reconnect(ctx); err != nil {
			return err
		}
		c.printf("reconnected\n")
		return nil
	case "/export":
		if len(args) != 1 {
			return errors.New("usage: /export <path>")
		}
		return c.eng.ExportSessions(args[0])
	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
}

const helpText = `commands:
  <text>                         send a message to the agent
  /approve <id|all>              approve pending action(s)
  /reject <id|all> [reason]      reject pending action(s)
  /modify <id> <json>            approve with modifications
  /pending                       list pending actions
  /new <workspace> [branch]      open a session
  /switch <session>              change the active session
  /list                          list sessions
  /close <session> [--force]     close a session
  /compare <a> <b>               show the latest diffs of two sessions
  /interrupt [reason]            stop the current turn
  /channel [name on|off]         show or toggle output channels
  /upload <path>                 send a file to the agent
  /download <name> [dest]        fetch a file from the agent
  /export <path>                 write a session snapshot
  /reconnect                     dial again after retries ran out
  /quit                          exit
`

func (c *console) decide(ctx context.Context, args []string, verdict func(reason string) approval.Verdict) error {
	if len(args) == 0 {
		return errors.New("usage: /approve|/reject <id|all> [reason]")
	}
	v := verdict(strings.Join(args[1:], " "))
	if args[0] == "all" {
		decided, err := c.eng.DecideAll(ctx, v)
		c.printf("%d action(s) decided\n", len(decided))
		return err
	}
	_, err := c.eng.Decide(ctx, args[0], v)
	return err
}

func (c *console) modify(ctx context.Context, line string, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: /modify <id> <json>")
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "/modify"))
	raw := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("modifications must be JSON: %s", raw)
	}
	_, err := c.eng.Decide(ctx, args[0], approval.Modify(json.RawMessage(raw), ""))
	return err
}

func (c *console) newSession(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: /new <workspace> [branch]")
	}
	ws, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	var branch string
	if len(args) == 2 {
		branch = args[1]
	}
	info, err := c.eng.NewSession(ctx, ws, branch)
	if err != nil {
		return err
	}
	c.printf("session %s opened on %s\n", short(info.ID), info.Workspace)
	return nil
}

func (c *console) closeSession(ctx context.Context, args []string) error {
	var (
		force  bool
		target string
	)
	for _, a := range args {
		if a == "--force" || a == "-f" {
			force = true
		} else {
			target = a
		}
	}
	if target == "" {
		return errors.New("usage: /close <session> [--force]")
	}
	id, err := c.resolveSession(target)
	if err != nil {
		return err
	}
	_, err = c.eng.CloseSession(ctx, id, force)
	var busy *session.BusyError
	if errors.As(err, &busy) {
		return fmt.Errorf("session %s has %d pending action(s) (%s); use --force", short(id), len(busy.Pending), strings.Join(busy.Pending, ", "))
	}
	return err
}

func (c *console) compare(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: /compare <a> <b>")
	}
	a, err := c.resolveSession(args[0])
	if err != nil {
		return err
	}
	b, err := c.resolveSession(args[1])
	if err != nil {
		return err
	}
	view, err := c.eng.Compare(a, b)
	if err != nil {
		return err
	}
	for _, side := range []session.DiffSide{view.Left, view.Right} {
		c.printf("=== %s %s %s\n", short(side.SessionID), side.Workspace, side.Branch)
		if side.Diff == nil {
			c.printf("(no diff yet)\n")
			continue
		}
		c.printf("%s\n%s\n", side.Diff.Path, side.Diff.Diff)
	}
	return nil
}

func (c *console) channel(args []string) error {
	switch len(args) {
	case 0:
		chans := c.eng.Channels()
		names := make([]string, 0, len(chans))
		for n := range chans {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			state := "off"
			if chans[n] {
				state = "on"
			}
			c.printf("  %-14s %s\n", n, state)
		}
		return nil
	case 2:
		switch args[1] {
		case "on":
			c.eng.SetChannel(args[0], true)
		case "off":
			c.eng.SetChannel(args[0], false)
		default:
			return errors.New("usage: /channel <name> on|off")
		}
		return nil
	default:
		return errors.New("usage: /channel [name on|off]")
	}
}

func (c *console) upload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /upload <path>")
	}
	// #nosec G304 -- the operator names the file
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return c.eng.UploadFile(ctx, filepath.Base(args[0]), data)
}

func (c *console) download(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: /download <name> [dest]")
	}
	data, err := c.eng.DownloadFile(ctx, args[0])
	if err != nil {
		return err
	}
	dest := filepath.Base(args[0])
	if len(args) == 2 {
		dest = args[1]
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return err
	}
	c.printf("saved %s (%d bytes)\n", dest, len(data))
	return nil
}

// resolveSession accepts a full id or a unique prefix.
func (c *console) resolveSession(arg string) (uuid.UUID, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}
	var match []uuid.UUID
	for _, info := range c.eng.Sessions() {
		if strings.HasPrefix(info.ID.String(), arg) {
			match = append(match, info.ID)
		}
	}
	switch len(match) {
	case 0:
		return uuid.Nil, fmt.Errorf("%w: %s", session.ErrNotFound, arg)
	case 1:
		return match[0], nil
	default:
		return uuid.Nil, fmt.Errorf("session prefix %q is ambiguous", arg)
	}
}

func (c *console) printSessions() {
	for _, info := range c.eng.Sessions() {
		marker := " "
		if info.Active {
			marker = "*"
		}
		c.printf("%s %s  %-24s %-10s %s (%d pending)\n", marker, short(info.ID), info.State, info.Branch, info.Workspace, len(info.Pending))
	}
}

func (c *console) printPending() {
	pending := c.eng.Pending()
	if len(pending) == 0 {
		c.printf("no pending actions\n")
		return
	}
	for _, a := range pending {
		c.printf("  %s [%s] %s: %s (session %s)\n", a.ActionID, a.Level, a.Kind, a.Description, short(a.SessionID))
	}
}

// PrintUpdates renders the feed until it is closed.
func (c *console) PrintUpdates(updates <-chan engine.Update) {
	for u := range updates {
		c.render(u)
	}
}

func (c *console) render(u engine.Update) {
	prefix := ""
	if u.SessionID != uuid.Nil && !u.Foreground && u.Kind != engine.UpdateStatus {
		prefix = "[" + short(u.SessionID) + "] "
	}
	switch u.Kind {
	case engine.UpdateEvent:
		if u.Event != nil {
			c.renderEvent(prefix, *u.Event)
		}
	case engine.UpdateProposal:
		a := u.Action
		if a == nil || a.Disposition.IsTerminal() {
			return
		}
		c.printf("%s? %s [%s] %s: %s\n", prefix, a.ActionID, a.Level, a.Kind, a.Description)
		if a.Command != "" {
			c.printf("%s    $ %s\n", prefix, a.Command)
		}
		if a.Path != "" {
			c.printf("%s    %s\n", prefix, a.Path)
		}
		if a.Level == approval.LevelDangerous {
			c.printf("%s    dangerous: only an explicit /approve %s will run this\n", prefix, a.ActionID)
		}
	case engine.UpdateDecision:
		a := u.Action
		if a == nil {
			return
		}
		c.printf("%s%s %s by %s", prefix, a.ActionID, a.Disposition, a.DecidedBy)
		if a.Reason != "" {
			c.printf(" (%s)", a.Reason)
		}
		c.printf("\n")
	case engine.UpdateSession:
		if u.Session != nil {
			c.printf("%ssession %s: %s\n", prefix, short(u.Session.ID), u.Session.State)
		}
	case engine.UpdateStatus:
		st := u.Status
		if st == nil {
			return
		}
		switch {
		case errors.Is(st.Err, transport.ErrRetriesExhausted):
			c.printf("connection %s: %v (use /reconnect)\n", st.State, st.Err)
		case st.Err != nil:
			c.printf("connection %s: %v\n", st.State, st.Err)
		case st.Attempt > 0:
			c.printf("connection %s (attempt %d/%d)\n", st.State, st.Attempt, st.MaxRetries)
		case st.Degraded:
			c.printf("connection %s, outbound queue degraded\n", st.State)
		}
	case engine.UpdateWarning:
		c.printf("%swarning: %s\n", prefix, u.Message)
	}
}

func (c *console) renderEvent(prefix string, ev protocol.Event) {
	switch p := ev.Payload.(type) {
	case protocol.TextChunk:
		if p.Channel == "" || p.Channel == "output" {
			c.printf("%s%s", prefix, p.Text)
			return
		}
		c.printf("%s(%s) %s\n", prefix, p.Channel, p.Text)
	case protocol.ShowDiff:
		c.printf("%s--- %s", prefix, p.Path)
		if p.Summary != "" {
			c.printf(" (%s)", p.Summary)
		}
		c.printf("\n%s\n", p.Diff)
	case protocol.DisplayLogs:
		for _, l := range p.Lines {
			c.printf("%s%s| %s\n", prefix, p.Stream, l)
		}
	case protocol.Interrupt:
		c.printf("%sturn ended by agent %s\n", prefix, p.Reason)
	case protocol.Unknown:
		c.printf("%s(unhandled event %s)\n", prefix, p.Name)
	}
}

func short(id uuid.UUID) string {
	return id.String()[:8]
}
