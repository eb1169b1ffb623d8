// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ztc/internal/audit"
	"github.com/ManuGH/ztc/internal/protocol"
)

const testWorkspace = "/srv/work"

// journal records audit writes and sends in the order they happen.
type journal struct {
	mu       sync.Mutex
	entries  []string
	records  []audit.Record
	sent     []protocol.Event
	auditErr error
	sendErr  error
}

func (j *journal) Write(_ context.Context, rec audit.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.auditErr != nil {
		return j.auditErr
	}
	j.records = append(j.records, rec)
	j.entries = append(j.entries, "audit:"+rec.ActionID+":"+rec.Disposition)
	return nil
}

func (j *journal) Close() error { return nil }

func (j *journal) send(_ context.Context, ev protocol.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.sendErr != nil {
		return j.sendErr
	}
	j.sent = append(j.sent, ev)
	resp := ev.Payload.(protocol.ApprovalResponse)
	j.entries = append(j.entries, "send:"+resp.ActionID)
	return nil
}

func (j *journal) responses() []protocol.ApprovalResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []protocol.ApprovalResponse
	for _, ev := range j.sent {
		out = append(out, ev.Payload.(protocol.ApprovalResponse))
	}
	return out
}

func (j *journal) recordsFor(actionID string) []audit.Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []audit.Record
	for _, r := range j.records {
		if r.ActionID == actionID {
			out = append(out, r)
		}
	}
	return out
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fixture struct {
	m     *Machine
	book  *Book
	j     *journal
	clock *fakeClock
}

func newFixture(t *testing.T, policy Policy, trusted bool) *fixture {
	t.Helper()
	j := &journal{}
	clock := newFakeClock()
	trust := NewTrustStore()
	if trusted {
		trust.Grant(testWorkspace)
	}
	m, err := NewMachine(policy, j, j.send, WithClock(clock), WithLogger(zerolog.Nop()), WithTrustStore(trust))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return &fixture{m: m, book: NewBook(uuid.New(), testWorkspace), j: j, clock: clock}
}

func (f *fixture) propose(t *testing.T, req protocol.RequestApproval) PendingAction {
	t.Helper()
	a, created, err := f.m.Propose(context.Background(), f.book, protocol.ForSession(f.book.SessionID(), req))
	require.NoError(t, err)
	require.True(t, created)
	return a
}

func review(id string) protocol.RequestApproval {
	return protocol.RequestApproval{ActionID: id, Kind: protocol.KindWriteFile, Description: "edit", Path: "main.go"}
}

func TestPropose_DedupesByActionID(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	first := f.propose(t, review("a1"))
	assert.Equal(t, DispositionPending, first.Disposition)
	assert.Equal(t, LevelReview, first.Level)

	again, created, err := f.m.Propose(context.Background(), f.book, protocol.ForSession(f.book.SessionID(), review("a1")))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.RequestEventID, again.RequestEventID)
	assert.Len(t, f.j.recordsFor("a1"), 1)
	assert.Len(t, f.book.List(), 1)
}

func TestPropose_RejectsOtherPayloads(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	_, _, err := f.m.Propose(context.Background(), f.book, protocol.ForSession(f.book.SessionID(), protocol.TextChunk{Text: "x"}))
	assert.Error(t, err)
}

func TestDecide_AuditBeforeResponse(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.propose(t, review("a1"))
	f.clock.Advance(1500 * time.Millisecond)

	a, err := f.m.Decide(context.Background(), f.book, "a1", Approve())
	require.NoError(t, err)
	assert.Equal(t, DispositionApproved, a.Disposition)
	assert.Equal(t, ActorUser, a.DecidedBy)

	assert.Equal(t, []string{"audit:a1:pending", "audit:a1:approved", "send:a1"}, f.j.entries)
	recs := f.j.recordsFor("a1")
	assert.Equal(t, int64(1500), recs[1].LatencyMS)
	assert.Equal(t, "approved by user", recs[1].OutcomeDetail)

	resp := f.j.responses()
	require.Len(t, resp, 1)
	assert.True(t, resp[0].Approved)
	assert.Equal(t, a.ResponseEventID, f.j.sent[0].EventID)
}

func TestDecide_IdempotentOnTerminal(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.propose(t, review("a1"))

	_, err := f.m.Decide(context.Background(), f.book, "a1", Reject("no"))
	require.NoError(t, err)

	for _, v := range []Verdict{Approve(), Reject("again"), Modify(json.RawMessage(`{"x":1}`), "")} {
		a, err := f.m.Decide(context.Background(), f.book, "a1", v)
		require.NoError(t, err)
		assert.Equal(t, DispositionRejected, a.Disposition)
		assert.Equal(t, "no", a.Reason)
	}
	assert.Len(t, f.j.responses(), 1)
	assert.Len(t, f.j.recordsFor("a1"), 2)
}

func TestDecide_ConcurrentSingleTerminal(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.propose(t, review("a1"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := Approve()
			if i%2 == 1 {
				v = Reject("race")
			}
			_, _ = f.m.Decide(context.Background(), f.book, "a1", v)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.j.responses(), 1)
	assert.Len(t, f.j.recordsFor("a1"), 2)
}

func TestDecide_Errors(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.propose(t, review("a1"))

	_, err := f.m.Decide(context.Background(), f.book, "missing", Approve())
	assert.ErrorIs(t, err, ErrActionNotFound)

	_, err = f.m.Decide(context.Background(), f.book, "a1", Modify(nil, ""))
	assert.ErrorIs(t, err, ErrModificationsRequired)

	_, err = f.m.Decide(context.Background(), f.book, "a1", Verdict{Outcome: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidOutcome)

	a, _ := f.book.Get("a1")
	assert.Equal(t, DispositionPending, a.Disposition)
}

func TestDecide_ModifyCarriesPayload(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.propose(t, review("a1"))

	mods := json.RawMessage(`{"content":"patched"}`)
	a, err := f.m.Decide(context.Background(), f.book, "a1", Modify(mods, "tweak"))
	require.NoError(t, err)
	assert.Equal(t, DispositionModified, a.Disposition)
	assert.JSONEq(t, string(mods), string(a.Modifications))

	resp := f.j.responses()[0]
	assert.True(t, resp.Approved)
	assert.JSONEq(t, string(mods), string(resp.Modifications))
	assert.Equal(t, "tweak", resp.Reason)
}

func TestDecide_AuditFailureLeavesPending(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.propose(t, review("a1"))
	f.j.auditErr = errors.New("disk full")

	_, err := f.m.Decide(context.Background(), f.book, "a1", Approve())
	require.Error(t, err)
	a, _ := f.book.Get("a1")
	assert.Equal(t, DispositionPending, a.Disposition)
	assert.Empty(t, f.j.responses())

	f.j.auditErr = nil
	a, err = f.m.Decide(context.Background(), f.book, "a1", Approve())
	require.NoError(t, err)
	assert.Equal(t, DispositionApproved, a.Disposition)
}

func TestDecide_SendFailureIsResent(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.propose(t, review("a1"))
	f.propose(t, review("a2"))
	f.j.sendErr = errors.New("backpressure")

	a, err := f.m.Decide(context.Background(), f.book, "a1", Approve())
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, DispositionApproved, a.Disposition)
	assert.False(t, a.Delivered)

	replay := f.m.ResendEvents(f.book)
	require.Len(t, replay, 2)
	assert.Equal(t, protocol.TypeRequestApproval, replay[0].Type)
	pending, _ := f.book.Get("a2")
	assert.Equal(t, pending.RequestEventID, replay[0].EventID)
	assert.Equal(t, protocol.TypeApprovalResponse, replay[1].Type)
	assert.Equal(t, a.ResponseEventID, replay[1].EventID)

	// The response is only replayed once.
	replay = f.m.ResendEvents(f.book)
	require.Len(t, replay, 1)
	assert.Equal(t, protocol.TypeRequestApproval, replay[0].Type)
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.propose(t, review("a1"))
	_, err := f.m.Decide(context.Background(), f.book, "a1", Approve())
	require.NoError(t, err)

	require.NoError(t, f.m.Acknowledge(context.Background(), f.book, "a1"))
	a, _ := f.book.Get("a1")
	assert.True(t, a.Delivered)

	assert.ErrorIs(t, f.m.Acknowledge(context.Background(), f.book, "nope"), ErrActionNotFound)
}

func TestPolicy_YOLONeverApprovesDangerous(t *testing.T) {
	f := newFixture(t, Policy{Mode: ModeYOLO}, false)

	trust := f.propose(t, review("t1"))
	assert.Equal(t, LevelTrust, trust.Level)
	assert.Equal(t, DispositionApproved, trust.Disposition)
	assert.Equal(t, ActorPolicy, trust.DecidedBy)
	assert.True(t, f.m.Trust().Trusted(testWorkspace))

	plan := f.propose(t, protocol.RequestApproval{ActionID: "p1", Kind: protocol.KindOther, Plan: true})
	assert.Equal(t, DispositionApproved, plan.Disposition)

	dangerous := []protocol.RequestApproval{
		{ActionID: "d1", Kind: protocol.KindDelete, Path: "x"},
		{ActionID: "d2", Kind: protocol.KindWriteFile, Path: "/etc/hosts"},
		{ActionID: "d3", Kind: protocol.KindExecCommand, Command: "rm -rf /"},
		{ActionID: "d4", Kind: protocol.KindOther, Level: "dangerous"},
	}
	for _, req := range dangerous {
		a := f.propose(t, req)
		assert.Equal(t, LevelDangerous, a.Level, req.ActionID)
		assert.Equal(t, DispositionPending, a.Disposition, req.ActionID)
	}

	a, err := f.m.resolve(context.Background(), f.book, "d1", EvApprove, nil, "", ActorPolicy, audit.EventAutoDecided, "")
	assert.ErrorIs(t, err, ErrUserDecisionRequired)
	assert.Equal(t, DispositionPending, a.Disposition)

	a, err = f.m.Decide(context.Background(), f.book, "d1", Approve())
	require.NoError(t, err)
	assert.Equal(t, DispositionApproved, a.Disposition)
}

func TestPolicy_DangerousHintInAnyCase(t *testing.T) {
	modes := []Mode{ModeManual, ModeBatch, ModeYOLO}
	hints := []string{"dangerous", "Dangerous", "DANGEROUS"}
	for _, mode := range modes {
		for _, hint := range hints {
			t.Run(string(mode)+"/"+hint, func(t *testing.T) {
				f := newFixture(t, Policy{Mode: mode}, true)
				a := f.propose(t, protocol.RequestApproval{
					ActionID:     "deploy",
					Kind:         protocol.KindExecCommand,
					Command:      "./deploy-prod.sh",
					Level:        hint,
					TaskID:       "t1",
					PlanComplete: true,
				})
				assert.Equal(t, LevelDangerous, a.Level)
				assert.Equal(t, DispositionPending, a.Disposition)
				assert.Empty(t, f.j.responses())
			})
		}
	}
}

func TestPropose_UnknownKindIsOther(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	a := f.propose(t, protocol.RequestApproval{ActionID: "n1", Kind: "Network_Call", Description: "fetch"})
	assert.Equal(t, protocol.KindOther, a.Kind)
	assert.Equal(t, LevelReview, a.Level)
	recs := f.j.recordsFor("n1")
	require.NotEmpty(t, recs)
	assert.Equal(t, protocol.KindOther, recs[0].Kind)

	d := f.propose(t, protocol.RequestApproval{ActionID: "n2", Kind: "DELETE", Path: "x"})
	assert.Equal(t, protocol.KindDelete, d.Kind)
	assert.Equal(t, LevelDangerous, d.Level)
}

func TestPolicy_BatchWaitsForPlanComplete(t *testing.T) {
	f := newFixture(t, Policy{Mode: ModeBatch}, true)

	r1 := f.propose(t, protocol.RequestApproval{ActionID: "r1", Kind: protocol.KindWriteFile, Path: "a.go", TaskID: "t1"})
	assert.Equal(t, DispositionPending, r1.Disposition)
	other := f.propose(t, protocol.RequestApproval{ActionID: "o1", Kind: protocol.KindWriteFile, Path: "b.go", TaskID: "t2"})
	danger := f.propose(t, protocol.RequestApproval{ActionID: "d1", Kind: protocol.KindDelete, Path: "c.go", TaskID: "t1"})

	done := f.propose(t, protocol.RequestApproval{ActionID: "r2", Kind: protocol.KindWriteFile, Path: "c.go", TaskID: "t1", PlanComplete: true})
	assert.Equal(t, DispositionApproved, done.Disposition)

	r1, _ = f.book.Get("r1")
	assert.Equal(t, DispositionApproved, r1.Disposition)
	assert.Equal(t, ActorPolicy, r1.DecidedBy)

	other, _ = f.book.Get(other.ActionID)
	assert.Equal(t, DispositionPending, other.Disposition, "other tasks are untouched")
	danger, _ = f.book.Get(danger.ActionID)
	assert.Equal(t, DispositionPending, danger.Disposition)

	r3 := f.propose(t, protocol.RequestApproval{ActionID: "r3", Kind: protocol.KindWriteFile, Path: "d.go", TaskID: "t1"})
	assert.Equal(t, DispositionApproved, r3.Disposition)
}

func TestTimeouts_PerLevel(t *testing.T) {
	f := newFixture(t, Policy{Mode: ModeManual, Timeouts: map[Level]time.Duration{
		LevelReview:    time.Minute,
		LevelDangerous: time.Second,
	}}, true)

	f.propose(t, review("r1"))
	f.propose(t, protocol.RequestApproval{ActionID: "d1", Kind: protocol.KindDelete, Path: "x"})
	assert.Equal(t, 1, f.clock.active(), "dangerous never gets a timer")

	f.clock.Advance(2 * time.Minute)

	r1, _ := f.book.Get("r1")
	assert.Equal(t, DispositionExpired, r1.Disposition)
	assert.Equal(t, ActorSystem, r1.DecidedBy)
	d1, _ := f.book.Get("d1")
	assert.Equal(t, DispositionPending, d1.Disposition)

	resp := f.j.responses()
	require.Len(t, resp, 1)
	assert.False(t, resp[0].Approved)
	assert.Equal(t, ReasonExpired, resp[0].Reason)
	recs := f.j.recordsFor("r1")
	assert.Equal(t, audit.EventExpired, recs[len(recs)-1].Type)
}

func TestTimeouts_StoppedByDecision(t *testing.T) {
	f := newFixture(t, Policy{Timeouts: map[Level]time.Duration{LevelReview: time.Minute}}, true)
	f.propose(t, review("r1"))
	require.Equal(t, 1, f.clock.active())

	_, err := f.m.Decide(context.Background(), f.book, "r1", Approve())
	require.NoError(t, err)
	assert.Equal(t, 0, f.clock.active())
}

func TestTimeouts_NotArmedForDecidedAction(t *testing.T) {
	f := newFixture(t, Policy{Timeouts: map[Level]time.Duration{LevelReview: time.Minute}}, true)
	stale := f.propose(t, review("r1"))
	require.Equal(t, DispositionPending, stale.Disposition)

	_, err := f.m.Decide(context.Background(), f.book, "r1", Approve())
	require.NoError(t, err)

	// A decision that lands before the timer is armed must win.
	f.m.schedule(f.book, stale)
	assert.Equal(t, 0, f.clock.active())
	assert.Equal(t, 0, f.m.armedTimers())
}

func TestTimeouts_FiredTimerIsForgotten(t *testing.T) {
	f := newFixture(t, Policy{Timeouts: map[Level]time.Duration{LevelReview: time.Minute}}, true)
	for _, id := range []string{"r1", "r2", "r3"} {
		f.propose(t, review(id))
	}
	require.Equal(t, 3, f.m.armedTimers())

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, f.m.armedTimers())
	for _, id := range []string{"r1", "r2", "r3"} {
		a, _ := f.book.Get(id)
		assert.Equal(t, DispositionExpired, a.Disposition, id)
	}
}

func TestInterrupt_RejectsCurrentTurnOnly(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.book.BeginTurn()
	f.propose(t, review("old"))
	turn := f.book.BeginTurn()
	f.propose(t, review("new1"))
	f.propose(t, protocol.RequestApproval{ActionID: "new2", Kind: protocol.KindDelete, Path: "x"})

	out, err := f.m.Interrupt(context.Background(), f.book, turn)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, a := range out {
		assert.Equal(t, DispositionRejected, a.Disposition)
		assert.Equal(t, ReasonInterrupted, a.Reason)
	}
	old, _ := f.book.Get("old")
	assert.Equal(t, DispositionPending, old.Disposition)
}

func TestExpireAll_ForceClose(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	f.propose(t, review("a1"))
	f.propose(t, review("a2"))

	out, err := f.m.ExpireAll(context.Background(), f.book, ReasonForceClosed)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 0, f.book.PendingCount())

	recs := f.j.recordsFor("a2")
	assert.Equal(t, audit.EventForceClosed, recs[len(recs)-1].Type)
	assert.Equal(t, string(DispositionExpired), recs[len(recs)-1].Disposition)
}

func TestBooks_AreIsolated(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), true)
	other := NewBook(uuid.New(), testWorkspace)
	f.propose(t, review("a1"))

	_, err := f.m.Decide(context.Background(), other, "a1", Approve())
	assert.ErrorIs(t, err, ErrActionNotFound)
	assert.Empty(t, other.List())
	assert.True(t, f.book.HasPending(LevelReview))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{Mode: "reckless"}.Validate())
	assert.Error(t, Policy{Timeouts: map[Level]time.Duration{LevelReview: -time.Second}}.Validate())
	assert.Error(t, Policy{Timeouts: map[Level]time.Duration{"bogus": time.Second}}.Validate())
	assert.Zero(t, Policy{Timeouts: map[Level]time.Duration{LevelDangerous: time.Second}}.Timeout(LevelDangerous))
}
