// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/ztc/internal/log"
	"github.com/ManuGH/ztc/internal/metrics"
	"github.com/ManuGH/ztc/internal/protocol"
)

const (
	// DefaultHoldTimeout is how long events for an unknown session wait.
	DefaultHoldTimeout = 5 * time.Second
	// DefaultSeenCapacity bounds the event-id dedupe set.
	DefaultSeenCapacity = 4096
	// DefaultHoldCapacity bounds the held events per unknown session.
	DefaultHoldCapacity = 256
)

var (
	// ErrDuplicate marks an event id already admitted.
	ErrDuplicate = errors.New("dispatch: duplicate event")
	// ErrHeld marks an event parked until its session is known.
	ErrHeld = errors.New("dispatch: held for unknown session")
	// ErrFiltered marks an event on a disabled channel.
	ErrFiltered = errors.New("dispatch: channel disabled")
)

// Output channels a text_chunk can carry.
const (
	ChannelOutput       = "output"
	ChannelReasoning    = "reasoning"
	ChannelError        = "error"
	ChannelWarning      = "warning"
	ChannelTests        = "tests"
	ChannelEvals        = "evals"
	ChannelChoices      = "choices"
	ChannelPrompt       = "prompt"
	ChannelSystemPrompt = "system_prompt"
	ChannelUpdate       = "update"
)

// DefaultChannels is the initial enablement of every known channel.
func DefaultChannels() map[string]bool {
	return map[string]bool{
		ChannelOutput:       true,
		ChannelReasoning:    true,
		ChannelError:        true,
		ChannelWarning:      true,
		ChannelTests:        true,
		ChannelEvals:        true,
		ChannelChoices:      true,
		ChannelPrompt:       false,
		ChannelSystemPrompt: false,
		ChannelUpdate:       false,
	}
}

// Routed is an admitted event with its decision.
type Routed struct {
	Event    protocol.Event
	Decision Decision
}

type held struct {
	ev protocol.Event
	at time.Time
}

// Config tunes a Router. Zero values take the defaults.
type Config struct {
	HoldTimeout  time.Duration
	SeenCapacity int
	HoldCapacity int
	Channels     map[string]bool
}

// Router applies dedupe, holding and channel filters on top of Route.
type Router struct {
	mu       sync.Mutex
	cfg      Config
	known    func(uuid.UUID) bool
	seen     map[uuid.UUID]struct{}
	seenRing []uuid.UUID
	seenNext int
	held     map[uuid.UUID][]held
	channels map[string]bool
	now      func() time.Time
	logger   zerolog.Logger
	warn     *rate.Limiter
}

// NewRouter creates a router. known reports whether a session id is
// registered.
func NewRouter(cfg Config, known func(uuid.UUID) bool) *Router {
	if cfg.HoldTimeout <= 0 {
		cfg.HoldTimeout = DefaultHoldTimeout
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = DefaultSeenCapacity
	}
	if cfg.HoldCapacity <= 0 {
		cfg.HoldCapacity = DefaultHoldCapacity
	}
	channels := DefaultChannels()
	for k, v := range cfg.Channels {
		channels[k] = v
	}
	return &Router{
		cfg:      cfg,
		known:    known,
		seen:     make(map[uuid.UUID]struct{}, cfg.SeenCapacity),
		seenRing: make([]uuid.UUID, cfg.SeenCapacity),
		held:     make(map[uuid.UUID][]held),
		channels: channels,
		now:      time.Now,
		logger:   log.WithComponent("dispatch"),
		warn:     rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// SetNow replaces the clock; used by tests.
func (r *Router) SetNow(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// SetLogger replaces the component logger.
func (r *Router) SetLogger(l zerolog.Logger) {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

// SetChannel enables or disables a text_chunk channel.
func (r *Router) SetChannel(name string, enabled bool) {
	r.mu.Lock()
	r.channels[name] = enabled
	r.mu.Unlock()
}

// Channels returns a copy of the channel enablement map.
func (r *Router) Channels() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.channels))
	for k, v := range r.channels {
		out[k] = v
	}
	return out
}

// Admit routes ev. A non-nil error means the event must not be delivered:
// ErrDuplicate, ErrHeld, ErrFiltered or *ProtocolViolation.
func (r *Router) Admit(ev protocol.Event, current uuid.UUID) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[ev.EventID]; dup {
		metrics.RecordDispatchDrop("duplicate")
		r.logger.Debug().Str(log.FieldEventID, ev.EventID.String()).Str(log.FieldEventType, string(ev.Type)).Msg("duplicate event dropped")
		return Decision{}, ErrDuplicate
	}
	r.remember(ev.EventID)

	d := Route(ev, current)
	if d.Target == TargetControl {
		metrics.RecordDispatchDrop("violation")
		return d, violation(ev)
	}
	if !d.Global && d.Target != TargetSessions && !r.known(d.Session) {
		r.hold(ev, d.Session)
		return d, ErrHeld
	}
	if err := r.filter(ev); err != nil {
		return d, err
	}
	metrics.RecordDispatch(string(d.Target))
	return d, nil
}

// Release returns, in arrival order, the held events for a session that has
// become known, filtered like Admit.
func (r *Router) Release(id uuid.UUID, current uuid.UUID) []Routed {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.held[id]
	delete(r.held, id)

	out := make([]Routed, 0, len(pending))
	for _, h := range pending {
		if r.filter(h.ev) != nil {
			continue
		}
		d := Route(h.ev, current)
		metrics.RecordDispatch(string(d.Target))
		out = append(out, Routed{Event: h.ev, Decision: d})
	}
	return out
}

// Sweep drops held events older than the hold timeout and returns how many
// were dropped.
func (r *Router) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.cfg.HoldTimeout)
	dropped := 0
	for id, list := range r.held {
		keep := list[:0]
		for _, h := range list {
			if h.at.After(cutoff) {
				keep = append(keep, h)
				continue
			}
			dropped++
			metrics.RecordDispatchDrop("orphan_timeout")
			if r.warn.Allow() {
				r.logger.Warn().
					Str(log.FieldSessionID, id.String()).
					Str(log.FieldEventID, h.ev.EventID.String()).
					Str(log.FieldEventType, string(h.ev.Type)).
					Msg("dropping event for unknown session")
			}
		}
		if len(keep) == 0 {
			delete(r.held, id)
		} else {
			r.held[id] = keep
		}
	}
	return dropped
}

// Held returns the number of events waiting for a session.
func (r *Router) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, list := range r.held {
		n += len(list)
	}
	return n
}

// Caller must hold r.mu.
func (r *Router) remember(id uuid.UUID) {
	if old := r.seenRing[r.seenNext]; old != uuid.Nil {
		delete(r.seen, old)
	}
	r.seenRing[r.seenNext] = id
	r.seen[id] = struct{}{}
	r.seenNext = (r.seenNext + 1) % len(r.seenRing)
}

// Caller must hold r.mu.
func (r *Router) hold(ev protocol.Event, id uuid.UUID) {
	list := r.held[id]
	if len(list) >= r.cfg.HoldCapacity {
		list = list[1:]
		metrics.RecordDispatchDrop("orphan_overflow")
	}
	r.held[id] = append(list, held{ev: ev, at: r.now()})
}

// Caller must hold r.mu.
func (r *Router) filter(ev protocol.Event) error {
	tc, ok := ev.Payload.(protocol.TextChunk)
	if !ok {
		return nil
	}
	ch := tc.Channel
	if ch == "" {
		ch = ChannelOutput
	}
	if enabled, known := r.channels[ch]; known && !enabled {
		metrics.RecordDispatchDrop("filtered")
		return ErrFiltered
	}
	return nil
}
