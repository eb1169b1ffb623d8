// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ManuGH/ztc/internal/metrics"
	"github.com/ManuGH/ztc/internal/protocol"
)

// DefaultQueueCapacity bounds the outbound queue.
const DefaultQueueCapacity = 1000

// Entry is a queued event. It stays at the head of the queue until acked so a
// write interrupted by link loss is retried after reconnect.
type Entry struct {
	Event protocol.Event
	elem  *list.Element
}

// QueueStats is a point-in-time view of queue counters.
type QueueStats struct {
	Len           int
	Capacity      int
	Evicted       int
	Rejected      int
	Backpressured int
	Purged        int
	Degraded      bool
}

// Queue is the bounded outbound buffer. When full it evicts the oldest
// droppable event; critical events never get evicted.
type Queue struct {
	mu       sync.Mutex
	items    *list.List
	capacity int
	changed  chan struct{}
	closed   bool
	degraded bool
	stats    QueueStats

	onDegraded func(bool)
}

// NewQueue creates a queue. onDegraded, if set, is called outside the lock
// whenever the degraded flag flips.
func NewQueue(capacity int, onDegraded func(bool)) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:      list.New(),
		capacity:   capacity,
		changed:    make(chan struct{}),
		onDegraded: onDegraded,
	}
}

// broadcast wakes every waiter. Caller holds q.mu.
func (q *Queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
	metrics.SetOutboundQueueDepth(q.items.Len())
}

func (q *Queue) append(ev protocol.Event) {
	e := &Entry{Event: ev}
	e.elem = q.items.PushBack(e)
}

func (q *Queue) remove(e *Entry) {
	if e.elem == nil {
		return
	}
	q.items.Remove(e.elem)
	e.elem = nil
}

func (q *Queue) oldestDroppable() *Entry {
	for el := q.items.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.Event.Droppable() {
			return e
		}
	}
	return nil
}

// setDegraded updates the flag and reports whether it changed. Caller holds q.mu.
func (q *Queue) setDegraded(v bool) bool {
	if q.degraded == v {
		return false
	}
	q.degraded = v
	metrics.SetOutboundDegraded(v)
	return true
}

func (q *Queue) notifyDegraded(v bool) {
	if q.onDegraded != nil {
		q.onDegraded(v)
	}
}

// Push admits ev. A full queue evicts its oldest droppable event. A droppable
// event that finds no room is discarded and counted. A critical event that
// finds no room blocks for at most wait and then fails with ErrBackpressure.
func (q *Queue) Push(ctx context.Context, ev protocol.Event, wait time.Duration) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.items.Len() < q.capacity {
			q.append(ev)
			flipped := q.setDegraded(false)
			q.broadcast()
			q.mu.Unlock()
			if flipped {
				q.notifyDegraded(false)
			}
			return nil
		}
		if victim := q.oldestDroppable(); victim != nil {
			q.remove(victim)
			q.stats.Evicted++
			q.append(ev)
			q.broadcast()
			q.mu.Unlock()
			metrics.RecordOutboundDrop(string(victim.Event.Type), "evicted")
			return nil
		}
		if ev.Droppable() {
			q.stats.Rejected++
			q.mu.Unlock()
			metrics.RecordOutboundDrop(string(ev.Type), "rejected")
			return nil
		}

		flipped := q.setDegraded(true)
		ch := q.changed
		q.mu.Unlock()
		if flipped {
			q.notifyDegraded(true)
		}

		if timer == nil {
			if wait <= 0 {
				return q.backpressure(ev)
			}
			timer = time.NewTimer(wait)
		}
		select {
		case <-ch:
		case <-timer.C:
			return q.backpressure(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) backpressure(ev protocol.Event) error {
	q.mu.Lock()
	q.stats.Backpressured++
	q.mu.Unlock()
	metrics.RecordOutboundDrop(string(ev.Type), "backpressure")
	return ErrBackpressure
}

// Next blocks until the queue has a head entry and returns it without
// removing it.
func (q *Queue) Next(ctx context.Context) (*Entry, error) {
	for {
		q.mu.Lock()
		if front := q.items.Front(); front != nil {
			q.mu.Unlock()
			return front.Value.(*Entry), nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack removes e after a successful write. Acking an evicted entry is a no-op.
func (q *Queue) Ack(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.elem == nil {
		return
	}
	q.remove(e)
	q.broadcast()
}

// PurgeEphemeral drops every droppable event and returns how many were removed.
func (q *Queue) PurgeEphemeral() int {
	q.mu.Lock()
	var purged []*Entry
	for el := q.items.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if e.Event.Type.Ephemeral() {
			q.remove(e)
			purged = append(purged, e)
		}
		el = next
	}
	q.stats.Purged += len(purged)
	if len(purged) > 0 {
		q.broadcast()
	}
	q.mu.Unlock()

	for _, e := range purged {
		metrics.RecordOutboundDrop(string(e.Event.Type), "purged")
	}
	return len(purged)
}

// WaitEmpty blocks until the queue is empty or ctx is done.
func (q *Queue) WaitEmpty(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.items.Len() == 0 {
			q.mu.Unlock()
			return nil
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close rejects further pushes and wakes all waiters.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Snapshot returns the queued events in send order.
func (q *Queue) Snapshot() []protocol.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]protocol.Event, 0, q.items.Len())
	for el := q.items.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Entry).Event)
	}
	return out
}

// Stats returns a copy of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Len = q.items.Len()
	s.Capacity = q.capacity
	s.Degraded = q.degraded
	return s
}
