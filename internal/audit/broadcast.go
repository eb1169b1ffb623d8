// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"sync"
)

// Broadcast is a sink that forwards records to live subscribers, such as the
// console audit feed. Slow subscribers miss records rather than block writers.
type Broadcast struct {
	mu     sync.Mutex
	subs   map[int]chan Record
	next   int
	closed bool
}

// NewBroadcast creates an empty broadcaster.
func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[int]chan Record)}
}

// Subscribe returns a channel of records and a cancel func that closes it.
func (b *Broadcast) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Write implements Sink. It never fails.
func (b *Broadcast) Write(_ context.Context, rec Record) error {
	rec = stamp(rec)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- rec:
		default:
		}
	}
	return nil
}

// Close implements Sink and closes every subscription.
func (b *Broadcast) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
