// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ztc/internal/protocol"
)

func chunk(i int) protocol.Event {
	return protocol.Global(protocol.TextChunk{Text: string(rune('a' + i%26))})
}

func critical() protocol.Event {
	return protocol.Global(protocol.UserMessage{Text: "hi"})
}

func TestQueue_EvictsOldestDroppableForCritical(t *testing.T) {
	q := NewQueue(1000, nil)
	ctx := context.Background()

	var first protocol.Event
	for i := 0; i < 1000; i++ {
		ev := chunk(i)
		if i == 0 {
			first = ev
		}
		require.NoError(t, q.Push(ctx, ev, time.Second))
	}
	msg := critical()
	require.NoError(t, q.Push(ctx, msg, time.Second))

	snap := q.Snapshot()
	require.Len(t, snap, 1000)
	assert.Equal(t, msg.EventID, snap[len(snap)-1].EventID)
	for _, ev := range snap {
		assert.NotEqual(t, first.EventID, ev.EventID, "oldest text_chunk must be evicted")
	}
	assert.Equal(t, 1, q.Stats().Evicted)
}

func TestQueue_DroppableEvictsDroppable(t *testing.T) {
	q := NewQueue(2, nil)
	ctx := context.Background()
	a, b, c := chunk(0), critical(), chunk(2)
	require.NoError(t, q.Push(ctx, a, 0))
	require.NoError(t, q.Push(ctx, b, 0))
	require.NoError(t, q.Push(ctx, c, 0))

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, b.EventID, snap[0].EventID)
	assert.Equal(t, c.EventID, snap[1].EventID)
}

func TestQueue_DroppableRejectedWhenAllCritical(t *testing.T) {
	q := NewQueue(2, nil)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, critical(), 0))
	require.NoError(t, q.Push(ctx, critical(), 0))

	require.NoError(t, q.Push(ctx, chunk(1), 0))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 1, q.Stats().Rejected)
	for _, ev := range q.Snapshot() {
		assert.Equal(t, protocol.TypeUserMessage, ev.Type)
	}
}

func TestQueue_CriticalBackpressure(t *testing.T) {
	var degradedCalls atomic.Int32
	q := NewQueue(1, func(v bool) {
		if v {
			degradedCalls.Add(1)
		}
	})
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, critical(), 0))

	start := time.Now()
	err := q.Push(ctx, critical(), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrBackpressure)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, int32(1), degradedCalls.Load())

	st := q.Stats()
	assert.True(t, st.Degraded)
	assert.Equal(t, 1, st.Backpressured)
	assert.Equal(t, 1, st.Len, "the waiting event must not be admitted")
}

func TestQueue_CriticalAdmittedWhenSpaceFrees(t *testing.T) {
	q := NewQueue(1, nil)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, critical(), 0))

	go func() {
		time.Sleep(10 * time.Millisecond)
		e, err := q.Next(ctx)
		if err == nil {
			q.Ack(e)
		}
	}()

	second := critical()
	require.NoError(t, q.Push(ctx, second, time.Second))
	assert.False(t, q.Stats().Degraded)
	assert.Equal(t, second.EventID, q.Snapshot()[0].EventID)
}

func TestQueue_NextAckOrder(t *testing.T) {
	q := NewQueue(10, nil)
	ctx := context.Background()
	evs := []protocol.Event{critical(), chunk(1), critical()}
	for _, ev := range evs {
		require.NoError(t, q.Push(ctx, ev, 0))
	}
	for _, want := range evs {
		e, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.EventID, e.Event.EventID)

		again, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Same(t, e, again, "head stays until acked")
		q.Ack(e)
	}
	assert.Zero(t, q.Len())

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := q.Next(cctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_AckAfterEvictionIsNoop(t *testing.T) {
	q := NewQueue(1, nil)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, chunk(0), 0))
	head, err := q.Next(ctx)
	require.NoError(t, err)

	msg := critical()
	require.NoError(t, q.Push(ctx, msg, 0))
	q.Ack(head)

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, msg.EventID, snap[0].EventID)
}

func TestQueue_PurgeEphemeral(t *testing.T) {
	q := NewQueue(10, nil)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, chunk(0), 0))
	require.NoError(t, q.Push(ctx, critical(), 0))
	require.NoError(t, q.Push(ctx, protocol.Global(protocol.DisplayLogs{Lines: []string{"x"}}), 0))

	assert.Equal(t, 2, q.PurgeEphemeral())
	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, protocol.TypeUserMessage, snap[0].Type)
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q := NewQueue(1, nil)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, critical(), 0))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Push(ctx, critical(), 5*time.Second) }()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked push not released by Close")
	}
	require.ErrorIs(t, q.Push(ctx, critical(), 0), ErrClosed)
}
