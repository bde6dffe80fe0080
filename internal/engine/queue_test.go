package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/garland/internal/ir"
)

func dispatchEvent(id string) Event {
	return Event{
		Type: EventTypeDispatch,
		Call: &ir.Call{ID: id, Token: "tok-1", Target: "greet"},
	}
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	require.True(t, q.Enqueue(dispatchEvent("call-1")))
	require.True(t, q.Enqueue(dispatchEvent("call-2")))
	require.True(t, q.Enqueue(dispatchEvent("call-3")))

	ev, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "call-1", ev.Call.ID)

	ev, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "call-2", ev.Call.ID)

	ev, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "call-3", ev.Call.ID)
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "empty queue should return false")
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(dispatchEvent("call-1"))
	q.Enqueue(dispatchEvent("call-2"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestEventQueue_EnqueueAfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()

	assert.False(t, q.Enqueue(dispatchEvent("call-1")), "closed queue should reject events")
}

func TestEventQueue_CloseDrainsQueuedEvents(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(dispatchEvent("call-1"))
	q.Close()

	// Events queued before Close remain dequeuable.
	ev, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "call-1", ev.Call.ID)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_CloseIdempotent(t *testing.T) {
	q := newEventQueue()
	q.Close()
	assert.NotPanics(t, func() { q.Close() })
}

func TestEventQueue_WaitSignalsOnEnqueue(t *testing.T) {
	q := newEventQueue()

	done := make(chan Event, 1)
	go func() {
		<-q.Wait()
		ev, _ := q.TryDequeue()
		done <- ev
	}()

	q.Enqueue(dispatchEvent("call-1"))

	select {
	case ev := <-done:
		assert.Equal(t, "call-1", ev.Call.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up after enqueue")
	}
}

func TestEventQueue_CloseWakesWaiters(t *testing.T) {
	q := newEventQueue()

	woke := make(chan struct{})
	go func() {
		<-q.Wait()
		close(woke)
	}()

	q.Close()

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up after close")
	}
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()
	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(dispatchEvent("call"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
}

func TestEventQueue_ReloadEvent(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(Event{
		Type: EventTypeReload,
		Reload: &ReloadPayload{
			ManifestHash: "abc123",
			Chains:       []ir.ChainRule{{ID: "chain-greet", Target: "greet"}},
		},
	})

	ev, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventTypeReload, ev.Type)
	require.NotNil(t, ev.Reload)
	assert.Equal(t, "abc123", ev.Reload.ManifestHash)
}
