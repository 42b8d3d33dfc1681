package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	want   int
}

func newRecorder(want int) *recorder {
	return &recorder{done: make(chan struct{}), want: want}
}

func (r *recorder) handle(ctx context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) == r.want {
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) []Event {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestBus_EmitDispatchesToSubscribers(t *testing.T) {
	bus := NewBus()
	rec := newRecorder(1)
	bus.Subscribe(EventTypeBalanceChange, rec.handle)

	other := newRecorder(1)
	bus.Subscribe(EventTypeMatchEnd, other.handle)

	bus.Emit(context.Background(), BalanceChangeEvent{Address: "a", ChangeAmount: 5})

	got := rec.wait(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventTypeBalanceChange, got[0].Type())

	// The match-end subscriber saw nothing
	other.mu.Lock()
	assert.Empty(t, other.events)
	other.mu.Unlock()
}

func TestBus_HandlerPanicDoesNotPoisonOthers(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(EventTypeMatchFound, func(ctx context.Context, event Event) {
		panic("boom")
	})
	rec := newRecorder(1)
	bus.Subscribe(EventTypeMatchFound, rec.handle)

	bus.Emit(context.Background(), MatchFoundEvent{MatchID: "m-1"})

	got := rec.wait(t)
	assert.Len(t, got, 1)
}

func TestTransactionalBus_FlushAfterCommit(t *testing.T) {
	bus := NewBus()
	rec := newRecorder(2)
	bus.Subscribe(EventTypeBalanceChange, rec.handle)

	txBus := NewTransactionalBus(bus)
	txBus.Publish(BalanceChangeEvent{Address: "a", ChangeAmount: 1})
	txBus.Publish(BalanceChangeEvent{Address: "b", ChangeAmount: 2})

	// Nothing leaks before the flush
	rec.mu.Lock()
	assert.Empty(t, rec.events)
	rec.mu.Unlock()

	require.NoError(t, txBus.Flush(context.Background()))
	assert.Len(t, rec.wait(t), 2)
}

func TestTransactionalBus_DiscardDropsPending(t *testing.T) {
	bus := NewBus()
	rec := newRecorder(1)
	bus.Subscribe(EventTypeBalanceChange, rec.handle)

	txBus := NewTransactionalBus(bus)
	txBus.Publish(BalanceChangeEvent{Address: "a", ChangeAmount: 1})
	txBus.Discard()

	require.NoError(t, txBus.Flush(context.Background()))

	// The flush after a discard emits nothing
	time.Sleep(50 * time.Millisecond)
	rec.mu.Lock()
	assert.Empty(t, rec.events)
	rec.mu.Unlock()
}
