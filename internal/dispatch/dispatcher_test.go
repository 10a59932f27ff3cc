package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plancast/internal/ir"
)

func TestDispatcher_DeliversInReceiveOrder(t *testing.T) {
	rec := &recorder{}
	d := New(context.Background(), "plan-a", rec)

	for seq := uint64(1); seq <= 50; seq++ {
		d.Receive(Item{T: tx(seq, t0)})
	}
	flushed(t, d)

	seen := rec.Seen()
	require.Len(t, seen, 50)
	for i, seq := range seen {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestDispatcher_AtMostOneActiveDelivery(t *testing.T) {
	rec := &recorder{}
	d := New(context.Background(), "plan-a", rec)

	var mu sync.Mutex
	var next uint64
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				// Sequence assignment and Receive happen under one lock, as in the registry.
				mu.Lock()
				next++
				d.Receive(Item{T: tx(next, t0)})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	flushed(t, d)

	assert.Equal(t, int32(1), rec.maxActive.Load(), "at most one delivery may be active per scope")
	seen := rec.Seen()
	require.Len(t, seen, 500)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i], "strictly increasing sequence numbers")
	}
}

func TestDispatcher_ReceiveDoesNotWaitForDelivery(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	d := New(context.Background(), "plan-a", rec)

	done := make(chan struct{})
	go func() {
		for seq := uint64(1); seq <= 3; seq++ {
			d.Receive(Item{T: tx(seq, t0)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Receive blocked behind a slow delivery")
	}
	assert.True(t, d.Busy())

	for i := 0; i < 3; i++ {
		rec.gate <- struct{}{}
	}
	flushed(t, d)
	assert.False(t, d.Busy())
}

func TestDispatcher_FlushHonoursContext(t *testing.T) {
	rec := &recorder{}
	d := New(context.Background(), "plan-a", rec)
	d.CancelDispatching()
	d.Receive(Item{T: tx(1, t0)})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Flush(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, d.Len(), "cancelled dispatcher keeps its items")
}

func TestDispatcher_FlushOnIdleReturnsImmediately(t *testing.T) {
	d := New(context.Background(), "plan-a", &recorder{})
	flushed(t, d)
}

func TestDispatcher_CancelRetainsAndStartResumes(t *testing.T) {
	rec := &recorder{}
	d := New(context.Background(), "plan-a", rec)

	d.CancelDispatching()
	for seq := uint64(1); seq <= 5; seq++ {
		d.Receive(Item{T: tx(seq, t0)})
	}
	assert.Empty(t, rec.Seen())
	assert.Equal(t, 5, d.Len())

	d.StartDispatching()
	flushed(t, d)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, rec.Seen())
}

func TestDispatcher_CancelLetsCurrentDeliveryFinish(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	d := New(context.Background(), "plan-a", rec)
	d.Receive(Item{T: tx(1, t0)})
	d.Receive(Item{T: tx(2, t0)})

	require.Eventually(t, func() bool { return rec.active.Load() == 1 }, time.Second, time.Millisecond)
	d.CancelDispatching()
	rec.gate <- struct{}{}

	require.Eventually(t, func() bool { return len(rec.Seen()) == 1 }, time.Second, time.Millisecond)
	// The worker stops instead of taking item 2.
	assert.Equal(t, 1, d.Len())

	go func() { rec.gate <- struct{}{} }()
	d.StartDispatching()
	flushed(t, d)
	assert.Equal(t, []uint64{1, 2}, rec.Seen())
}

func TestDispatcher_NoConsumerIsFatal(t *testing.T) {
	d := New(context.Background(), "plan-a", nil)

	defer func() {
		r := recover()
		require.NotNil(t, r, "delivery without a consumer must panic")
		var cfgErr *ConfigurationError
		require.True(t, errors.As(r.(error), &cfgErr))
		assert.Equal(t, "plan-a", cfgErr.Scope)
	}()
	d.DeliverNow(Item{T: tx(1, t0)})
}

func TestDispatcher_FailedOutcomeContinues(t *testing.T) {
	rec := &recorder{fail: map[uint64]bool{2: true}}
	d := New(context.Background(), "plan-a", rec)

	tickets := make([]*Ticket, 3)
	for i := range tickets {
		tr := tx(uint64(i+1), t0)
		tickets[i] = NewTicket(tr)
		d.Receive(Item{T: tr, Ticket: tickets[i]})
	}
	flushed(t, d)

	assert.Equal(t, []uint64{1, 2, 3}, rec.Seen())
	assert.NoError(t, tickets[0].Err())
	assert.Error(t, tickets[1].Err())
	assert.NoError(t, tickets[2].Err())
}

func TestDispatcher_ClosedOutcomeChannel(t *testing.T) {
	c := ConsumerFunc(func(context.Context, ir.Transmission) <-chan ir.Outcome {
		ch := make(chan ir.Outcome)
		close(ch)
		return ch
	})
	d := New(context.Background(), "plan-a", c)

	o := d.DeliverNow(Item{T: tx(1, t0)})
	assert.ErrorIs(t, o.Err, ErrNoOutcome)
	assert.Equal(t, "plan-a", o.Scope)
}

func TestDispatcher_ObserverRunsBeforeTicketResolves(t *testing.T) {
	obs := &recordingObserver{}
	d := New(context.Background(), "plan-a", &recorder{}, obs)
	tr := tx(1, t0)
	tk := NewTicket(tr)

	d.Receive(Item{T: tr, Ticket: tk})
	require.NoError(t, tk.Wait(context.Background()))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.delivered, 1)
	assert.Equal(t, "sum-1", obs.delivered[0].Checksum)
	assert.False(t, obs.resolved[0], "observer must see the ticket unresolved")
	assert.NotEmpty(t, obs.depths)
}

func TestDispatcher_DeliverNowWaitsForInFlightDelivery(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	d := New(context.Background(), "plan-a", rec)
	d.Receive(Item{T: tx(1, t0)})
	require.Eventually(t, func() bool { return rec.active.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan ir.Outcome)
	go func() { done <- d.DeliverNow(Item{T: tx(2, t0)}) }()

	select {
	case <-done:
		t.Fatal("bypass delivery overlapped an in-flight delivery")
	case <-time.After(20 * time.Millisecond):
	}
	rec.gate <- struct{}{}
	rec.gate <- struct{}{}
	o := <-done
	assert.True(t, o.Success)
	assert.Equal(t, int32(1), rec.maxActive.Load())
}

func TestWatermark_Precedes(t *testing.T) {
	wm := Watermark{Timestamp: t0, Seq: 10}

	assert.True(t, wm.Precedes(tx(5, t0.Add(time.Millisecond))), "later timestamp")
	assert.False(t, wm.Precedes(tx(50, t0.Add(-time.Millisecond))), "earlier timestamp")
	assert.True(t, wm.Precedes(tx(11, t0)), "equal timestamp, higher seq")
	assert.False(t, wm.Precedes(tx(10, t0)), "same position")
	assert.False(t, wm.Precedes(tx(9, t0)), "equal timestamp, lower seq")
}

func TestMergeFrom_CutoffAndOrder(t *testing.T) {
	src := New(context.Background(), "plan-a", &recorder{})
	dst := New(context.Background(), "plan-a", &recorder{})
	src.CancelDispatching()
	dst.CancelDispatching()

	old := tx(1, t0)
	tie := tx(3, t0.Add(time.Second))
	newer := tx(4, t0.Add(2*time.Second))
	for _, tr := range []ir.Transmission{newer, old, tie} {
		src.Receive(Item{T: tr})
	}

	moved := dst.MergeFrom(src, Watermark{Timestamp: t0.Add(time.Second), Seq: 2})

	assert.Equal(t, 2, moved, "tie (higher seq) and newer move; old stays")
	assert.Equal(t, []uint64{3, 4}, seqs(dst.queue.Drain()))
	assert.Equal(t, []uint64{1}, seqs(src.queue.Drain()))
}

func TestMergeFrom_DedupesByTransmissionID(t *testing.T) {
	src := New(context.Background(), "plan-a", &recorder{})
	dst := New(context.Background(), "plan-a", &recorder{})
	src.CancelDispatching()
	dst.CancelDispatching()

	b := tx(7, t0.Add(2*time.Second))
	c := tx(8, t0.Add(3*time.Second))
	already := tx(2, t0)
	already.ID = b.ID
	dst.Receive(Item{T: already})
	src.Receive(Item{T: b})
	src.Receive(Item{T: c})

	moved := dst.MergeFrom(src, Watermark{})

	assert.Equal(t, 1, moved)
	assert.Equal(t, []uint64{2, 8}, seqs(dst.queue.Drain()))
	assert.Equal(t, []uint64{7}, seqs(src.queue.Drain()))
}

func TestMergeFrom_NeverAtOrBeforeTargetOldest(t *testing.T) {
	src := New(context.Background(), "plan-a", &recorder{})
	dst := New(context.Background(), "plan-a", &recorder{})
	src.CancelDispatching()
	dst.CancelDispatching()

	dst.Receive(Item{T: tx(20, t0.Add(10*time.Second))})
	src.Receive(Item{T: tx(15, t0.Add(5*time.Second))})
	src.Receive(Item{T: tx(25, t0.Add(15*time.Second))})

	moved := dst.MergeFrom(src, Watermark{Timestamp: t0})

	assert.Equal(t, 1, moved)
	assert.Equal(t, []uint64{20, 25}, seqs(dst.queue.Drain()))
}

func TestMergeFrom_SameTimestampAsTargetOldestStays(t *testing.T) {
	src := New(context.Background(), "plan-a", &recorder{})
	dst := New(context.Background(), "plan-a", &recorder{})
	src.CancelDispatching()
	dst.CancelDispatching()

	at := t0.Add(10 * time.Second)
	dst.Receive(Item{T: tx(20, at)})
	src.Receive(Item{T: tx(21, at)})
	src.Receive(Item{T: tx(22, at.Add(time.Nanosecond))})

	moved := dst.MergeFrom(src, Watermark{Timestamp: t0})

	assert.Equal(t, 1, moved, "seq tie-break applies to the cutoff only")
	assert.Equal(t, []uint64{20, 22}, seqs(dst.queue.Drain()))
	assert.Equal(t, []uint64{21}, seqs(src.queue.Drain()))
}

func TestMergeFrom_StartsDeliveryWhenActive(t *testing.T) {
	src := New(context.Background(), "plan-a", &recorder{})
	src.CancelDispatching()
	src.Receive(Item{T: tx(1, t0.Add(time.Second))})

	rec := &recorder{}
	dst := New(context.Background(), "plan-a", rec)
	dst.MergeFrom(src, Watermark{Timestamp: t0})
	flushed(t, dst)

	assert.Equal(t, []uint64{1}, rec.Seen())
}
