package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/plancast/internal/ir"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func tx(seq uint64, ts time.Time) ir.Transmission {
	return ir.Transmission{ID: uuid.New(), Seq: seq, Timestamp: ts, Type: "plan.set", Scope: "plan-a"}
}

// recorder is a Consumer that records delivery order and concurrency.
type recorder struct {
	mu        sync.Mutex
	seen      []uint64
	active    atomic.Int32
	maxActive atomic.Int32
	gate      chan struct{} // when set, each delivery waits for one receive
	fail      map[uint64]bool
}

func (r *recorder) Deliver(ctx context.Context, t ir.Transmission) <-chan ir.Outcome {
	ch := make(chan ir.Outcome, 1)
	n := r.active.Add(1)
	for {
		m := r.maxActive.Load()
		if n <= m || r.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	go func() {
		if r.gate != nil {
			<-r.gate
		}
		r.mu.Lock()
		r.seen = append(r.seen, t.Seq)
		failed := r.fail[t.Seq]
		r.mu.Unlock()
		r.active.Add(-1)
		if failed {
			ch <- ir.Outcome{Err: fmt.Errorf("apply %d failed", t.Seq)}
			return
		}
		ch <- ir.Outcome{Success: true, Checksum: fmt.Sprintf("sum-%d", t.Seq)}
	}()
	return ch
}

func (r *recorder) Seen() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.seen))
	copy(out, r.seen)
	return out
}

type recordingObserver struct {
	mu        sync.Mutex
	delivered []ir.Outcome
	resolved  []bool // whether the ticket was already done when observed
	depths    []int
}

func (o *recordingObserver) Delivered(it Item, out ir.Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered = append(o.delivered, out)
	done := false
	if it.Ticket != nil {
		select {
		case <-it.Ticket.Done():
			done = true
		default:
		}
	}
	o.resolved = append(o.resolved, done)
}

func (o *recordingObserver) QueueDepth(_ string, depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depths = append(o.depths, depth)
}

func flushed(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
}
