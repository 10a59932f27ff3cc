package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/plancast/internal/ir"
)

// Ticket tracks one accepted transmission until every scope it was
// delivered to has reported an outcome.
// Thread-safety: safe for concurrent use.
type Ticket struct {
	ID  uuid.UUID
	Seq uint64

	mu       sync.Mutex
	pending  int
	outcomes []ir.Outcome
	dropped  bool
	done     chan struct{}
}

// NewTicket returns a ticket expecting one outcome per deliverable unit of t.
func NewTicket(t ir.Transmission) *Ticket {
	tk := &Ticket{
		ID:      t.ID,
		Seq:     t.Seq,
		pending: len(t.Flatten()),
		done:    make(chan struct{}),
	}
	if tk.pending == 0 {
		close(tk.done)
	}
	return tk
}

// DroppedTicket returns an already-resolved ticket for a transmission that
// was silently discarded (read-only gate).
func DroppedTicket(t ir.Transmission) *Ticket {
	tk := &Ticket{ID: t.ID, Seq: t.Seq, dropped: true, done: make(chan struct{})}
	close(tk.done)
	return tk
}

// Done returns a channel closed once all outcomes are in.
func (tk *Ticket) Done() <-chan struct{} {
	return tk.done
}

// Wait blocks until the ticket resolves or ctx is done.
func (tk *Ticket) Wait(ctx context.Context) error {
	select {
	case <-tk.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports whether the transmission was discarded without delivery.
func (tk *Ticket) Dropped() bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.dropped
}

// Outcomes returns the outcomes received so far, in delivery order.
func (tk *Ticket) Outcomes() []ir.Outcome {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	out := make([]ir.Outcome, len(tk.outcomes))
	copy(out, tk.outcomes)
	return out
}

// Err returns the first failed outcome as an error, or nil.
func (tk *Ticket) Err() error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	for _, o := range tk.outcomes {
		if o.Success {
			continue
		}
		if o.Err != nil {
			return fmt.Errorf("scope %q: %w", o.Scope, o.Err)
		}
		return fmt.Errorf("scope %q: apply reported failure", o.Scope)
	}
	return nil
}

func (tk *Ticket) resolve(o ir.Outcome) {
	if tk == nil {
		return
	}
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.pending == 0 {
		return
	}
	tk.outcomes = append(tk.outcomes, o)
	tk.pending--
	if tk.pending == 0 {
		close(tk.done)
	}
}
