package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/plancast/internal/ir"
)

// Consumer is the domain handler of a scope. Deliver must not block until
// the transmission is applied; it returns a channel that yields exactly one
// Outcome once it is.
type Consumer interface {
	Deliver(ctx context.Context, t ir.Transmission) <-chan ir.Outcome
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, t ir.Transmission) <-chan ir.Outcome

// Deliver calls f.
func (f ConsumerFunc) Deliver(ctx context.Context, t ir.Transmission) <-chan ir.Outcome {
	return f(ctx, t)
}

// Observer is notified about deliveries. Delivered runs on the delivering
// goroutine before the item's ticket resolves.
type Observer interface {
	Delivered(item Item, o ir.Outcome, elapsed time.Duration)
	QueueDepth(scope string, depth int)
}

// Watermark is a (timestamp, sequence) position in the global order.
type Watermark struct {
	Timestamp time.Time
	Seq       uint64
}

// WatermarkOf returns the position of t.
func WatermarkOf(t ir.Transmission) Watermark {
	return Watermark{Timestamp: t.Timestamp, Seq: t.Seq}
}

// Precedes reports whether t is strictly newer than w. Equal timestamps
// are ordered by sequence number.
func (w Watermark) Precedes(t ir.Transmission) bool {
	if t.Timestamp.After(w.Timestamp) {
		return true
	}
	return t.Timestamp.Equal(w.Timestamp) && t.Seq > w.Seq
}

// Dispatcher delivers the queued transmissions of one scope in FIFO order.
//
// Lock order: deliverMu (scope-level, held for exactly one delivery) is never
// acquired while mu is held. The queue has its own lock.
type Dispatcher struct {
	scope     string
	consumer  Consumer
	queue     *itemQueue
	deliverMu *sync.Mutex
	ctx       context.Context
	logger    *slog.Logger
	observers []Observer

	mu         sync.Mutex
	running    bool // a worker goroutine exists
	stopped    bool // CancelDispatching in effect
	delivering bool
	changed    chan struct{} // closed and replaced on every state change
}

func newDispatcher(ctx context.Context, scope string, c Consumer, deliverMu *sync.Mutex, logger *slog.Logger, observers []Observer) *Dispatcher {
	if deliverMu == nil {
		deliverMu = &sync.Mutex{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		scope:     scope,
		consumer:  c,
		queue:     newItemQueue(),
		deliverMu: deliverMu,
		ctx:       ctx,
		logger:    logger.With("scope_id", scope),
		observers: observers,
		changed:   make(chan struct{}),
	}
}

// New returns a standalone dispatcher for scope. Deliveries run under ctx.
func New(ctx context.Context, scope string, c Consumer, observers ...Observer) *Dispatcher {
	return newDispatcher(ctx, scope, c, nil, nil, observers)
}

// Scope returns the scope id.
func (d *Dispatcher) Scope() string { return d.scope }

// Len returns the number of queued, not yet delivered items.
func (d *Dispatcher) Len() int { return d.queue.Len() }

// Receive enqueues an item and starts a worker if none is running and
// dispatching is not cancelled. It never waits for a delivery.
func (d *Dispatcher) Receive(it Item) {
	depth := d.queue.Enqueue(it)
	d.reportDepth(depth)
	d.kick()
}

// Busy reports whether the scope has queued items or a delivery in flight.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running || d.delivering || d.queue.Len() > 0
}

// DeliverNow delivers it synchronously on the caller's goroutine, bypassing
// the queue. It still waits for an in-flight queued delivery to finish so
// the scope never sees two deliveries at once.
func (d *Dispatcher) DeliverNow(it Item) ir.Outcome {
	return d.deliver(it)
}

// CancelDispatching stops the worker after its current delivery. Queued
// items are retained.
func (d *Dispatcher) CancelDispatching() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.notifyLocked()
}

// StartDispatching resumes delivery of retained items.
func (d *Dispatcher) StartDispatching() {
	d.mu.Lock()
	d.stopped = false
	d.notifyLocked()
	d.mu.Unlock()
	d.kick()
}

// Flush blocks until the queue is empty and no worker is active, or ctx is
// done. A cancelled dispatcher with queued items only flushes once
// dispatching is restarted.
func (d *Dispatcher) Flush(ctx context.Context) error {
	for {
		d.mu.Lock()
		idle := !d.running && !d.delivering && d.queue.Len() == 0
		changed := d.changed
		d.mu.Unlock()

		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// MergeFrom moves the items of other that are newer than wm and strictly
// later than this dispatcher's oldest queued timestamp into this queue, skipping transmission ids
// already queued here. Merged items are placed in sequence order. Returns
// the number of items moved.
func (d *Dispatcher) MergeFrom(other *Dispatcher, wm Watermark) int {
	// Nothing at or before the oldest timestamp already queued here may
	// enter, whatever its seq.
	oldest, hasOldest := d.queue.Oldest()

	present := d.queue.IDs()
	moved := other.queue.Extract(func(it Item) bool {
		if !wm.Precedes(it.T) || present[it.T.ID] {
			return false
		}
		if hasOldest && !it.T.Timestamp.After(oldest.T.Timestamp) {
			return false
		}
		present[it.T.ID] = true
		return true
	})
	other.reportDepth(other.queue.Len())

	depth := d.queue.InsertOrdered(moved)
	d.reportDepth(depth)
	if len(moved) > 0 {
		d.logger.Info("merged queued transmissions", "moved", len(moved), "cutoff_seq", wm.Seq)
	}
	d.kick()
	return len(moved)
}

// abandon drains the queue and resolves every ticket with err.
func (d *Dispatcher) abandon(err error) int {
	items := d.queue.Drain()
	for _, it := range items {
		it.Ticket.resolve(ir.Outcome{Scope: d.scope, Err: err})
	}
	d.reportDepth(0)
	d.mu.Lock()
	d.notifyLocked()
	d.mu.Unlock()
	return len(items)
}

func (d *Dispatcher) kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopped || d.queue.Len() == 0 {
		return
	}
	d.running = true
	d.notifyLocked()
	go d.work()
}

func (d *Dispatcher) work() {
	for {
		d.mu.Lock()
		if d.stopped {
			d.running = false
			d.notifyLocked()
			d.mu.Unlock()
			return
		}
		it, ok := d.queue.TryDequeue()
		if !ok {
			d.running = false
			d.notifyLocked()
			d.mu.Unlock()
			return
		}
		d.delivering = true
		d.mu.Unlock()

		d.reportDepth(d.queue.Len())
		d.deliver(it)

		d.mu.Lock()
		d.delivering = false
		d.notifyLocked()
		d.mu.Unlock()
	}
}

func (d *Dispatcher) deliver(it Item) ir.Outcome {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	if d.consumer == nil {
		panic(&ConfigurationError{Scope: d.scope, Type: it.T.Type, Seq: it.T.Seq})
	}

	start := time.Now()
	var o ir.Outcome
	select {
	case got, ok := <-d.consumer.Deliver(d.ctx, it.T):
		if ok {
			o = got
		} else {
			o = ir.Outcome{Err: ErrNoOutcome}
		}
	case <-d.ctx.Done():
		o = ir.Outcome{Err: d.ctx.Err()}
	}
	o.Scope = d.scope
	elapsed := time.Since(start)

	if !o.Success {
		d.logger.Warn("delivery failed",
			"seq", it.T.Seq,
			"transmission_id", it.T.ID,
			"type", it.T.Type,
			"error", o.Err,
		)
	}
	for _, obs := range d.observers {
		obs.Delivered(it, o, elapsed)
	}
	it.Ticket.resolve(o)
	return o
}

func (d *Dispatcher) reportDepth(depth int) {
	for _, obs := range d.observers {
		obs.QueueDepth(d.scope, depth)
	}
}

func (d *Dispatcher) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}
