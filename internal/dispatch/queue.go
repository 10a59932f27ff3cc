package dispatch

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/plancast/internal/ir"
)

// Item is one queued delivery.
type Item struct {
	T      ir.Transmission
	Ticket *Ticket
}

// itemQueue is a thread-safe FIFO of deliveries.
//
// The queue is unbounded so a submitter never blocks behind a slow scope.
// Its lock is independent of the dispatcher's delivery lock.
type itemQueue struct {
	mu    sync.Mutex
	items []Item
}

func newItemQueue() *itemQueue {
	return &itemQueue{items: make([]Item, 0, 64)}
}

// Enqueue adds an item to the back of the queue and returns the new length.
func (q *itemQueue) Enqueue(it Item) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, it)
	return len(q.items)
}

// TryDequeue removes and returns the front item.
func (q *itemQueue) TryDequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Item{}, false
	}
	it := q.items[0]

	// Nil out the slot so the backing array does not pin payloads.
	q.items[0] = Item{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return it, true
}

// Len returns the current queue length.
func (q *itemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Oldest returns the front item without removing it.
func (q *itemQueue) Oldest() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// IDs returns the transmission ids currently queued.
func (q *itemQueue) IDs() map[uuid.UUID]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make(map[uuid.UUID]bool, len(q.items))
	for _, it := range q.items {
		ids[it.T.ID] = true
	}
	return ids
}

// Extract removes and returns the items matching keep, preserving order.
func (q *itemQueue) Extract(keep func(Item) bool) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var taken []Item
	rest := q.items[:0]
	for _, it := range q.items {
		if keep(it) {
			taken = append(taken, it)
		} else {
			rest = append(rest, it)
		}
	}
	for i := len(rest); i < len(q.items); i++ {
		q.items[i] = Item{}
	}
	q.items = rest
	return taken
}

// Drain removes and returns every item.
func (q *itemQueue) Drain() []Item {
	return q.Extract(func(Item) bool { return true })
}

// InsertOrdered merges items into the queue keeping ascending sequence order.
// The existing queue is assumed sorted, which holds because the sequencer
// enqueues in sequence order.
func (q *itemQueue) InsertOrdered(items []Item) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(items) == 0 {
		return len(q.items)
	}
	q.items = append(q.items, items...)
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].T.Seq < q.items[j].T.Seq
	})
	return len(q.items)
}
