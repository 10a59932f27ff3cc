package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemQueue_FIFO(t *testing.T) {
	q := newItemQueue()
	for seq := uint64(1); seq <= 3; seq++ {
		q.Enqueue(Item{T: tx(seq, t0)})
	}

	for want := uint64(1); want <= 3; want++ {
		it, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, it.T.Seq)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestItemQueue_ExtractPreservesOrder(t *testing.T) {
	q := newItemQueue()
	for seq := uint64(1); seq <= 6; seq++ {
		q.Enqueue(Item{T: tx(seq, t0)})
	}

	taken := q.Extract(func(it Item) bool { return it.T.Seq%2 == 0 })

	require.Len(t, taken, 3)
	assert.Equal(t, []uint64{2, 4, 6}, seqs(taken))
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []uint64{1, 3, 5}, seqs(q.Drain()))
	assert.Equal(t, 0, q.Len())
}

func TestItemQueue_InsertOrdered(t *testing.T) {
	q := newItemQueue()
	q.Enqueue(Item{T: tx(2, t0)})
	q.Enqueue(Item{T: tx(5, t0)})

	n := q.InsertOrdered([]Item{{T: tx(4, t0)}, {T: tx(1, t0)}, {T: tx(9, t0)}})

	assert.Equal(t, 5, n)
	assert.Equal(t, []uint64{1, 2, 4, 5, 9}, seqs(q.Drain()))
}

func TestItemQueue_OldestAndIDs(t *testing.T) {
	q := newItemQueue()
	_, ok := q.Oldest()
	assert.False(t, ok)

	a, b := tx(1, t0), tx(2, t0)
	q.Enqueue(Item{T: a})
	q.Enqueue(Item{T: b})

	oldest, ok := q.Oldest()
	require.True(t, ok)
	assert.Equal(t, a.ID, oldest.T.ID)
	assert.Equal(t, 2, q.Len(), "Oldest must not dequeue")

	ids := q.IDs()
	assert.True(t, ids[a.ID])
	assert.True(t, ids[b.ID])
}

func seqs(items []Item) []uint64 {
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.T.Seq
	}
	return out
}
