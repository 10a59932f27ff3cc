package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_OpenRouteClose(t *testing.T) {
	h := NewHub(context.Background())

	_, err := h.Open("plan-b", &recorder{})
	require.NoError(t, err)
	_, err = h.Open("plan-a", &recorder{})
	require.NoError(t, err)
	_, err = h.Open("plan-a", &recorder{})
	assert.ErrorIs(t, err, ErrScopeExists)

	assert.Equal(t, []string{"plan-a", "plan-b"}, h.Scopes())
	d, ok := h.Route("plan-a")
	require.True(t, ok)
	assert.Equal(t, "plan-a", d.Scope())

	require.NoError(t, h.Close("plan-a"))
	_, ok = h.Route("plan-a")
	assert.False(t, ok)
	assert.ErrorIs(t, h.Close("plan-a"), ErrUnknownScope)
}

func TestHub_SwapMovesNewerAndSupersedesOlder(t *testing.T) {
	h := NewHub(context.Background())
	oldRec := &recorder{}
	d, err := h.Open("plan-a", oldRec)
	require.NoError(t, err)
	d.CancelDispatching()

	before, after := tx(1, t0), tx(2, t0.Add(time.Minute))
	tkBefore, tkAfter := NewTicket(before), NewTicket(after)
	d.Receive(Item{T: before, Ticket: tkBefore})
	d.Receive(Item{T: after, Ticket: tkAfter})

	newRec := &recorder{}
	next, err := h.Swap("plan-a", newRec, Watermark{Timestamp: t0.Add(time.Second)})
	require.NoError(t, err)
	flushed(t, next)

	assert.Empty(t, oldRec.Seen())
	assert.Equal(t, []uint64{2}, newRec.Seen())
	assert.ErrorIs(t, tkBefore.Err(), ErrSuperseded)
	assert.NoError(t, tkAfter.Err())

	routed, _ := h.Route("plan-a")
	assert.Same(t, next, routed)
}

func TestHub_SwapUnknownScope(t *testing.T) {
	h := NewHub(context.Background())
	_, err := h.Swap("nope", &recorder{}, Watermark{})
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestHub_FlushAll(t *testing.T) {
	h := NewHub(context.Background())
	recA, recB := &recorder{}, &recorder{}
	a, _ := h.Open("plan-a", recA)
	b, _ := h.Open("plan-b", recB)
	for seq := uint64(1); seq <= 10; seq++ {
		a.Receive(Item{T: tx(seq, t0)})
		b.Receive(Item{T: tx(seq, t0)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.FlushAll(ctx))

	assert.Len(t, recA.Seen(), 10)
	assert.Len(t, recB.Seen(), 10)
}

func TestHub_CloseResolvesQueuedTickets(t *testing.T) {
	h := NewHub(context.Background())
	d, _ := h.Open("plan-a", &recorder{})
	d.CancelDispatching()
	tr := tx(1, t0)
	tk := NewTicket(tr)
	d.Receive(Item{T: tr, Ticket: tk})

	require.NoError(t, h.Close("plan-a"))
	require.NoError(t, tk.Wait(context.Background()))
	assert.ErrorIs(t, tk.Err(), ErrSuperseded)
}
