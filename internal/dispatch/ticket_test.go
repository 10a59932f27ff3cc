package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plancast/internal/ir"
)

func TestTicket_ResolvesAfterEveryPart(t *testing.T) {
	packet := ir.Transmission{
		Type:  ir.TypePacket,
		Parts: []ir.Transmission{{Type: "a", Scope: "x"}, {Type: "b", Scope: "y"}},
	}
	tk := NewTicket(packet)

	tk.resolve(ir.Outcome{Scope: "x", Success: true})
	select {
	case <-tk.Done():
		t.Fatal("ticket resolved with a part outstanding")
	default:
	}

	tk.resolve(ir.Outcome{Scope: "y", Success: true})
	require.NoError(t, tk.Wait(context.Background()))
	assert.Len(t, tk.Outcomes(), 2)
	assert.NoError(t, tk.Err())

	// Extra outcomes after resolution are ignored.
	tk.resolve(ir.Outcome{Scope: "z"})
	assert.Len(t, tk.Outcomes(), 2)
}

func TestTicket_ErrReportsFirstFailure(t *testing.T) {
	tk := NewTicket(ir.Transmission{Type: ir.TypePacket, Parts: []ir.Transmission{{Type: "a"}, {Type: "b"}}})
	boom := errors.New("boom")
	tk.resolve(ir.Outcome{Scope: "x", Success: true})
	tk.resolve(ir.Outcome{Scope: "y", Err: boom})

	assert.ErrorIs(t, tk.Err(), boom)
}

func TestTicket_FailureWithoutError(t *testing.T) {
	tk := NewTicket(ir.Transmission{Type: "a"})
	tk.resolve(ir.Outcome{Scope: "x"})
	assert.Error(t, tk.Err())
}

func TestDroppedTicket(t *testing.T) {
	tk := DroppedTicket(ir.Transmission{Type: "a"})
	assert.True(t, tk.Dropped())
	select {
	case <-tk.Done():
	default:
		t.Fatal("dropped ticket must be resolved")
	}
}

func TestTicket_WaitHonoursContext(t *testing.T) {
	tk := NewTicket(ir.Transmission{Type: "a"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tk.Wait(ctx), context.DeadlineExceeded)
}
