package checksum

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/store"
)

func TestTracker_DeliveredFillsCacheAndJournal(t *testing.T) {
	j, err := store.OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	tr := NewTracker(NewCache(16), NewAudit(), j, store.SourceReplay, nil)
	id := uuid.New()
	item := dispatch.Item{T: ir.Transmission{ID: id, Seq: 12, Scope: "plan-a", Type: "plan.set"}}

	tr.Delivered(item, ir.Outcome{Scope: "plan-a", Success: true, Checksum: "d1"}, time.Millisecond)
	tr.Delivered(dispatch.Item{T: ir.Transmission{ID: uuid.New(), Seq: 13}}, ir.Outcome{Scope: "plan-a"}, 0)

	rec, ok := tr.Get("plan-a", id, "sess-1")
	require.True(t, ok)
	assert.Equal(t, uint64(12), rec.Seq)
	assert.Equal(t, "d1", rec.Digest)

	rows, err := j.Checksums(context.Background(), store.SourceReplay)
	require.NoError(t, err)
	require.Len(t, rows, 1, "failed deliveries are not journaled")
	assert.Equal(t, id, rows[0].TransmissionID)

	live, err := j.Checksums(context.Background(), store.SourceLive)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestTracker_Verify(t *testing.T) {
	tr := NewTracker(NewCache(16), NewAudit(), nil, store.SourceLive, nil)
	id := uuid.New()

	verified, w := tr.Verify("plan-a", id, "sess-1", "d1")
	assert.False(t, verified, "unknown checksum is never verified")
	assert.Nil(t, w)

	tr.Delivered(dispatch.Item{T: ir.Transmission{ID: id, Seq: 1}}, ir.Outcome{Scope: "plan-a", Success: true, Checksum: "d1"}, 0)

	verified, w = tr.Verify("plan-a", id, "sess-1", "d1")
	assert.True(t, verified)
	assert.Nil(t, w)

	verified, w = tr.Verify("plan-a", id, "sess-1", "other")
	assert.False(t, verified)
	require.NotNil(t, w)
	assert.Equal(t, KindMismatch, w.Kind)
}
