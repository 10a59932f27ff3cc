package checksum

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestAudit(t *testing.T) (*Audit, *fakeClock, *bytes.Buffer, *[]string) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	var buf bytes.Buffer
	var kinds []string
	a := NewAudit(
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithDesyncHook(func(kind string) { kinds = append(kinds, kind) }),
	)
	return a, clock, &buf, &kinds
}

func TestAudit_RequestBeforeProductionWarns(t *testing.T) {
	a, clock, buf, kinds := newTestAudit(t)
	id := uuid.New()

	a.LogMissingChecksum("plan-a", id, "sess-1")
	a.LogMissingChecksum("plan-a", id, "sess-2") // first request wins
	clock.Advance(40 * time.Millisecond)
	a.Produced("plan-a", id)

	assert.Equal(t, []string{KindRequestedEarly}, *kinds)
	assert.Contains(t, buf.String(), "session=sess-1")

	req, prod := a.Pending()
	assert.Zero(t, req)
	assert.Zero(t, prod)
}

func TestAudit_RequestAfterProductionIsQuiet(t *testing.T) {
	a, clock, buf, kinds := newTestAudit(t)
	id := uuid.New()

	a.Produced("plan-a", id)
	clock.Advance(time.Second)
	a.CheckRequestedChecksum("plan-a", id, "sess-1")

	assert.Empty(t, *kinds)
	assert.NotContains(t, buf.String(), "desync warning")
	_, prod := a.Pending()
	assert.Zero(t, prod)
}

func TestAudit_CompareMismatch(t *testing.T) {
	a, _, _, kinds := newTestAudit(t)
	id := uuid.New()

	assert.Nil(t, a.Compare("plan-a", id, "sess-1", "abc", "abc"))

	w := a.Compare("plan-a", id, "sess-1", "abc", "xyz")
	require.NotNil(t, w)
	assert.Equal(t, KindMismatch, w.Kind)
	assert.Contains(t, w.Error(), "DESYNC")
	assert.Contains(t, w.Error(), "xyz")
	assert.Equal(t, []string{KindMismatch}, *kinds)
}

func TestAudit_ExpireReportsNeverProduced(t *testing.T) {
	a, clock, _, kinds := newTestAudit(t)

	a.LogMissingChecksum("plan-a", uuid.New(), "sess-1")
	a.Produced("plan-b", uuid.New())
	clock.Advance(time.Minute)
	fresh := uuid.New()
	a.LogMissingChecksum("plan-a", fresh, "sess-1")

	dropped := a.Expire(30 * time.Second)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, []string{KindNeverProduced}, *kinds)

	req, prod := a.Pending()
	assert.Equal(t, 1, req)
	assert.Zero(t, prod)
}
