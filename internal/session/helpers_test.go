package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plancast/internal/checksum"
	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/store"
	"github.com/roach88/plancast/internal/testutil"
)

const (
	tagPlanSet ir.TypeTag = "plan.set"
	capWrite              = "plan.write"
)

// consumer applies nothing and reports a checksum derived from the seq.
type consumer struct {
	mu   sync.Mutex
	seen []uint64
	gate chan struct{} // outcomes wait for it when non-nil
}

func (c *consumer) Deliver(_ context.Context, t ir.Transmission) <-chan ir.Outcome {
	c.mu.Lock()
	c.seen = append(c.seen, t.Seq)
	gate := c.gate
	c.mu.Unlock()
	ch := make(chan ir.Outcome, 1)
	o := ir.Outcome{Success: true, Checksum: fmt.Sprintf("sum-%d", t.Seq)}
	if gate == nil {
		ch <- o
		return ch
	}
	go func() {
		<-gate
		ch <- o
	}()
	return ch
}

// hold makes every later delivery wait until the returned channel is closed.
func (c *consumer) hold() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
	return c.gate
}

func (c *consumer) Seen() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seen...)
}

type fakeRecorder struct {
	mu   sync.Mutex
	seqs []uint64
}

func (f *fakeRecorder) Append(_ context.Context, t ir.Transmission) (store.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seqs = append(f.seqs, t.Seq)
	return store.Recording{Seq: t.Seq, Type: t.Type}, nil
}

func (f *fakeRecorder) Seqs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.seqs...)
}

type fixture struct {
	reg      *Registry
	codec    *codec.Registry
	hub      *dispatch.Hub
	clock    *testutil.FakeClock
	recorder *fakeRecorder
	tracker  *checksum.Tracker
	scopes   map[string]*consumer
}

func newFixture(t *testing.T, scopes ...string) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cr := codec.NewDefaultRegistry()
	require.NoError(t, cr.Register(codec.TypeInfo{UniqueID: 100, Tag: tagPlanSet, Requires: []string{capWrite}, Recordable: true}))

	f := &fixture{
		codec:    cr,
		clock:    testutil.NewFakeClock(testutil.Epoch),
		recorder: &fakeRecorder{},
		scopes:   map[string]*consumer{},
	}
	f.tracker = checksum.NewTracker(checksum.NewCache(64), checksum.NewAudit(), nil, store.SourceLive, nil)
	f.hub = dispatch.NewHub(ctx, dispatch.WithObservers(f.tracker))
	for _, scope := range append([]string{ir.SystemScope}, scopes...) {
		c := &consumer{}
		f.scopes[scope] = c
		_, err := f.hub.Open(scope, c)
		require.NoError(t, err)
	}

	n := 0
	f.reg = New(Deps{
		Codec:     cr,
		Hub:       f.hub,
		Recorder:  f.recorder,
		Checksums: f.tracker,
	},
		WithClock(f.clock.Now),
		WithTokens(func() (string, error) { n++; return fmt.Sprintf("tok-%d", n), nil }),
		WithCapabilities(KindUser, capWrite, codec.CapScenarioEdit),
		WithCapabilities(KindAppUser, capWrite),
	)
	return f
}

func (f *fixture) login(t *testing.T, user string, kind Kind) string {
	t.Helper()
	tok, err := f.reg.Login(context.Background(), user, kind, 0)
	require.NoError(t, err)
	return tok
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.hub.FlushAll(ctx))
}

func planSet(scope, payload string) ir.Transmission {
	return ir.Transmission{Type: tagPlanSet, Scope: scope, Payload: []byte(payload)}
}

// drain acknowledges every pending mailbox entry of tok and returns them decoded.
func drain(t *testing.T, f *fixture, tok string) []ir.Transmission {
	t.Helper()
	var (
		out []ir.Transmission
		ack uuid.UUID
	)
	for {
		d, ok, err := f.reg.Poll(tok, ack)
		require.NoError(t, err)
		if !ok {
			return out
		}
		tr, err := f.codec.Decode(d.Data)
		require.NoError(t, err)
		out = append(out, tr)
		ack = d.ID
	}
}
