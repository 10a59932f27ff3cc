package playback

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/planmodel"
	"github.com/roach88/plancast/internal/session"
	"github.com/roach88/plancast/internal/store"
)

const scope = "plan-a"

// rig is a complete broadcast path over a fresh model.
type rig struct {
	codec *codec.Registry
	model *planmodel.Model
	hub   *dispatch.Hub
	reg   *session.Registry
}

func newRig(t *testing.T, rec session.Recorder) *rig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cr := codec.NewDefaultRegistry()
	require.NoError(t, planmodel.Register(cr))
	model := planmodel.New(nil)
	hub := dispatch.NewHub(ctx)
	for _, s := range []string{ir.SystemScope, scope} {
		_, err := hub.Open(s, model.Consumer(s))
		require.NoError(t, err)
	}
	reg := session.New(session.Deps{Codec: cr, Hub: hub, Recorder: rec},
		session.WithCapabilities(session.KindUser, planmodel.CapPlanWrite, codec.CapScenarioEdit))
	return &rig{codec: cr, model: model, hub: hub, reg: reg}
}

func (r *rig) submit(t *testing.T, tok string, tag ir.TypeTag, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	ticket, err := r.reg.SubmitTransmission(context.Background(), tok,
		ir.Transmission{Type: tag, Scope: scope, Payload: data})
	require.NoError(t, err)
	require.NoError(t, ticket.Wait(context.Background()))
}

func (r *rig) checksums(t *testing.T) (string, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.hub.FlushAll(ctx))
	sys, err := r.model.Checksum(ir.SystemScope)
	require.NoError(t, err)
	plan, err := r.model.Checksum(scope)
	require.NoError(t, err)
	return sys, plan
}

// record runs a live session against a store and returns the store and the
// live rig.
func record(t *testing.T) (*store.Store, *rig) {
	t.Helper()
	cr := codec.NewDefaultRegistry()
	require.NoError(t, planmodel.Register(cr))
	st, err := store.Open(t.TempDir(), cr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.StartRecording(1, RunModeNormal)
	require.NoError(t, err)

	live := newRig(t, st)
	tok, err := live.reg.Login(context.Background(), "ana", session.KindUser, 0)
	require.NoError(t, err)
	live.submit(t, tok, planmodel.TypePlanSet, planmodel.SetPayload{Key: "a", Value: "1"})
	live.submit(t, tok, planmodel.TypePlanSet, planmodel.SetPayload{Key: "b", Value: "2"})
	live.submit(t, tok, planmodel.TypePlanDelete, planmodel.DeletePayload{Key: "missing"})
	_, err = live.reg.Login(context.Background(), "ben", session.KindUser, 0)
	require.NoError(t, err)
	live.submit(t, tok, ir.TypeUndo, nil)
	return st, live
}

func recordings(t *testing.T, st *store.Store) []store.Recording {
	t.Helper()
	recs, err := st.RecordingsAfter(0)
	require.NoError(t, err)
	return recs
}

func TestPlayFullReproducesLiveState(t *testing.T) {
	st, live := record(t)
	wantSys, wantPlan := live.checksums(t)

	replay := newRig(t, nil)
	var ended []Progress
	d := New(replay.reg, st, recordings(t, st), WithOnEnd(func(p Progress) { ended = append(ended, p) }))

	p, err := d.PlayFull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, p.Total)
	assert.Equal(t, 5, p.Played)
	assert.Equal(t, 1, p.Failed, "the delete of a missing key fails again")
	assert.Equal(t, live.reg.LastSeq(), p.LastSeq)
	assert.Equal(t, live.reg.LastSeq(), replay.reg.LastSeq())
	assert.True(t, d.Ended())
	assert.Equal(t, StateIdle, d.State())
	require.Len(t, ended, 1)

	gotSys, gotPlan := replay.checksums(t)
	assert.Equal(t, wantSys, gotSys)
	assert.Equal(t, wantPlan, gotPlan)
	assert.Equal(t, map[string]string{"a": "1"}, replay.model.Entries(scope))

	_, err = d.PlayFull(context.Background())
	require.NoError(t, err)
	assert.Len(t, ended, 1, "end fires once")
}

func TestPlaySingleAdvancesOneRecording(t *testing.T) {
	st, _ := record(t)
	replay := newRig(t, nil)
	d := New(replay.reg, st, recordings(t, st))

	p, err := d.PlaySingle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Position)
	assert.Equal(t, uint64(1), replay.reg.LastSeq())

	p, err = d.PlaySingle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Position)
	assert.Equal(t, map[string]string{"a": "1"}, replay.model.Entries(scope))
	assert.False(t, d.Ended())
}

func TestPlayUntilLoginStopsBeforeLogin(t *testing.T) {
	st, _ := record(t)
	replay := newRig(t, nil)
	d := New(replay.reg, st, recordings(t, st))

	// The first recording is a login, so nothing is played.
	p, err := d.PlayUntilLogin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, p.Position)

	_, err = d.PlaySingle(context.Background())
	require.NoError(t, err)

	p, err = d.PlayUntilLogin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, p.Position, "stopped at ben's login")
	assert.Equal(t, map[string]int{"ana": 1}, replay.model.Users())
}

func TestSkipNextDropsRecordingOfType(t *testing.T) {
	st, _ := record(t)
	replay := newRig(t, nil)
	var results []string
	d := New(replay.reg, st, recordings(t, st), WithObserver(func(r string) { results = append(results, r) }))
	d.SkipNext(ir.TypeLogin)
	d.SkipNext(ir.TypeLogin)

	p, err := d.PlayUntilLogin(context.Background())
	require.NoError(t, err)

	assert.True(t, d.Ended(), "both logins skipped, nothing to stop at")
	assert.Equal(t, 2, p.Skipped)
	assert.Empty(t, replay.model.Users())
	assert.Equal(t, []string{
		ResultSkipped, ResultPlayed, ResultPlayed, ResultFailed, ResultSkipped, ResultPlayed,
	}, results)
}

func TestUnreadableRecordingIsSkippedAsFailure(t *testing.T) {
	st, _ := record(t)
	recs := recordings(t, st)
	recs = append(recs[:1:1], append([]store.Recording{{
		Seq:  2,
		Type: planmodel.TypePlanSet,
		Path: filepath.Join(t.TempDir(), "missing.bin"),
	}}, recs[1:]...)...)

	replay := newRig(t, nil)
	d := New(replay.reg, st, recs)
	p, err := d.PlayFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Failed)
	assert.Equal(t, 5, p.Played)
}

type snapshots struct {
	mu      sync.Mutex
	reasons []string
}

func (s *snapshots) ScheduleSnapshot(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

func TestEndSchedulesSnapshotInNormalMode(t *testing.T) {
	tests := []struct {
		mode string
		want []string
	}{
		{RunModeNormal, []string{"playback_end"}},
		{RunModePlayback, nil},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			st, _ := record(t)
			snap := &snapshots{}
			d := New(newRig(t, nil).reg, st, recordings(t, st), WithRunMode(tt.mode), WithSnapshotter(snap))
			_, err := d.PlayFull(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, snap.reasons)
		})
	}
}

// blockingSubmitter never resolves its tickets.
type blockingSubmitter struct{}

func (blockingSubmitter) SubmitRecorded(_ context.Context, t ir.Transmission) (*dispatch.Ticket, error) {
	return dispatch.NewTicket(t), nil
}

func TestPlayWaitsForCompletion(t *testing.T) {
	st, _ := record(t)
	d := New(blockingSubmitter{}, st, recordings(t, st))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p, err := d.PlayFull(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, p.Position, "the first recording never completed")
	assert.Equal(t, StateIdle, d.State())
}

func TestConcurrentPlayIsRejected(t *testing.T) {
	st, _ := record(t)
	d := New(blockingSubmitter{}, st, recordings(t, st))

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = d.PlayFull(ctx)
	}()
	<-started
	require.Eventually(t, func() bool { return d.State() == StatePlayingFull }, time.Second, time.Millisecond)

	_, err := d.PlaySingle(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	cancel()
	<-done
}
