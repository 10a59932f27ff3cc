// Package playback re-submits recorded transmissions in their original order.
//
// The Driver submits one recording, waits until every scope it touched has
// finished applying it (including checksum computation), and only then
// submits the next one. Advancing on completion, not on submission, is what
// makes a replay reproduce the intermediate states of the live run.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/events"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/store"
)

// Run modes of the server that recorded or is replaying a log.
const (
	RunModeNormal   = "normal"
	RunModePlayback = "playback"
)

// State is the driver state.
type State string

const (
	StateIdle              State = "idle"
	StatePlayingFull       State = "playing_full"
	StatePlayingSingle     State = "playing_single"
	StatePlayingUntilLogin State = "playing_until_login"
)

// Results reported to the observer.
const (
	ResultPlayed  = "played"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// ErrBusy is returned when a play call starts while another is running.
var ErrBusy = errors.New("playback already running")

// Submitter accepts recorded transmissions into the live broadcast path.
type Submitter interface {
	SubmitRecorded(ctx context.Context, t ir.Transmission) (*dispatch.Ticket, error)
}

// Source reads recorded transmissions.
type Source interface {
	ReadRecording(path string) (ir.Transmission, error)
}

// Snapshotter writes a full-state snapshot in the background.
type Snapshotter interface {
	ScheduleSnapshot(reason string)
}

// ReplayApplicationError reports a recording that could not be re-applied.
// It is logged and playback continues with the next recording.
type ReplayApplicationError struct {
	Seq  uint64
	Type ir.TypeTag
	Path string
	Err  error
}

func (e *ReplayApplicationError) Error() string {
	return fmt.Sprintf("REPLAY: recording %d (%s) at %s: %v", e.Seq, e.Type, e.Path, e.Err)
}

func (e *ReplayApplicationError) Unwrap() error { return e.Err }

// Progress is the position of the driver in its log.
type Progress struct {
	Position int    `json:"position"`
	Total    int    `json:"total"`
	Played   int    `json:"played"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	LastSeq  uint64 `json:"last_seq"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithRunMode sets the run mode the server is in. In RunModeNormal the
// driver schedules a snapshot once the log is exhausted.
func WithRunMode(mode string) Option {
	return func(d *Driver) { d.runMode = mode }
}

// WithSnapshotter sets the snapshot scheduler used at the end of the log.
func WithSnapshotter(s Snapshotter) Option {
	return func(d *Driver) { d.snapshots = s }
}

// WithEvents sets the publisher of the end-of-transmissions event.
func WithEvents(p events.Publisher) Option {
	return func(d *Driver) { d.events = p }
}

// WithOnEnd registers a callback fired once when the log is exhausted.
// Callbacks run in registration order.
func WithOnEnd(fn func(Progress)) Option {
	return func(d *Driver) { d.onEnd = append(d.onEnd, fn) }
}

// WithObserver registers a callback invoked with the result of every recording.
func WithObserver(fn func(result string)) Option {
	return func(d *Driver) { d.observe = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// Driver plays a fixed list of recordings.
// Thread-safety: safe for concurrent use; play calls are serialized.
type Driver struct {
	submitter  Submitter
	source     Source
	recordings []store.Recording

	runMode   string
	snapshots Snapshotter
	events    events.Publisher
	onEnd     []func(Progress)
	observe   func(string)
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	progress Progress
	skip     map[ir.TypeTag]int
	ended    bool
}

// New returns an idle driver over recordings, which must be sorted by seq.
func New(submitter Submitter, source Source, recordings []store.Recording, opts ...Option) *Driver {
	d := &Driver{
		submitter:  submitter,
		source:     source,
		recordings: recordings,
		runMode:    RunModePlayback,
		events:     &events.NoopPublisher{},
		logger:     slog.Default(),
		state:      StateIdle,
		skip:       make(map[ir.TypeTag]int),
	}
	d.progress.Total = len(recordings)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Progress returns the current progress.
func (d *Driver) Progress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

// Ended reports whether every recording has been consumed.
func (d *Driver) Ended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ended
}

// SkipNext drops the next recording of type tag without halting playback.
// Calls accumulate.
func (d *Driver) SkipNext(tag ir.TypeTag) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.skip[tag]++
}

// PlayFull plays every remaining recording.
func (d *Driver) PlayFull(ctx context.Context) (Progress, error) {
	return d.play(ctx, StatePlayingFull)
}

// PlaySingle plays exactly one recording and returns.
func (d *Driver) PlaySingle(ctx context.Context) (Progress, error) {
	return d.play(ctx, StatePlayingSingle)
}

// PlayUntilLogin plays every recording up to, not including, the next login.
func (d *Driver) PlayUntilLogin(ctx context.Context) (Progress, error) {
	return d.play(ctx, StatePlayingUntilLogin)
}

func (d *Driver) play(ctx context.Context, state State) (Progress, error) {
	d.mu.Lock()
	if d.state != StateIdle {
		d.mu.Unlock()
		return Progress{}, ErrBusy
	}
	d.state = state
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.state = StateIdle
		d.mu.Unlock()
	}()

	d.logger.Debug("playback started", "state", state, "position", d.Progress().Position)
	for {
		if err := ctx.Err(); err != nil {
			return d.Progress(), err
		}
		consumed, stop, err := d.step(ctx, state)
		if err != nil {
			return d.Progress(), err
		}
		if stop || (state == StatePlayingSingle && consumed) {
			return d.Progress(), nil
		}
	}
}

// step handles the recording at the current position. consumed reports
// whether a recording was played or skipped; stop ends the current play call.
func (d *Driver) step(ctx context.Context, state State) (consumed, stop bool, err error) {
	d.mu.Lock()
	pos := d.progress.Position
	d.mu.Unlock()

	if pos >= len(d.recordings) {
		d.end()
		return false, true, nil
	}
	rec := d.recordings[pos]

	t, err := d.source.ReadRecording(rec.Path)
	if err != nil {
		d.fail(&ReplayApplicationError{Seq: rec.Seq, Type: rec.Type, Path: rec.Path, Err: err}, rec.Seq)
		return true, false, nil
	}

	d.mu.Lock()
	if d.skip[t.Type] > 0 {
		d.skip[t.Type]--
		d.progress.Position++
		d.progress.Skipped++
		d.mu.Unlock()
		d.logger.Info("recording skipped", "seq", t.Seq, "type", t.Type)
		d.report(ResultSkipped)
		return true, false, nil
	}
	d.mu.Unlock()

	if state == StatePlayingUntilLogin && t.Type == ir.TypeLogin {
		d.logger.Info("playback paused before login", "seq", t.Seq)
		return false, true, nil
	}

	ticket, err := d.submitter.SubmitRecorded(ctx, t)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, true, ctxErr
		}
		d.fail(&ReplayApplicationError{Seq: t.Seq, Type: t.Type, Path: rec.Path, Err: err}, t.LastSeq())
		return true, false, nil
	}

	select {
	case <-ticket.Done():
	case <-ctx.Done():
		return false, true, ctx.Err()
	}

	if err := ticket.Err(); err != nil {
		d.fail(&ReplayApplicationError{Seq: t.Seq, Type: t.Type, Path: rec.Path, Err: err}, t.LastSeq())
		return true, false, nil
	}

	d.mu.Lock()
	d.progress.Position++
	d.progress.Played++
	d.progress.LastSeq = t.LastSeq()
	d.mu.Unlock()
	d.report(ResultPlayed)
	return true, false, nil
}

func (d *Driver) fail(err *ReplayApplicationError, seq uint64) {
	d.logger.Error("recording not re-applied", "seq", err.Seq, "type", err.Type, "path", err.Path, "error", err.Err)
	d.mu.Lock()
	d.progress.Position++
	d.progress.Failed++
	if seq > d.progress.LastSeq {
		d.progress.LastSeq = seq
	}
	d.mu.Unlock()
	d.report(ResultFailed)
}

func (d *Driver) report(result string) {
	if d.observe != nil {
		d.observe(result)
	}
}

// end fires the end-of-transmissions notification once.
func (d *Driver) end() {
	d.mu.Lock()
	if d.ended {
		d.mu.Unlock()
		return
	}
	d.ended = true
	p := d.progress
	d.mu.Unlock()

	d.logger.Info("end of transmissions",
		"played", p.Played,
		"skipped", p.Skipped,
		"failed", p.Failed,
		"last_seq", p.LastSeq,
	)
	for _, fn := range d.onEnd {
		fn(p)
	}
	ev := events.PlaybackEnded{Played: p.Played, Skipped: p.Skipped, Failed: p.Failed, LastSeq: p.LastSeq}
	if err := d.events.Publish(context.Background(), events.TopicPlaybackEnd, ev); err != nil {
		d.logger.Warn("event not published", "topic", events.TopicPlaybackEnd, "error", err)
	}
	if d.runMode == RunModeNormal && d.snapshots != nil {
		d.snapshots.ScheduleSnapshot("playback_end")
	}
}
