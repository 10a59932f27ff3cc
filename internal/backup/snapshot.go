// Package backup writes full-state snapshots and rotates the recording log.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/plancast/internal/events"
	"github.com/roach88/plancast/internal/store"
)

// DefaultMaxBackups is the number of backups kept per recording directory.
const DefaultMaxBackups = 10

// Gate pauses new submissions while a snapshot is taken.
type Gate interface {
	Suspend()
	Resume()
	LastSeq() uint64
}

// Flusher waits until every dispatcher queue is empty.
type Flusher interface {
	FlushAll(ctx context.Context) error
}

// State serializes the state of every scope.
type State interface {
	Serialize() ([]byte, error)
}

// Writer persists snapshots and their backups.
type Writer interface {
	WriteSnapshot(snap store.Snapshot) (string, error)
	PruneBackups(max int) ([]string, error)
}

// Destination receives a copy of every backup.
type Destination interface {
	Write(ctx context.Context, key string, data []byte) error
}

// Deps are the collaborators of a Snapshotter. All but Destinations, Events
// and Logger are required.
type Deps struct {
	Gate         Gate
	Flusher      Flusher
	State        State
	Store        Writer
	Destinations []Destination
	Events       events.Publisher
	Logger       *slog.Logger
}

// Result describes one written snapshot.
type Result struct {
	LastSeq uint64
	Backup  string
	Pruned  []string
}

// Option configures a Snapshotter.
type Option func(*Snapshotter)

// WithMaxBackups bounds the backups kept in the active recording directory.
// n <= 0 keeps every backup.
func WithMaxBackups(n int) Option {
	return func(s *Snapshotter) { s.maxBackups = n }
}

// WithTimeout bounds snapshots started by ScheduleSnapshot.
func WithTimeout(d time.Duration) Option {
	return func(s *Snapshotter) { s.timeout = d }
}

// Snapshotter takes consistent snapshots of the whole system.
// Thread-safety: safe for concurrent use; snapshots are serialized.
type Snapshotter struct {
	deps       Deps
	maxBackups int
	timeout    time.Duration
	logger     *slog.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewSnapshotter returns a Snapshotter.
func NewSnapshotter(deps Deps, opts ...Option) *Snapshotter {
	s := &Snapshotter{
		deps:       deps,
		maxBackups: DefaultMaxBackups,
		timeout:    time.Minute,
		logger:     deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.deps.Events == nil {
		s.deps.Events = &events.NoopPublisher{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot suspends submissions, waits for every queued transmission to be
// applied and writes the serialized state tagged with the last sequence
// number. Submissions resume as soon as the snapshot file is on disk;
// pruning and uploads happen afterwards.
func (s *Snapshotter) Snapshot(ctx context.Context, reason string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.capture(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot (%s): %w", reason, err)
	}

	if pruned, err := s.deps.Store.PruneBackups(s.maxBackups); err != nil {
		s.logger.Warn("backups not pruned", "error", err)
	} else {
		res.Pruned = pruned
	}
	if res.Backup != "" {
		s.upload(ctx, res.Backup)
	}

	s.logger.Info("snapshot complete", "reason", reason, "last_seq", res.LastSeq, "pruned", len(res.Pruned))
	ev := events.SnapshotWritten{LastSeq: res.LastSeq, Reason: reason, Backup: filepath.Base(res.Backup)}
	if err := s.deps.Events.Publish(ctx, events.TopicSnapshotWritten, ev); err != nil {
		s.logger.Warn("event not published", "topic", events.TopicSnapshotWritten, "error", err)
	}
	return res, nil
}

func (s *Snapshotter) capture(ctx context.Context) (Result, error) {
	s.deps.Gate.Suspend()
	defer s.deps.Gate.Resume()

	if err := s.deps.Flusher.FlushAll(ctx); err != nil {
		return Result{}, fmt.Errorf("flush: %w", err)
	}
	data, err := s.deps.State.Serialize()
	if err != nil {
		return Result{}, fmt.Errorf("serialize: %w", err)
	}
	lastSeq := s.deps.Gate.LastSeq()
	backup, err := s.deps.Store.WriteSnapshot(store.Snapshot{LastSeq: lastSeq, Data: data})
	if err != nil {
		return Result{}, err
	}
	return Result{LastSeq: lastSeq, Backup: backup}, nil
}

func (s *Snapshotter) upload(ctx context.Context, path string) {
	if len(s.deps.Destinations) == 0 {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error("backup not uploaded", "backup", path, "error", err)
		return
	}
	key := filepath.Base(filepath.Dir(path)) + "/" + filepath.Base(path)
	for i, dest := range s.deps.Destinations {
		if err := dest.Write(ctx, key, data); err != nil {
			s.logger.Error("backup destination write failed", "destination", i, "key", key, "error", err)
		}
	}
}

// ScheduleSnapshot takes a snapshot in the background. Failures are logged.
func (s *Snapshotter) ScheduleSnapshot(reason string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Snapshot(ctx, reason); err != nil {
			level := slog.LevelError
			if errors.Is(err, context.DeadlineExceeded) {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "scheduled snapshot failed", "reason", reason, "error", err)
		}
	}()
}

// Wait blocks until every scheduled snapshot has finished.
func (s *Snapshotter) Wait() {
	s.wg.Wait()
}
