package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner removes old recording directories.
type Pruner interface {
	PruneRecordings(ctx context.Context, max int, keepAfter uint64) ([]string, error)
}

// Scheduler takes a snapshot on every tick and then rotates recordings that
// the new snapshot covers.
type Scheduler struct {
	snapshots     *Snapshotter
	pruner        Pruner
	interval      time.Duration
	maxRecordings int
	logger        *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. maxRecordings <= 0 keeps every
// recording directory.
func NewScheduler(snapshots *Snapshotter, pruner Pruner, interval time.Duration, maxRecordings int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		snapshots:     snapshots,
		pruner:        pruner,
		interval:      interval,
		maxRecordings: maxRecordings,
		logger:        logger,
	}
}

// Start begins periodic snapshots. A non-positive interval disables them.
func (s *Scheduler) Start() {
	if s.interval <= 0 {
		s.logger.Info("periodic snapshots disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current snapshot (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce takes one snapshot and prunes recordings it covers.
func (s *Scheduler) RunOnce(ctx context.Context) {
	res, err := s.snapshots.Snapshot(ctx, "interval")
	if err != nil {
		s.logger.Error("periodic snapshot failed", "error", err)
		return
	}
	if s.pruner == nil {
		return
	}
	removed, err := s.pruner.PruneRecordings(ctx, s.maxRecordings, res.LastSeq)
	if err != nil {
		s.logger.Error("recording rotation failed", "error", err)
		return
	}
	if len(removed) > 0 {
		s.logger.Info("recordings rotated", "removed", len(removed), "last_seq", res.LastSeq)
	}
}
