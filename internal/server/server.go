// Package server wires the broadcast core into a running plancast server.
//
// Open builds every component, restores state from the last snapshot,
// replays the recordings taken after it and starts a fresh recording
// directory anchored by a new snapshot. Start launches the background
// workers; Shutdown stops them and writes a final snapshot.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/plancast/internal/backup"
	"github.com/roach88/plancast/internal/checksum"
	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/config"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/events"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/metrics"
	"github.com/roach88/plancast/internal/planmodel"
	"github.com/roach88/plancast/internal/playback"
	"github.com/roach88/plancast/internal/session"
	"github.com/roach88/plancast/internal/store"
)

// ReasonRestart is attached to logoffs broadcast for sessions lost in a restart.
const ReasonRestart = "restart"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides the wall clock of the registry and the store.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithTokens overrides the session token generator.
func WithTokens(gen func() (string, error)) Option {
	return func(s *Server) { s.tokens = gen }
}

// WithPublisher sets the events publisher, overriding nats_url.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) { s.events = p }
}

// Server owns every component of a running server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time
	tokens func() (string, error)

	cancel    context.CancelFunc
	codec     *codec.Registry
	store     *store.Store
	events    events.Publisher
	prom      *prometheus.Registry
	metrics   *metrics.Metrics
	tracker   *checksum.Tracker
	hub       *dispatch.Hub
	model     *planmodel.Model
	registry  *session.Registry
	snapshots *backup.Snapshotter
	scheduler *backup.Scheduler
	recovered playback.Progress
}

// Open builds a server from cfg and recovers its state from cfg.WorkDir.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.build(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.recover(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build() error {
	s.codec = codec.NewDefaultRegistry()
	if err := planmodel.Register(s.codec); err != nil {
		return err
	}

	st, err := store.Open(s.cfg.WorkDir, s.codec, store.WithClock(s.now), store.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.store = st

	if s.events == nil {
		s.events = &events.NoopPublisher{}
		if s.cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(s.cfg.NATSURL)
			if err != nil {
				return err
			}
			s.events = pub
		}
	}

	s.prom = prometheus.NewRegistry()
	s.metrics = metrics.New(s.prom)

	audit := checksum.NewAudit(
		checksum.WithClock(s.now),
		checksum.WithLogger(s.logger),
		checksum.WithDesyncHook(s.metrics.Desync),
	)
	s.tracker = checksum.NewTracker(checksum.NewCache(s.cfg.ChecksumCacheSize), audit,
		st.Journal(), store.SourceLive, s.logger)

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(context.Background())
	s.hub = dispatch.NewHub(hubCtx, dispatch.WithLogger(s.logger), dispatch.WithObservers(s.tracker, s.metrics))
	s.model = planmodel.New(s.logger)
	return nil
}

func (s *Server) recover(ctx context.Context) error {
	var startSeq uint64
	snap, err := s.store.LoadSnapshot()
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		s.logger.Info("no snapshot found, starting empty", "work_dir", s.cfg.WorkDir)
	case err != nil:
		return fmt.Errorf("recover: %w", err)
	default:
		if err := s.model.Deserialize(snap.Data); err != nil {
			return fmt.Errorf("recover: %w", err)
		}
		startSeq = snap.LastSeq
		s.logger.Info("snapshot loaded", "last_seq", snap.LastSeq, "created_at", snap.CreatedAt)
	}

	for _, scope := range append([]string{ir.SystemScope}, s.model.Scopes()...) {
		if _, err := s.hub.Open(scope, s.model.Consumer(scope)); err != nil {
			return fmt.Errorf("recover: %w", err)
		}
	}

	s.registry = session.New(session.Deps{
		Codec:     s.codec,
		Hub:       s.hub,
		Recorder:  s.store,
		Checksums: s.tracker,
		Events:    s.events,
		Metrics:   s.metrics,
		Logger:    s.logger,
	}, append(s.registryOptions(startSeq), session.WithReadOnly(s.model.ReadOnly()))...)

	recs, err := s.store.RecordingsAfter(startSeq)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	openScopesFor(s.hub, s.model, s.store, recs, s.logger)
	driver := playback.New(s.registry, s.store, recs,
		playback.WithRunMode(s.cfg.RunMode),
		playback.WithEvents(s.events),
		playback.WithObserver(s.metrics.PlaybackRecord),
		playback.WithLogger(s.logger),
	)
	if s.recovered, err = driver.PlayFull(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	if err := s.skipUnplayed(); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	if _, err := s.store.StartRecording(s.registry.LastSeq()+1, s.cfg.RunMode); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	if err := s.logoffStale(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	s.snapshots = backup.NewSnapshotter(backup.Deps{
		Gate:         s.registry,
		Flusher:      s.hub,
		State:        s.model,
		Store:        s.store,
		Destinations: s.destinations(ctx),
		Events:       s.events,
		Logger:       s.logger,
	}, backup.WithMaxBackups(s.cfg.MaxBackupsPerSession))
	if _, err := s.snapshots.Snapshot(ctx, "startup"); err != nil {
		return fmt.Errorf("recover: anchor snapshot: %w", err)
	}
	s.scheduler = backup.NewScheduler(s.snapshots, s.store, s.cfg.BackupInterval(), s.cfg.MaxStoredRecordings, s.logger)

	s.logger.Info("state recovered",
		"snapshot_seq", startSeq,
		"replayed", s.recovered.Played,
		"failed", s.recovered.Failed,
		"last_seq", s.registry.LastSeq(),
	)
	return nil
}

// skipUnplayed moves the sequencer past recordings that could not be
// re-applied. Their numbers are already on disk and must not be issued again.
func (s *Server) skipUnplayed() error {
	last, err := s.store.LastRecordedSeq()
	if err != nil {
		return err
	}
	last = max(last, s.recovered.LastSeq)
	if s.registry.SkipTo(last) {
		s.logger.Warn("sequence advanced past unplayed recordings",
			"last_seq", last,
			"failed", s.recovered.Failed,
		)
	}
	return nil
}

func (s *Server) registryOptions(startSeq uint64) []session.Option {
	opts := []session.Option{
		session.WithStartSeq(startSeq),
		session.WithClock(s.now),
		session.WithDefaultTimeout(s.cfg.DefaultConnectionTimeout),
		session.WithChecksumAuditTTL(s.cfg.ChecksumAuditTTL),
		session.WithCapabilities(session.KindUser, s.cfg.Capabilities.User...),
		session.WithCapabilities(session.KindAppUser, s.cfg.Capabilities.AppUser...),
		session.WithCapabilities(session.KindSystem, s.cfg.Capabilities.System...),
	}
	if s.tokens != nil {
		opts = append(opts, session.WithTokens(s.tokens))
	}
	return opts
}

// logoffStale broadcasts a logoff for every login that survived in the
// recovered state. Sessions do not outlive the process.
func (s *Server) logoffStale(ctx context.Context) error {
	if err := s.hub.FlushAll(ctx); err != nil {
		return err
	}
	users := s.model.Users()
	names := make([]string, 0, len(users))
	for user := range users {
		names = append(names, user)
	}
	sort.Strings(names)
	for _, user := range names {
		n := users[user]
		for i := 0; i < n; i++ {
			ticket, err := s.registry.SubmitServer(ctx, ir.TypeLogoff, ir.SystemScope,
				ir.LogoffPayload{User: user, Reason: ReasonRestart})
			if err != nil {
				return err
			}
			if err := ticket.Wait(ctx); err != nil {
				return err
			}
		}
		s.logger.Info("stale login closed", "user", user, "count", n)
	}
	return nil
}

func (s *Server) destinations(ctx context.Context) []backup.Destination {
	if s.cfg.S3Bucket == "" {
		return nil
	}
	dest, err := backup.NewS3Destination(ctx, s.cfg.S3Bucket, s.cfg.S3Prefix, s.cfg.S3Region, s.cfg.S3Endpoint)
	if err != nil {
		s.logger.Error("s3 backups disabled", "bucket", s.cfg.S3Bucket, "error", err)
		return nil
	}
	return []backup.Destination{dest}
}

// Start launches the session sweeper and the snapshot scheduler.
func (s *Server) Start() {
	s.registry.StartSweeper(s.cfg.SessionSweepInterval)
	s.scheduler.Start()
}

// Shutdown stops the background workers, writes a final snapshot in normal
// run mode and releases every resource.
func (s *Server) Shutdown(ctx context.Context) error {
	s.scheduler.Stop()
	s.registry.StopSweeper()
	s.snapshots.Wait()

	var err error
	if s.cfg.RunMode == playback.RunModeNormal {
		if _, serr := s.snapshots.Snapshot(ctx, "shutdown"); serr != nil {
			err = fmt.Errorf("shutdown: %w", serr)
		}
	}
	s.Close()
	return err
}

// Close releases resources without a final snapshot.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.logger.Warn("events publisher close failed", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("store close failed", "error", err)
		}
	}
}

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Hub returns the dispatcher hub.
func (s *Server) Hub() *dispatch.Hub { return s.hub }

// Model returns the planning model.
func (s *Server) Model() *planmodel.Model { return s.model }

// Store returns the recording log store.
func (s *Server) Store() *store.Store { return s.store }

// Codec returns the transmission codec.
func (s *Server) Codec() *codec.Registry { return s.codec }

// Snapshots returns the snapshotter.
func (s *Server) Snapshots() *backup.Snapshotter { return s.snapshots }

// Gatherer returns the Prometheus registry of the server's metrics.
func (s *Server) Gatherer() prometheus.Gatherer { return s.prom }

// Recovered reports what recovery replayed.
func (s *Server) Recovered() playback.Progress { return s.recovered }
