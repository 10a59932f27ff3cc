package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/planmodel"
	"github.com/roach88/plancast/internal/store"
)

// ErrSystemScope is returned when the system scope is opened or reloaded.
var ErrSystemScope = errors.New("the system scope cannot be reloaded")

// LoadScope opens scope as an empty scenario, or reloads it from the last
// snapshot when it is already open. Reports whether the scope was reloaded.
func (s *Server) LoadScope(ctx context.Context, scope string) (bool, error) {
	if scope == ir.SystemScope {
		return false, ErrSystemScope
	}
	if _, ok := s.hub.Route(scope); ok {
		return true, s.ReloadScope(ctx, scope)
	}
	if _, err := s.hub.Open(scope, s.model.Consumer(scope)); err != nil {
		if errors.Is(err, dispatch.ErrScopeExists) {
			return true, s.ReloadScope(ctx, scope)
		}
		return false, err
	}
	s.logger.Info("scope opened", "scope_id", scope)
	return false, nil
}

// ReloadScope replaces the state of scope with its state in the last
// snapshot. Transmissions still queued for the old state are moved to the
// reloaded scenario when they are newer than the snapshot.
func (s *Server) ReloadScope(ctx context.Context, scope string) error {
	if scope == ir.SystemScope {
		return ErrSystemScope
	}
	var state []byte
	snap, err := s.store.LoadSnapshot()
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
	case err != nil:
		return fmt.Errorf("reload %q: %w", scope, err)
	default:
		if state, err = planmodel.ScenarioState(snap.Data, scope); err != nil {
			return fmt.Errorf("reload %q: %w", scope, err)
		}
	}

	// No submission may route to the old dispatcher once it is swapped out.
	s.registry.Suspend()
	defer s.registry.Resume()

	consumer, wm, err := s.model.ReloadScenario(scope, state)
	if err != nil {
		return err
	}
	if _, err := s.hub.Swap(scope, consumer, wm); err != nil {
		return fmt.Errorf("reload %q: %w", scope, err)
	}
	return nil
}

type recordingReader interface {
	ReadRecording(path string) (ir.Transmission, error)
}

// openScopesFor opens every scope the recordings touch that is not open yet.
// Unreadable recordings are left for the playback driver to report.
func openScopesFor(hub *dispatch.Hub, model *planmodel.Model, src recordingReader, recs []store.Recording, logger *slog.Logger) {
	for _, rec := range recs {
		t, err := src.ReadRecording(rec.Path)
		if err != nil {
			continue
		}
		for _, scope := range t.Scopes() {
			if _, ok := hub.Route(scope); ok {
				continue
			}
			if _, err := hub.Open(scope, model.Consumer(scope)); err != nil {
				logger.Warn("scope not opened", "scope_id", scope, "error", err)
				continue
			}
			logger.Debug("scope opened for replay", "scope_id", scope, "seq", rec.Seq)
		}
	}
}
