package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/plancast/internal/checksum"
	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/planmodel"
	"github.com/roach88/plancast/internal/playback"
	"github.com/roach88/plancast/internal/session"
	"github.com/roach88/plancast/internal/store"
)

// Replay is an offline broadcast path that plays one recording directory
// from its anchor backup. Checksums it produces are journaled as replay
// checksums so they can be compared with the live ones.
type Replay struct {
	Model    *planmodel.Model
	Hub      *dispatch.Hub
	Registry *session.Registry
	Driver   *playback.Driver
	// AnchorSeq is the last sequence number reflected in the anchor backup.
	AnchorSeq uint64

	journal *store.Journal
	cancel  context.CancelFunc
}

// Divergence is a transmission whose replay checksum differs from the live one.
type Divergence struct {
	Seq            uint64 `json:"seq"`
	Scope          string `json:"scope"`
	TransmissionID string `json:"transmission_id"`
	Live           string `json:"live"`
	Replay         string `json:"replay"`
}

// NewReplay prepares the replay of dir, a recording directory of st.
// Without an anchor backup the replay starts from an empty model.
func NewReplay(ctx context.Context, st *store.Store, dir string, logger *slog.Logger, opts ...playback.Option) (*Replay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cr := codec.NewDefaultRegistry()
	if err := planmodel.Register(cr); err != nil {
		return nil, err
	}

	model := planmodel.New(logger)
	var anchorSeq uint64
	anchor, err := store.AnchorBackup(dir)
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		logger.Warn("recording directory has no anchor backup, replaying from empty state", "dir", dir)
	case err != nil:
		return nil, fmt.Errorf("replay: %w", err)
	default:
		snap, err := store.ReadSnapshotFile(anchor.Path)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		if err := model.Deserialize(snap.Data); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		anchorSeq = snap.LastSeq
	}

	all, err := store.ListRecordings(dir)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	recs := make([]store.Recording, 0, len(all))
	for _, r := range all {
		if r.Seq > anchorSeq {
			recs = append(recs, r)
		}
	}

	if err := st.Journal().ClearChecksums(ctx, store.SourceReplay); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	tracker := checksum.NewTracker(checksum.NewCache(checksum.DefaultCacheSize),
		checksum.NewAudit(checksum.WithLogger(logger)), st.Journal(), store.SourceReplay, logger)

	hubCtx, cancel := context.WithCancel(context.Background())
	hub := dispatch.NewHub(hubCtx, dispatch.WithLogger(logger), dispatch.WithObservers(tracker))
	for _, scope := range append([]string{ir.SystemScope}, model.Scopes()...) {
		if _, err := hub.Open(scope, model.Consumer(scope)); err != nil {
			cancel()
			return nil, fmt.Errorf("replay: %w", err)
		}
	}
	openScopesFor(hub, model, st, recs, logger)

	reg := session.New(session.Deps{Codec: cr, Hub: hub, Checksums: tracker, Logger: logger},
		session.WithStartSeq(anchorSeq), session.WithReadOnly(model.ReadOnly()))
	opts = append([]playback.Option{
		playback.WithLogger(logger),
		// Failed recordings still own their numbers.
		playback.WithOnEnd(func(p playback.Progress) { reg.SkipTo(p.LastSeq) }),
	}, opts...)

	logger.Info("replay prepared", "dir", dir, "anchor_seq", anchorSeq, "recordings", len(recs))
	return &Replay{
		Model:     model,
		Hub:       hub,
		Registry:  reg,
		Driver:    playback.New(reg, st, recs, opts...),
		AnchorSeq: anchorSeq,
		journal:   st.Journal(),
		cancel:    cancel,
	}, nil
}

// Close stops the dispatchers.
func (r *Replay) Close() {
	r.cancel()
}

// Verify compares every journaled replay checksum with the live checksum of
// the same transmission and scope. Transmissions without a live checksum are
// not compared.
func (r *Replay) Verify(ctx context.Context) ([]Divergence, error) {
	if err := r.Hub.FlushAll(ctx); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	live, err := r.journal.Checksums(ctx, store.SourceLive)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	replayed, err := r.journal.Checksums(ctx, store.SourceReplay)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	type key struct {
		id    string
		scope string
	}
	byKey := make(map[key]ir.ChecksumRecord, len(live))
	for _, rec := range live {
		byKey[key{rec.TransmissionID.String(), rec.Scope}] = rec
	}

	var out []Divergence
	for _, rec := range replayed {
		l, ok := byKey[key{rec.TransmissionID.String(), rec.Scope}]
		if !ok || l.Digest == rec.Digest {
			continue
		}
		out = append(out, Divergence{
			Seq:            rec.Seq,
			Scope:          rec.Scope,
			TransmissionID: rec.TransmissionID.String(),
			Live:           l.Digest,
			Replay:         rec.Digest,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Scope < out[j].Scope
	})
	return out, nil
}
