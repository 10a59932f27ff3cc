package checksum

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/store"
)

// Journal persists produced checksums.
type Journal interface {
	WriteChecksum(ctx context.Context, rec ir.ChecksumRecord, source store.ChecksumSource) error
}

// Tracker observes deliveries and serves checksum requests. It is the
// dispatch.Observer that fills the cache.
type Tracker struct {
	Cache   *Cache
	Audit   *Audit
	journal Journal
	source  store.ChecksumSource
	now     func() time.Time
	logger  *slog.Logger
}

// NewTracker returns a tracker. journal may be nil.
func NewTracker(cache *Cache, audit *Audit, journal Journal, source store.ChecksumSource, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		Cache:   cache,
		Audit:   audit,
		journal: journal,
		source:  source,
		now:     time.Now,
		logger:  logger,
	}
}

// Delivered implements dispatch.Observer.
func (t *Tracker) Delivered(it dispatch.Item, o ir.Outcome, _ time.Duration) {
	if !o.Success || o.Checksum == "" {
		return
	}
	rec := ir.ChecksumRecord{
		TransmissionID: it.T.ID,
		Scope:          o.Scope,
		Seq:            it.T.Seq,
		Digest:         o.Checksum,
		ComputedAt:     t.now(),
	}
	t.Cache.Put(rec)
	t.Audit.Produced(rec.Scope, rec.TransmissionID)

	if t.journal == nil {
		return
	}
	if err := t.journal.WriteChecksum(context.Background(), rec, t.source); err != nil {
		t.logger.Error("checksum not journaled", "seq", rec.Seq, "scope_id", rec.Scope, "error", err)
	}
}

// QueueDepth implements dispatch.Observer.
func (t *Tracker) QueueDepth(string, int) {}

// Get returns the checksum of scope after transmission id, auditing the
// request either way.
func (t *Tracker) Get(scope string, id uuid.UUID, session string) (ir.ChecksumRecord, bool) {
	rec, ok := t.Cache.Get(scope, id)
	if !ok {
		t.Audit.LogMissingChecksum(scope, id, session)
		return ir.ChecksumRecord{}, false
	}
	t.Audit.CheckRequestedChecksum(scope, id, session)
	return rec, true
}

// Verify compares a client digest with the server's. Unknown checksums are
// audited as early requests and reported as not verified.
func (t *Tracker) Verify(scope string, id uuid.UUID, session, digest string) (verified bool, warning *DesyncWarning) {
	rec, ok := t.Get(scope, id, session)
	if !ok {
		return false, nil
	}
	if w := t.Audit.Compare(scope, id, session, rec.Digest, digest); w != nil {
		return false, w
	}
	return true, nil
}
