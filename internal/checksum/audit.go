package checksum

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Desync kinds.
const (
	KindRequestedEarly = "requested_before_produced"
	KindNeverProduced  = "never_produced"
	KindMismatch       = "digest_mismatch"
)

// DesyncWarning describes a checksum race or mismatch. It is logged, never
// returned as a request failure.
type DesyncWarning struct {
	Kind           string
	Scope          string
	TransmissionID uuid.UUID
	Session        string
	RequestedAt    time.Time
	ProducedAt     time.Time
	Expected       string
	Got            string
}

func (w *DesyncWarning) Error() string {
	switch w.Kind {
	case KindMismatch:
		return fmt.Sprintf("DESYNC: scope %q after %s: client digest %s, server digest %s (session=%s)",
			w.Scope, w.TransmissionID, w.Got, w.Expected, w.Session)
	default:
		return fmt.Sprintf("DESYNC: %s for scope %q after %s (session=%s)", w.Kind, w.Scope, w.TransmissionID, w.Session)
	}
}

type request struct {
	session string
	at      time.Time
}

// Audit correlates client checksum requests with server production.
// Thread-safety: safe for concurrent use.
type Audit struct {
	now      func() time.Time
	logger   *slog.Logger
	onDesync func(kind string)

	mu        sync.Mutex
	requested map[key]request   // asked for before the server produced it
	produced  map[key]time.Time // produced, not yet requested
}

// AuditOption configures an Audit.
type AuditOption func(*Audit)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) AuditOption {
	return func(a *Audit) { a.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) AuditOption {
	return func(a *Audit) { a.logger = l }
}

// WithDesyncHook registers a callback invoked with the kind of every warning.
func WithDesyncHook(fn func(kind string)) AuditOption {
	return func(a *Audit) { a.onDesync = fn }
}

// NewAudit returns an empty audit.
func NewAudit(opts ...AuditOption) *Audit {
	a := &Audit{
		now:       time.Now,
		logger:    slog.Default(),
		requested: make(map[key]request),
		produced:  make(map[key]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LogMissingChecksum records that session asked for a checksum the server
// has not produced yet.
func (a *Audit) LogMissingChecksum(scope string, id uuid.UUID, session string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{scope: scope, id: id}
	if _, ok := a.requested[k]; ok {
		return
	}
	a.requested[k] = request{session: session, at: a.now()}
	a.logger.Debug("checksum requested before produced", "scope_id", scope, "transmission_id", id, "session", session)
}

// CheckRequestedChecksum records that session fetched an available checksum
// and clears the production entry.
func (a *Audit) CheckRequestedChecksum(scope string, id uuid.UUID, session string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{scope: scope, id: id}
	producedAt, ok := a.produced[k]
	if !ok {
		return
	}
	delete(a.produced, k)
	a.logger.Debug("checksum requested after produced",
		"scope_id", scope,
		"transmission_id", id,
		"session", session,
		"lag", a.now().Sub(producedAt),
	)
}

// Produced records that the server computed a checksum. If a client asked
// for it earlier, the race is reported.
func (a *Audit) Produced(scope string, id uuid.UUID) {
	a.mu.Lock()
	k := key{scope: scope, id: id}
	now := a.now()
	req, early := a.requested[k]
	if early {
		delete(a.requested, k)
	} else {
		a.produced[k] = now
	}
	a.mu.Unlock()

	if early {
		a.warn(&DesyncWarning{
			Kind:           KindRequestedEarly,
			Scope:          scope,
			TransmissionID: id,
			Session:        req.session,
			RequestedAt:    req.at,
			ProducedAt:     now,
		})
	}
}

// Compare checks a client-reported digest against the server's and returns
// the warning it logged, or nil when they agree.
func (a *Audit) Compare(scope string, id uuid.UUID, session, expected, got string) *DesyncWarning {
	if expected == got {
		return nil
	}
	w := &DesyncWarning{
		Kind:           KindMismatch,
		Scope:          scope,
		TransmissionID: id,
		Session:        session,
		ProducedAt:     a.now(),
		Expected:       expected,
		Got:            got,
	}
	a.warn(w)
	return w
}

// Expire drops entries older than ttl. Requests that were never answered
// are reported.
func (a *Audit) Expire(ttl time.Duration) int {
	a.mu.Lock()
	cutoff := a.now().Add(-ttl)
	var stale []*DesyncWarning
	for k, req := range a.requested {
		if req.at.Before(cutoff) {
			stale = append(stale, &DesyncWarning{
				Kind:           KindNeverProduced,
				Scope:          k.scope,
				TransmissionID: k.id,
				Session:        req.session,
				RequestedAt:    req.at,
			})
			delete(a.requested, k)
		}
	}
	dropped := len(stale)
	for k, at := range a.produced {
		if at.Before(cutoff) {
			delete(a.produced, k)
			dropped++
		}
	}
	a.mu.Unlock()

	for _, w := range stale {
		a.warn(w)
	}
	return dropped
}

// Pending returns the number of open (requested, produced) entries.
func (a *Audit) Pending() (requested, produced int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requested), len(a.produced)
}

func (a *Audit) warn(w *DesyncWarning) {
	attrs := []any{
		"kind", w.Kind,
		"scope_id", w.Scope,
		"transmission_id", w.TransmissionID,
		"session", w.Session,
	}
	if !w.RequestedAt.IsZero() {
		attrs = append(attrs, "requested_at", w.RequestedAt)
	}
	if !w.ProducedAt.IsZero() {
		attrs = append(attrs, "produced_at", w.ProducedAt)
	}
	if w.Kind == KindMismatch {
		attrs = append(attrs, "expected", w.Expected, "got", w.Got)
	}
	a.logger.Warn("desync warning", attrs...)
	if a.onDesync != nil {
		a.onDesync(w.Kind)
	}
}
