// Package httpapi is the HTTP boundary of the session registry.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/plancast/internal/checksum"
	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/session"
)

// SystemScopeParam names the system scope in URLs.
const SystemScopeParam = "_system"

// maxRecordSize bounds submitted transmission bodies.
const maxRecordSize = 4 << 20

// Sessions is the session registry as seen by the HTTP boundary.
type Sessions interface {
	Login(ctx context.Context, user string, kind session.Kind, timeout time.Duration) (string, error)
	Logoff(ctx context.Context, token string) error
	Submit(ctx context.Context, token string, data []byte) (*dispatch.Ticket, error)
	Poll(token string, lastAck uuid.UUID) (session.Delivery, bool, error)
	GetChecksum(token, scope string, id uuid.UUID) (ir.ChecksumRecord, bool, error)
	VerifyChecksum(token, scope string, id uuid.UUID, digest string) (bool, *checksum.DesyncWarning, error)
	SetReadOnly(ctx context.Context, readOnly bool) (*dispatch.Ticket, error)
}

// Scopes opens or reloads scenario scopes.
type Scopes interface {
	LoadScope(ctx context.Context, scope string) (bool, error)
}

// Snapshots schedules background snapshots.
type Snapshots interface {
	ScheduleSnapshot(reason string)
}

// Deps are the collaborators of the router. Sessions is required.
type Deps struct {
	Sessions   Sessions
	Scopes     Scopes
	Snapshots  Snapshots
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
	AdminToken string
	Version    string
}

type loginRequest struct {
	User           string `json:"user"`
	Kind           string `json:"kind"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type pollResponse struct {
	ID        uuid.UUID       `json:"id"`
	Seq       uint64          `json:"seq"`
	Remaining int             `json:"remaining"`
	Data      json.RawMessage `json:"data"`
}

type submitResponse struct {
	TransmissionID uuid.UUID `json:"transmission_id"`
	Seq            uint64    `json:"seq"`
	Dropped        bool      `json:"dropped"`
}

type verifyResponse struct {
	Match   bool                    `json:"match"`
	Warning *checksum.DesyncWarning `json:"warning,omitempty"`
}

// NewRouter returns the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	version := deps.Version
	if version == "" {
		version = ir.ServerVersion
	}
	h := &handlers{deps: deps, logger: logger}
	if deps.AdminToken == "" {
		logger.Warn("admin routes are unauthenticated: no admin token configured")
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"version":          version,
			"wire_version":     ir.WireVersion,
			"snapshot_version": ir.SnapshotVersion,
		})
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", h.login)
		r.Route("/{token}", func(r chi.Router) {
			r.Delete("/", h.logoff)
			r.Post("/transmissions", h.submit)
			r.Get("/poll", h.poll)
			r.Get("/checksums/{scope}/{id}", h.getChecksum)
			r.Post("/checksums/{scope}/{id}", h.verifyChecksum)
		})
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(adminTokenAuth(deps.AdminToken))
		r.Post("/read-only", h.setReadOnly)
		if deps.Scopes != nil {
			r.Post("/scopes/{scope}", h.loadScope)
		}
		if deps.Snapshots != nil {
			r.Post("/snapshot", func(w http.ResponseWriter, r *http.Request) {
				deps.Snapshots.ScheduleSnapshot("admin")
				w.WriteHeader(http.StatusAccepted)
			})
		}
	})
	return r
}

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = string(session.KindUser)
	}
	kind, err := session.ParseKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	token, err := h.deps.Sessions.Login(r.Context(), req.User, kind, time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func (h *handlers) logoff(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Sessions.Logoff(r.Context(), chi.URLParam(r, "token")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRecordSize+1))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(data) > maxRecordSize {
		http.Error(w, "transmission too large", http.StatusRequestEntityTooLarge)
		return
	}
	ticket, err := h.deps.Sessions.Submit(r.Context(), chi.URLParam(r, "token"), data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		TransmissionID: ticket.ID,
		Seq:            ticket.Seq,
		Dropped:        ticket.Dropped(),
	})
}

func (h *handlers) poll(w http.ResponseWriter, r *http.Request) {
	var ack uuid.UUID
	if raw := r.URL.Query().Get("ack"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid ack id", http.StatusBadRequest)
			return
		}
		ack = id
	}
	d, ok, err := h.deps.Sessions.Poll(chi.URLParam(r, "token"), ack)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, pollResponse{ID: d.ID, Seq: d.Seq, Remaining: d.Remaining, Data: d.Data})
}

func (h *handlers) getChecksum(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := checksumParams(w, r)
	if !ok {
		return
	}
	rec, found, err := h.deps.Sessions.GetChecksum(chi.URLParam(r, "token"), scope, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		http.Error(w, "checksum not available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"digest": rec.Digest, "seq": rec.Seq})
}

func (h *handlers) verifyChecksum(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := checksumParams(w, r)
	if !ok {
		return
	}
	var req struct {
		Digest string `json:"digest"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Digest == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	match, warning, err := h.deps.Sessions.VerifyChecksum(chi.URLParam(r, "token"), scope, id, req.Digest)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if match {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Match: false, Warning: warning})
}

func (h *handlers) setReadOnly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReadOnly *bool `json:"read_only"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ReadOnly == nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := h.deps.Sessions.SetReadOnly(r.Context(), *req.ReadOnly); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) loadScope(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	if scope == SystemScopeParam {
		http.Error(w, "the system scope cannot be loaded", http.StatusBadRequest)
		return
	}
	if _, err := h.deps.Scopes.LoadScope(r.Context(), scope); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func checksumParams(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid transmission id", http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	scope := chi.URLParam(r, "scope")
	if scope == SystemScopeParam {
		scope = ir.SystemScope
	}
	return scope, id, true
}

// fail maps err to a status code.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case session.IsInvalidSession(err):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case session.IsAuthorizationError(err):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, session.ErrUnknownScope),
		errors.Is(err, codec.ErrUnknownType),
		errors.Is(err, codec.ErrVersionTooNew),
		errors.Is(err, codec.ErrMalformed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}
