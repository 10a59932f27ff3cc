package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/plancast/internal/config"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/server"
	"github.com/roach88/plancast/internal/session"
	"github.com/roach88/plancast/internal/store"
	"github.com/roach88/plancast/internal/testutil"
)

// flushTimeout bounds the wait for queued deliveries after each step.
const flushTimeout = 5 * time.Second

// Harness drives one scenario against a server.
type Harness struct {
	scenario *Scenario
	cfg      *config.Config
	srv      *server.Server
	clock    *testutil.FakeClock
	ids      *testutil.SequentialIDs
	logger   *slog.Logger

	tokens    map[string]string
	decls     map[string]SessionDecl
	mailboxes map[string][]ir.Transmission
}

// Option configures a run.
type Option func(*Harness)

// WithLogger routes server logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes scenario in workDir, which should be empty, and returns the
// result. The error is non-nil only when the run itself could not proceed;
// failed expectations and assertions are reported in the result.
func Run(ctx context.Context, scenario *Scenario, workDir string, opts ...Option) (*Result, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	cfg.WorkDir = workDir
	cfg.BackupIntervalMinutes = 0
	cfg.RunMode = "normal"

	h := &Harness{
		scenario:  scenario,
		cfg:       cfg,
		clock:     testutil.NewFakeClock(testutil.Epoch),
		ids:       testutil.NewSequentialIDs("tok"),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		tokens:    make(map[string]string),
		decls:     make(map[string]SessionDecl, len(scenario.Sessions)),
		mailboxes: make(map[string][]ir.Transmission),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, d := range scenario.Sessions {
		h.decls[d.Name] = d
	}

	if err := h.start(ctx); err != nil {
		return nil, err
	}
	defer func() { h.srv.Close() }()

	result := NewResult()
	for i, step := range scenario.Steps {
		sr, err := h.execute(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if step.Expect != "" && sr.Outcome != step.Expect {
			result.AddError(fmt.Sprintf("steps[%d]: expected %s, got %s", i, step.Expect, sr.Outcome))
		}
		result.Steps = append(result.Steps, sr)
	}

	if err := h.flush(ctx); err != nil {
		return nil, err
	}
	if result.Trace, err = h.trace(ctx); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// start opens the server, reopens missing scopes and logs every declared
// session in.
func (h *Harness) start(ctx context.Context) error {
	srv, err := server.Open(ctx, h.cfg,
		server.WithLogger(h.logger),
		server.WithClock(h.clock.Now),
		server.WithTokens(h.ids.Token),
	)
	if err != nil {
		return fmt.Errorf("open server: %w", err)
	}
	h.srv = srv
	if err := h.prepare(ctx); err != nil {
		srv.Close()
		return err
	}
	return nil
}

func (h *Harness) prepare(ctx context.Context) error {
	for _, scope := range h.scenario.Scopes {
		if _, ok := h.srv.Hub().Route(scope); ok {
			continue
		}
		if _, err := h.srv.LoadScope(ctx, scope); err != nil {
			return fmt.Errorf("open scope %q: %w", scope, err)
		}
	}
	for _, d := range h.scenario.Sessions {
		if err := h.login(ctx, d.Name); err != nil {
			return err
		}
	}
	return h.flush(ctx)
}

func (h *Harness) login(ctx context.Context, name string) error {
	d := h.decls[name]
	kind := session.KindUser
	if d.Kind != "" {
		k, err := session.ParseKind(d.Kind)
		if err != nil {
			return fmt.Errorf("session %q: %w", name, err)
		}
		kind = k
	}
	tok, err := h.srv.Registry().Login(ctx, d.User, kind, 0)
	if err != nil {
		return fmt.Errorf("login %q: %w", name, err)
	}
	h.tokens[name] = tok
	delete(h.mailboxes, name)
	return nil
}

func (h *Harness) execute(ctx context.Context, index int, step Step) (StepResult, error) {
	sr := StepResult{Index: index, SeqBefore: h.srv.Registry().LastSeq()}
	var err error
	switch {
	case step.Submit != nil:
		sr.Action = "submit"
		sr.Outcome, err = h.submit(ctx, step.Submit)
	case step.Login != "":
		sr.Action = "login"
		err = h.login(ctx, step.Login)
	case step.Logoff != "":
		sr.Action = "logoff"
		err = h.srv.Registry().Logoff(ctx, h.tokens[step.Logoff])
		delete(h.tokens, step.Logoff)
	case step.ReadOnly != nil:
		sr.Action = "read_only"
		var ticket *dispatch.Ticket
		if ticket, err = h.srv.Registry().SetReadOnly(ctx, *step.ReadOnly); err == nil && ticket != nil {
			err = ticket.Wait(ctx)
		}
	case step.Snapshot:
		sr.Action = "snapshot"
		_, err = h.srv.Snapshots().Snapshot(ctx, "harness")
	case step.Restart:
		sr.Action = "restart"
		err = h.restart(ctx)
	}
	if err != nil {
		return sr, err
	}
	if err := h.flush(ctx); err != nil {
		return sr, err
	}
	sr.SeqAfter = h.srv.Registry().LastSeq()
	return sr, nil
}

// submit encodes the step like a client would and reports the outcome.
func (h *Harness) submit(ctx context.Context, s *SubmitStep) (string, error) {
	t := ir.Transmission{
		ID:    h.ids.NextID(),
		Type:  ir.TypeTag(s.Type),
		Scope: s.Scope,
	}
	if s.Payload != nil {
		payload, err := json.Marshal(s.Payload)
		if err != nil {
			return "", fmt.Errorf("payload: %w", err)
		}
		t.Payload = payload
	}
	data, err := h.srv.Codec().Encode(t)
	if err != nil {
		return OutcomeRejected, nil
	}

	ticket, err := h.srv.Registry().Submit(ctx, h.tokens[s.Session], data)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", err
	case err != nil:
		h.logger.Debug("submission rejected", "type", s.Type, "error", err)
		return OutcomeRejected, nil
	case ticket.Dropped():
		return OutcomeDropped, nil
	}
	if err := ticket.Wait(ctx); err != nil {
		return "", err
	}
	if ticket.Err() != nil {
		return OutcomeFailed, nil
	}
	return OutcomeApplied, nil
}

// restart simulates a crash: no final snapshot is taken and every session
// is lost.
func (h *Harness) restart(ctx context.Context) error {
	h.srv.Close()
	h.tokens = make(map[string]string)
	h.mailboxes = make(map[string][]ir.Transmission)
	h.clock.Advance(time.Minute)
	return h.start(ctx)
}

func (h *Harness) flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	return h.srv.Hub().FlushAll(ctx)
}

// trace joins every recording with the checksums journaled live.
func (h *Harness) trace(ctx context.Context) ([]TraceEvent, error) {
	st := h.srv.Store()
	recs, err := st.RecordingsAfter(0)
	if err != nil {
		return nil, err
	}
	sums, err := st.Journal().Checksums(ctx, store.SourceLive)
	if err != nil {
		return nil, err
	}
	type key struct {
		id    string
		scope string
	}
	digests := make(map[key]string, len(sums))
	for _, rec := range sums {
		digests[key{rec.TransmissionID.String(), rec.Scope}] = rec.Digest
	}

	out := make([]TraceEvent, 0, len(recs))
	for _, r := range recs {
		t, err := st.ReadRecording(r.Path)
		if err != nil {
			return nil, err
		}
		for _, part := range t.Flatten() {
			out = append(out, TraceEvent{
				Seq:        part.Seq,
				Type:       string(part.Type),
				Scope:      part.Scope,
				Instigator: part.Instigator,
				Checksum:   digests[key{part.ID.String(), part.Scope}],
			})
		}
	}
	return out, nil
}

// drain moves every pending delivery of a session into its mailbox log.
func (h *Harness) drain(name string) ([]ir.Transmission, error) {
	tok, ok := h.tokens[name]
	if !ok {
		return h.mailboxes[name], nil
	}
	var ack uuid.UUID
	for {
		d, ok, err := h.srv.Registry().Poll(tok, ack)
		if err != nil {
			return nil, err
		}
		if !ok {
			return h.mailboxes[name], nil
		}
		t, err := h.srv.Codec().Decode(d.Data)
		if err != nil {
			return nil, err
		}
		h.mailboxes[name] = append(h.mailboxes[name], t)
		ack = d.ID
	}
}
