// Package session implements the session registry and broadcast sequencer.
//
// The Registry assigns the global sequence number, fans every accepted
// transmission out into each session's mailbox, forwards it to the
// dispatcher of every scope it touches and durably records it. All of this
// happens under one mutex, so mailbox order, dispatch order and recording
// order are the sequence order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/plancast/internal/checksum"
	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/events"
	"github.com/roach88/plancast/internal/idgen"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/store"
)

// DefaultConnectionTimeout applies to user sessions created without one.
const DefaultConnectionTimeout = 2 * time.Minute

// Recorder durably appends accepted transmissions.
type Recorder interface {
	Append(ctx context.Context, t ir.Transmission) (store.Recording, error)
}

// Metrics receives registry counters.
type Metrics interface {
	TransmissionAccepted(tag ir.TypeTag)
	TransmissionDropped(reason string)
	SessionExpired()
	SessionsActive(n int)
}

type nopMetrics struct{}

func (nopMetrics) TransmissionAccepted(ir.TypeTag) {}
func (nopMetrics) TransmissionDropped(string)      {}
func (nopMetrics) SessionExpired()                 {}
func (nopMetrics) SessionsActive(int)              {}

// Deps are the collaborators of a Registry. Codec and Hub are required.
type Deps struct {
	Codec     *codec.Registry
	Hub       *dispatch.Hub
	Recorder  Recorder          // nil disables recording
	Checksums *checksum.Tracker // nil disables checksum lookups
	Events    events.Publisher
	Metrics   Metrics
	Logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTokens overrides the session token generator.
func WithTokens(gen func() (string, error)) Option {
	return func(r *Registry) { r.newToken = gen }
}

// WithCapabilities grants caps to every session of kind.
func WithCapabilities(kind Kind, caps ...string) Option {
	return func(r *Registry) { r.caps[kind] = append(r.caps[kind], caps...) }
}

// WithDefaultTimeout sets the connection timeout of user sessions created
// without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) { r.defaultTimeout = d }
}

// WithStartSeq resumes sequencing after seq.
func WithStartSeq(seq uint64) Option {
	return func(r *Registry) { r.seq = NewSequencerAt(seq) }
}

// WithReadOnly starts the registry with the read-only gate in the given
// state without broadcasting a state switch. Used on recovery, where the
// last switch is already part of the restored state.
func WithReadOnly(readOnly bool) Option {
	return func(r *Registry) { r.readOnly = readOnly }
}

// WithChecksumAuditTTL makes every sweep expire checksum audit entries
// older than ttl.
func WithChecksumAuditTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.auditTTL = ttl }
}

// Registry owns the sequence counter, the session list and the read-only
// gate. Thread-safety: safe for concurrent use.
type Registry struct {
	codec     *codec.Registry
	hub       *dispatch.Hub
	recorder  Recorder
	checksums *checksum.Tracker
	events    events.Publisher
	metrics   Metrics
	logger    *slog.Logger

	now            func() time.Time
	newToken       func() (string, error)
	caps           map[Kind][]string
	defaultTimeout time.Duration
	auditTTL       time.Duration
	seq            *Sequencer

	mu       sync.Mutex
	sessions map[string]*Session
	readOnly bool
	resumed  chan struct{} // non-nil while suspended, closed on Resume

	// bypassing counts accepted transmissions whose synchronous delivery
	// has not finished. Add happens under mu.
	bypassing sync.WaitGroup

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// acceptance is what a submission did, reported after the lock is released.
type acceptance struct {
	t       ir.Transmission
	dropped bool
	bypass  []bypassDelivery
}

// bypassDelivery is a part delivered synchronously once mu is released.
type bypassDelivery struct {
	d    *dispatch.Dispatcher
	item dispatch.Item
}

// New returns a registry with no sessions.
func New(deps Deps, opts ...Option) *Registry {
	r := &Registry{
		codec:          deps.Codec,
		hub:            deps.Hub,
		recorder:       deps.Recorder,
		checksums:      deps.Checksums,
		events:         deps.Events,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		now:            time.Now,
		newToken:       idgen.NewToken,
		caps:           make(map[Kind][]string),
		defaultTimeout: DefaultConnectionTimeout,
		seq:            NewSequencer(),
		sessions:       make(map[string]*Session),
	}
	if r.events == nil {
		r.events = &events.NoopPublisher{}
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LastSeq returns the last sequence number issued.
func (r *Registry) LastSeq() uint64 {
	return r.seq.Current()
}

// SkipTo moves the sequence counter forward to seq without issuing a
// transmission, so no number up to seq is handed out again. Reports false
// when the counter is already at or past seq.
func (r *Registry) SkipTo(seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq.Advance(seq)
}

// ReadOnly reports whether the read-only gate is closed.
func (r *Registry) ReadOnly() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readOnly
}

// Login creates a session for user and broadcasts a login transmission.
// Creating an appUser session logs off any previous appUser session of the
// same user. timeout <= 0 selects the default for kind.
func (r *Registry) Login(ctx context.Context, user string, kind Kind, timeout time.Duration) (string, error) {
	if user == "" {
		return "", errors.New("login: empty user")
	}
	if _, ok := r.hub.Route(ir.SystemScope); !ok {
		return "", fmt.Errorf("login: system scope: %w", ErrUnknownScope)
	}
	token, err := r.newToken()
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	if err := r.lock(ctx); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	var replaced []*Session
	if kind == KindAppUser {
		replaced = r.removeLocked(func(s *Session) bool {
			return s.Kind == KindAppUser && s.User == user
		})
	}

	now := r.now()
	s := &Session{
		Token:       token,
		User:        user,
		Kind:        kind,
		CreatedAt:   now,
		Timeout:     r.timeoutFor(kind, timeout),
		caps:        make(map[string]bool),
		mailbox:     newMailbox(),
		lastReceive: now,
	}
	for _, c := range r.caps[kind] {
		s.caps[c] = true
	}
	r.sessions[token] = s

	accs := r.broadcastLogoffsLocked(ctx, replaced, ReasonReplaced)
	_, acc, err := r.acceptLocked(ctx, r.serverTransmission(ir.TypeLogin, ir.SystemScope,
		ir.LoginPayload{User: user, Kind: string(kind)}), false)
	if err != nil {
		delete(r.sessions, token)
	} else {
		accs = append(accs, acc)
	}
	active := len(r.sessions)
	r.mu.Unlock()

	for _, a := range accs {
		r.afterAccept(ctx, a)
	}
	r.sessionsClosed(ctx, replaced, ReasonReplaced, events.TopicSessionClosed)
	r.metrics.SessionsActive(active)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	r.logger.Info("session opened", "session", token, "user", user, "kind", kind, "timeout", s.Timeout)
	r.publish(ctx, events.TopicSessionOpened, events.SessionChanged{User: user, Kind: string(kind)})
	return token, nil
}

// Logoff closes the session of token and broadcasts a logoff transmission.
func (r *Registry) Logoff(ctx context.Context, token string) error {
	n, err := r.evict(ctx, ReasonLogoff, events.TopicSessionClosed, func(s *Session) bool {
		return s.Token == token
	})
	if err != nil {
		return fmt.Errorf("logoff: %w", err)
	}
	if n == 0 {
		return &InvalidSessionError{Token: token}
	}
	return nil
}

// DeleteUser closes every session of user. Returns the number closed.
func (r *Registry) DeleteUser(ctx context.Context, user string) (int, error) {
	n, err := r.evict(ctx, ReasonUserDeleted, events.TopicSessionClosed, func(s *Session) bool {
		return s.User == user
	})
	if err != nil {
		return 0, fmt.Errorf("delete user: %w", err)
	}
	return n, nil
}

// Sweep closes every session idle longer than its connection timeout and
// expires stale checksum audit entries. Returns the number of sessions closed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	n, err := r.evict(ctx, ReasonExpired, events.TopicSessionExpired, func(s *Session) bool {
		return s.expired(now)
	})
	for i := 0; i < n; i++ {
		r.metrics.SessionExpired()
	}
	if r.checksums != nil && r.auditTTL > 0 {
		r.checksums.Audit.Expire(r.auditTTL)
	}
	if err != nil {
		return n, fmt.Errorf("sweep: %w", err)
	}
	return n, nil
}

// Submit decodes a self-describing record and submits it through token.
func (r *Registry) Submit(ctx context.Context, token string, data []byte) (*dispatch.Ticket, error) {
	t, err := r.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	return r.SubmitTransmission(ctx, token, t)
}

// SubmitTransmission authorizes t against the session of token and accepts
// it into the global order. In read-only mode transmissions outside the
// allow-list are dropped: the returned ticket is already resolved and
// reports Dropped.
func (r *Registry) SubmitTransmission(ctx context.Context, token string, t ir.Transmission) (*dispatch.Ticket, error) {
	if err := r.lock(ctx); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	s, ok := r.sessions[token]
	if !ok {
		r.mu.Unlock()
		return nil, &InvalidSessionError{Token: token}
	}
	s.lastReceive = r.now()

	required, err := r.codec.RequiredCapabilities(t)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("submit: %w", err)
	}
	if missing := s.missing(required); len(missing) > 0 {
		r.mu.Unlock()
		return nil, &AuthorizationError{Session: token, User: s.User, Type: t.Type, Missing: missing}
	}

	t.Instigator = s.User
	if t.Origin != ir.OriginUndo {
		t.Origin = ir.OriginClient
	}
	if t.ID == uuid.Nil {
		t.ID = ir.NewTransmissionID()
	}
	ticket, acc, err := r.acceptLocked(ctx, t, false)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.afterAccept(ctx, acc)
	return ticket, nil
}

// SubmitServer accepts a transmission issued by the server itself.
func (r *Registry) SubmitServer(ctx context.Context, tag ir.TypeTag, scope string, payload any) (*dispatch.Ticket, error) {
	if err := r.lock(ctx); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	ticket, acc, err := r.acceptLocked(ctx, r.serverTransmission(tag, scope, payload), false)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.afterAccept(ctx, acc)
	return ticket, nil
}

// SubmitRecorded re-submits a recorded transmission, keeping its sequence
// number and timestamp. The number must be greater than the last accepted
// one. Authorization and the read-only gate are not applied and nothing is
// recorded again.
func (r *Registry) SubmitRecorded(ctx context.Context, t ir.Transmission) (*dispatch.Ticket, error) {
	if err := r.lock(ctx); err != nil {
		return nil, fmt.Errorf("submit recorded: %w", err)
	}
	ticket, acc, err := r.acceptLocked(ctx, t, true)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.afterAccept(ctx, acc)
	return ticket, nil
}

// SetReadOnly toggles the read-only gate. A transition is broadcast as a
// state.switch transmission so every session observes it at the same
// position in the order. Returns nil when the gate is already in that state.
func (r *Registry) SetReadOnly(ctx context.Context, readOnly bool) (*dispatch.Ticket, error) {
	if err := r.lock(ctx); err != nil {
		return nil, fmt.Errorf("set read-only: %w", err)
	}
	if r.readOnly == readOnly {
		r.mu.Unlock()
		return nil, nil
	}
	ticket, acc, err := r.acceptLocked(ctx, r.serverTransmission(ir.TypeStateSwitch, ir.SystemScope,
		ir.StateSwitchPayload{ReadOnly: readOnly}), false)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("set read-only: %w", err)
	}
	r.afterAccept(ctx, acc)
	r.logger.Warn("read-only mode changed", "read_only", readOnly, "seq", acc.t.Seq)
	return ticket, nil
}

// Poll acknowledges every mailbox entry up to lastAck and returns the next
// pending one.
func (r *Registry) Poll(token string, lastAck uuid.UUID) (Delivery, bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if ok {
		s.lastReceive = r.now()
	}
	r.mu.Unlock()
	if !ok {
		return Delivery{}, false, &InvalidSessionError{Token: token}
	}
	d, found := s.mailbox.Poll(lastAck)
	return d, found, nil
}

// GetChecksum returns the server checksum of scope after transmission id.
// A miss is audited as a request that arrived before the checksum existed.
func (r *Registry) GetChecksum(token, scope string, id uuid.UUID) (ir.ChecksumRecord, bool, error) {
	if !r.touch(token) {
		return ir.ChecksumRecord{}, false, &InvalidSessionError{Token: token}
	}
	if r.checksums == nil {
		return ir.ChecksumRecord{}, false, nil
	}
	rec, ok := r.checksums.Get(scope, id, token)
	return rec, ok, nil
}

// VerifyChecksum compares a client digest with the server checksum. A
// mismatch is logged as a DesyncWarning and returned, never as an error.
func (r *Registry) VerifyChecksum(token, scope string, id uuid.UUID, digest string) (bool, *checksum.DesyncWarning, error) {
	if !r.touch(token) {
		return false, nil, &InvalidSessionError{Token: token}
	}
	if r.checksums == nil {
		return false, nil, nil
	}
	ok, w := r.checksums.Verify(scope, id, token, digest)
	return ok, w, nil
}

// Sessions returns a view of every session, oldest first.
func (r *Registry) Sessions() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Mailbox returns the mailbox of token.
func (r *Registry) Mailbox(token string) (*Mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return nil, &InvalidSessionError{Token: token}
	}
	return s.mailbox, nil
}

// Suspend blocks new submissions until Resume. When it returns no
// submission is in progress and every bypassed delivery has finished, so
// every accepted transmission is delivered or queued on its dispatcher.
func (r *Registry) Suspend() {
	r.mu.Lock()
	if r.resumed == nil {
		r.resumed = make(chan struct{})
	}
	r.mu.Unlock()
	r.bypassing.Wait()
}

// Resume releases submissions blocked by Suspend.
func (r *Registry) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resumed != nil {
		close(r.resumed)
		r.resumed = nil
	}
}

// lock acquires mu once the registry is not suspended.
func (r *Registry) lock(ctx context.Context) error {
	r.mu.Lock()
	for r.resumed != nil {
		ch := r.resumed
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
	}
	return nil
}

func (r *Registry) touch(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if ok {
		s.lastReceive = r.now()
	}
	return ok
}

// acceptLocked sequences t, fans it out and records it. mu must be held.
// Nothing is sequenced when an error is returned.
func (r *Registry) acceptLocked(ctx context.Context, t ir.Transmission, recorded bool) (*dispatch.Ticket, acceptance, error) {
	if err := t.Validate(); err != nil {
		return nil, acceptance{}, fmt.Errorf("submit: %w", err)
	}
	if _, err := r.codec.RequiredCapabilities(t); err != nil {
		return nil, acceptance{}, fmt.Errorf("submit: %w", err)
	}

	if !recorded && r.readOnly && !AllowedWhenReadOnly(t.Type) {
		r.logger.Debug("transmission dropped in read-only mode", "type", t.Type, "instigator", t.Instigator)
		return dispatch.DroppedTicket(t), acceptance{t: t, dropped: true}, nil
	}

	routes := make(map[string]*dispatch.Dispatcher)
	for _, scope := range t.Scopes() {
		d, ok := r.hub.Route(scope)
		if !ok {
			return nil, acceptance{}, fmt.Errorf("submit %s to %q: %w", t.Type, scope, ErrUnknownScope)
		}
		routes[scope] = d
	}

	if recorded {
		if err := r.checkRecordedLocked(t); err != nil {
			return nil, acceptance{}, err
		}
	} else {
		r.markRecordable(&t)
		next := r.seq.Current()
		t.Stamp(func() uint64 { next++; return next }, r.now().UTC())
	}

	data, err := r.codec.Encode(t)
	if err != nil {
		return nil, acceptance{}, fmt.Errorf("submit: %w", err)
	}
	r.seq.Advance(t.LastSeq())

	if t.Type == ir.TypeStateSwitch {
		r.applyStateSwitchLocked(t)
	}

	for _, s := range r.sessions {
		s.mailbox.push(t.ID, t.Seq, data)
	}

	ticket := dispatch.NewTicket(t)
	var bypass []bypassDelivery
	for _, part := range t.Flatten() {
		d := routes[part.Scope]
		item := dispatch.Item{T: part, Ticket: ticket}
		if BypassesQueue(part, d.Busy()) {
			bypass = append(bypass, bypassDelivery{d: d, item: item})
			continue
		}
		d.Receive(item)
	}
	if len(bypass) > 0 {
		r.bypassing.Add(1)
	}

	if !recorded && t.Recordable && r.recorder != nil {
		if _, err := r.recorder.Append(ctx, t); err != nil {
			// Already delivered; a missing recording only affects replay.
			r.logger.Error("transmission not recorded", "seq", t.Seq, "transmission_id", t.ID, "type", t.Type, "error", err)
		}
	}
	return ticket, acceptance{t: t, bypass: bypass}, nil
}

func (r *Registry) checkRecordedLocked(t ir.Transmission) error {
	last := r.seq.Current()
	if t.Seq <= last {
		return fmt.Errorf("submit recorded %d (last %d): %w", t.Seq, last, ErrOutOfOrder)
	}
	for i, part := range t.Parts {
		if part.Seq != t.Seq+uint64(i) {
			return fmt.Errorf("submit recorded packet %d: part %d has seq %d: %w", t.Seq, i, part.Seq, ErrOutOfOrder)
		}
	}
	return nil
}

func (r *Registry) markRecordable(t *ir.Transmission) {
	if info, ok := r.codec.Lookup(t.Type); ok {
		t.Recordable = info.Recordable
	}
	for i := range t.Parts {
		if info, ok := r.codec.Lookup(t.Parts[i].Type); ok {
			t.Parts[i].Recordable = info.Recordable
		}
	}
}

func (r *Registry) applyStateSwitchLocked(t ir.Transmission) {
	var p ir.StateSwitchPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		r.logger.Warn("state switch without read-only flag", "seq", t.Seq, "error", err)
		return
	}
	r.readOnly = p.ReadOnly
}

// afterAccept runs with mu released. Bypassed parts are delivered here so
// a slow scope never holds up submissions to other scopes.
func (r *Registry) afterAccept(ctx context.Context, acc acceptance) {
	if acc.dropped {
		r.metrics.TransmissionDropped("read_only")
		return
	}
	if len(acc.bypass) > 0 {
		for _, b := range acc.bypass {
			b.d.DeliverNow(b.item)
		}
		r.bypassing.Done()
	}
	r.metrics.TransmissionAccepted(acc.t.Type)
	r.publish(ctx, events.TopicTransmissionAccepted, events.TransmissionAccepted{
		Seq:        acc.t.Seq,
		ID:         acc.t.ID,
		Type:       string(acc.t.Type),
		Scope:      acc.t.Scope,
		Origin:     string(acc.t.Origin),
		Instigator: acc.t.Instigator,
		Timestamp:  acc.t.Timestamp,
		Bypassed:   len(acc.bypass) > 0,
	})
}

func (r *Registry) serverTransmission(tag ir.TypeTag, scope string, payload any) ir.Transmission {
	t := ir.Transmission{
		ID:         ir.NewTransmissionID(),
		Instigator: ir.ServerInstigator,
		Scope:      scope,
		Type:       tag,
		Origin:     ir.OriginServer,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			// Payloads are the fixed structs in package ir.
			panic(fmt.Sprintf("marshal %s payload: %v", tag, err))
		}
		t.Payload = data
	}
	return t
}

// evict removes the sessions matching match and broadcasts a logoff for each.
func (r *Registry) evict(ctx context.Context, reason, topic string, match func(*Session) bool) (int, error) {
	if err := r.lock(ctx); err != nil {
		return 0, err
	}
	gone := r.removeLocked(match)
	accs := r.broadcastLogoffsLocked(ctx, gone, reason)
	active := len(r.sessions)
	r.mu.Unlock()

	for _, a := range accs {
		r.afterAccept(ctx, a)
	}
	r.sessionsClosed(ctx, gone, reason, topic)
	if len(gone) > 0 {
		r.metrics.SessionsActive(active)
	}
	return len(gone), nil
}

// removeLocked deletes the matching sessions and returns them oldest first.
func (r *Registry) removeLocked(match func(*Session) bool) []*Session {
	var gone []*Session
	for token, s := range r.sessions {
		if match(s) {
			delete(r.sessions, token)
			gone = append(gone, s)
		}
	}
	sort.Slice(gone, func(i, j int) bool {
		if !gone[i].CreatedAt.Equal(gone[j].CreatedAt) {
			return gone[i].CreatedAt.Before(gone[j].CreatedAt)
		}
		return gone[i].Token < gone[j].Token
	})
	return gone
}

func (r *Registry) broadcastLogoffsLocked(ctx context.Context, gone []*Session, reason string) []acceptance {
	accs := make([]acceptance, 0, len(gone))
	for _, s := range gone {
		t := r.serverTransmission(ir.TypeLogoff, ir.SystemScope,
			ir.LogoffPayload{User: s.User, Kind: string(s.Kind), Reason: reason})
		_, acc, err := r.acceptLocked(ctx, t, false)
		if err != nil {
			r.logger.Error("logoff not broadcast", "session", s.Token, "user", s.User, "error", err)
			continue
		}
		accs = append(accs, acc)
	}
	return accs
}

func (r *Registry) sessionsClosed(ctx context.Context, gone []*Session, reason, topic string) {
	for _, s := range gone {
		r.logger.Info("session closed", "session", s.Token, "user", s.User, "kind", s.Kind, "reason", reason)
		r.publish(ctx, topic, events.SessionChanged{User: s.User, Kind: string(s.Kind), Reason: reason})
	}
}

func (r *Registry) timeoutFor(kind Kind, requested time.Duration) time.Duration {
	switch {
	case kind == KindAppUser:
		return 0
	case requested > 0:
		return requested
	case kind == KindUser:
		return r.defaultTimeout
	default:
		return 0
	}
}

func (r *Registry) publish(ctx context.Context, topic string, event any) {
	if err := r.events.Publish(ctx, topic, event); err != nil {
		r.logger.Warn("event not published", "topic", topic, "error", err)
	}
}
