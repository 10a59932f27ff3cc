// Package events publishes broadcast notifications to external listeners.
//
// Publishing is best effort: the recording log is the durable record of
// every transmission, so a failed publish is logged by the caller and never
// blocks the broadcast path.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher sends an event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Topics.
const (
	TopicTransmissionAccepted = "plancast.transmission.accepted"
	TopicSessionOpened        = "plancast.session.opened"
	TopicSessionClosed        = "plancast.session.closed"
	TopicSessionExpired       = "plancast.session.expired"
	TopicPlaybackEnd          = "plancast.playback.end"
	TopicSnapshotWritten      = "plancast.snapshot.written"
)

// TransmissionAccepted is published after a transmission is sequenced.
type TransmissionAccepted struct {
	Seq        uint64    `json:"seq"`
	ID         uuid.UUID `json:"transmission_id"`
	Type       string    `json:"type"`
	Scope      string    `json:"scope,omitempty"`
	Origin     string    `json:"origin"`
	Instigator string    `json:"instigator"`
	Timestamp  time.Time `json:"timestamp"`
	Bypassed   bool      `json:"bypassed,omitempty"`
}

// SessionChanged is published when a session opens, closes or expires.
type SessionChanged struct {
	User   string `json:"user"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// PlaybackEnded is published when the playback driver exhausts its log.
type PlaybackEnded struct {
	Played  int    `json:"played"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	LastSeq uint64 `json:"last_seq"`
}

// SnapshotWritten is published after a full-state snapshot is on disk.
type SnapshotWritten struct {
	LastSeq uint64 `json:"last_seq"`
	Reason  string `json:"reason"`
	Backup  string `json:"backup,omitempty"`
}
