package session

import (
	"fmt"
	"sort"
	"time"
)

// Kind classifies a session.
type Kind string

const (
	// KindSystem sessions belong to internal actors.
	KindSystem Kind = "system"
	// KindUser sessions expire after their connection timeout.
	KindUser Kind = "user"
	// KindAppUser sessions never expire by time and are single-instance
	// per user.
	KindAppUser Kind = "app_user"
)

// ParseKind validates a session kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSystem, KindUser, KindAppUser:
		return k, nil
	default:
		return "", fmt.Errorf("unknown session kind %q", s)
	}
}

// Reasons attached to logoff broadcasts.
const (
	ReasonLogoff      = "logoff"
	ReasonExpired     = "expired"
	ReasonReplaced    = "replaced"
	ReasonUserDeleted = "user_deleted"
)

// Session is one connected client. All mutable fields are guarded by the
// owning Registry's mutex; the mailbox has its own lock.
type Session struct {
	Token     string
	User      string
	Kind      Kind
	CreatedAt time.Time
	Timeout   time.Duration // 0 never expires

	caps        map[string]bool
	mailbox     *Mailbox
	lastReceive time.Time
}

// Info is a point-in-time view of a session.
type Info struct {
	Token       string        `json:"token"`
	User        string        `json:"user"`
	Kind        Kind          `json:"kind"`
	CreatedAt   time.Time     `json:"created_at"`
	LastReceive time.Time     `json:"last_receive"`
	Timeout     time.Duration `json:"timeout"`
	Pending     int           `json:"pending"`
}

func (s *Session) info() Info {
	return Info{
		Token:       s.Token,
		User:        s.User,
		Kind:        s.Kind,
		CreatedAt:   s.CreatedAt,
		LastReceive: s.lastReceive,
		Timeout:     s.Timeout,
		Pending:     s.mailbox.Len(),
	}
}

// missing returns the capabilities in required the session lacks, sorted.
func (s *Session) missing(required []string) []string {
	var out []string
	for _, c := range required {
		if !s.caps[c] {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Session) expired(now time.Time) bool {
	return s.Timeout > 0 && now.Sub(s.lastReceive) > s.Timeout
}
