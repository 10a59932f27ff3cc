package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/plancast/internal/ir"
)

var (
	// ErrUnknownScope is returned when a transmission targets a scope that
	// has no dispatcher. Nothing is sequenced.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrOutOfOrder is returned by SubmitRecorded for a sequence number not
	// greater than the last accepted one.
	ErrOutOfOrder = errors.New("recorded transmission out of order")
)

// AuthorizationError reports capabilities a session lacks for a transmission.
// The transmission is rejected before sequencing.
type AuthorizationError struct {
	Session string
	User    string
	Type    ir.TypeTag
	Missing []string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("AUTHORIZATION: user %q may not submit %s: missing %s",
		e.User, e.Type, strings.Join(e.Missing, ", "))
}

// InvalidSessionError reports an operation against an unknown or expired token.
type InvalidSessionError struct {
	Token string
}

func (e *InvalidSessionError) Error() string {
	return fmt.Sprintf("INVALID_SESSION: no active session %q", e.Token)
}

// IsAuthorizationError returns true if err is or wraps an AuthorizationError.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsInvalidSession returns true if err is or wraps an InvalidSessionError.
func IsInvalidSession(err error) bool {
	var se *InvalidSessionError
	return errors.As(err, &se)
}
