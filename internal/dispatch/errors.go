package dispatch

import (
	"errors"
	"fmt"

	"github.com/roach88/plancast/internal/ir"
)

var (
	// ErrScopeExists is returned when opening a scope twice.
	ErrScopeExists = errors.New("scope already open")

	// ErrUnknownScope is returned when a scope has no dispatcher.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrSuperseded resolves deliveries dropped when a scope was reloaded or closed.
	ErrSuperseded = errors.New("delivery superseded by scope reload")

	// ErrNoOutcome is reported when a consumer closes its outcome channel
	// without sending.
	ErrNoOutcome = errors.New("consumer returned no outcome")
)

// ConfigurationError reports a delivery for a scope that has no consumer.
// It is raised with panic from the delivering goroutine and is not meant to
// be recovered: a scope without a handler is a wiring bug.
type ConfigurationError struct {
	Scope string
	Type  ir.TypeTag
	Seq   uint64
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("CONFIGURATION: no consumer registered for scope %q (type=%s, seq=%d)", e.Scope, e.Type, e.Seq)
}
