package harness

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/server"
)

// AssertionContext gives assertions access to the live run.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %q by %s\n", ev.Seq, ev.Type, ev.Scope, ev.Instigator)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertChecksumEqualAfterReplay:
			err = assertChecksumEqualAfterReplay(actx)
		case AssertMailboxContains:
			err = assertMailboxContains(actx, a)
		case AssertDropped:
			err = assertDropped(result, a)
		case AssertSeqUnchanged:
			err = assertSeqUnchanged(result, a)
		case AssertFinalEntries:
			err = assertFinalEntries(result, actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertChecksumEqualAfterReplay replays every recording directory from its
// anchor backup and compares the replay checksums with the live journal.
func assertChecksumEqualAfterReplay(actx *AssertionContext) error {
	st := actx.Harness.srv.Store()
	dirs, err := st.RecordingDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		r, err := server.NewReplay(actx.Ctx, st, dir, actx.Harness.logger)
		if err != nil {
			return err
		}
		progress, err := r.Driver.PlayFull(actx.Ctx)
		if err != nil {
			r.Close()
			return err
		}
		divs, err := r.Verify(actx.Ctx)
		r.Close()
		if err != nil {
			return err
		}
		if len(divs) > 0 {
			d := divs[0]
			return &AssertionError{
				Type:     AssertChecksumEqualAfterReplay,
				Expected: fmt.Sprintf("replay of %s matches live checksums", dir),
				Actual: fmt.Sprintf("%d divergences, first at seq %d scope %q: live %s replay %s",
					len(divs), d.Seq, d.Scope, d.Live, d.Replay),
			}
		}
		actx.Harness.logger.Debug("replay verified", "dir", dir, "played", progress.Played, "failed", progress.Failed)
	}
	return nil
}

// assertMailboxContains checks that the session received the listed types
// in order. Other deliveries may be interleaved.
func assertMailboxContains(actx *AssertionContext, a Assertion) error {
	got, err := actx.Harness.drain(a.Session)
	if err != nil {
		return err
	}
	types := make([]string, len(got))
	for i, t := range got {
		types[i] = string(t.Type)
	}

	next := 0
	for _, typ := range types {
		if next < len(a.Types) && typ == a.Types[next] {
			next++
		}
	}
	if next == len(a.Types) {
		return nil
	}
	return &AssertionError{
		Type:     AssertMailboxContains,
		Expected: fmt.Sprintf("session %s received %v in order", a.Session, a.Types),
		Actual:   fmt.Sprintf("received %v", types),
	}
}

func assertDropped(result *Result, a Assertion) error {
	if n := result.Dropped(); n != a.Count {
		return &AssertionError{
			Type:     AssertDropped,
			Expected: fmt.Sprintf("%d dropped submissions", a.Count),
			Actual:   fmt.Sprintf("%d dropped submissions", n),
		}
	}
	return nil
}

func assertSeqUnchanged(result *Result, a Assertion) error {
	if a.Step >= len(result.Steps) {
		return fmt.Errorf("step %d did not run", a.Step)
	}
	s := result.Steps[a.Step]
	if s.SeqBefore != s.SeqAfter {
		return &AssertionError{
			Type:     AssertSeqUnchanged,
			Expected: fmt.Sprintf("step %d leaves the last seq at %d", a.Step, s.SeqBefore),
			Actual:   fmt.Sprintf("last seq moved to %d", s.SeqAfter),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertFinalEntries(result *Result, actx *AssertionContext, a Assertion) error {
	got := actx.Harness.srv.Model().Entries(a.Scope)
	if len(got) == 0 && len(a.Entries) == 0 {
		return nil
	}
	if !maps.Equal(got, a.Entries) {
		return &AssertionError{
			Type:     AssertFinalEntries,
			Expected: fmt.Sprintf("%s entries %v", scopeName(a.Scope), a.Entries),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func scopeName(scope string) string {
	if scope == ir.SystemScope {
		return "system scope"
	}
	return "scope " + scope
}
