package session

import "github.com/roach88/plancast/internal/ir"

// readOnlyAllowed is the fixed allow-list of types accepted while the
// server is read-only.
var readOnlyAllowed = map[ir.TypeTag]bool{
	ir.TypeLogin:       true,
	ir.TypeLogoff:      true,
	ir.TypeStateSwitch: true,
	ir.TypeUndoStart:   true,
	ir.TypeUndo:        true,
}

// AllowedWhenReadOnly reports whether t may be submitted in read-only mode.
func AllowedWhenReadOnly(tag ir.TypeTag) bool {
	return readOnlyAllowed[tag]
}

// BypassesQueue reports whether t skips the scope queue and is delivered
// synchronously to the scope's consumer. scopeBusy reports whether the
// scope has queued items or a delivery in flight.
//
//	undo.start                                   always
//	scenario.replace with origin undo            always
//	scenario.replace from a client, scope idle   yes
//	anything else                                no
func BypassesQueue(t ir.Transmission, scopeBusy bool) bool {
	switch t.Type {
	case ir.TypeUndoStart:
		return true
	case ir.TypeScenarioReplace:
		return t.Origin == ir.OriginUndo || (t.Origin != ir.OriginServer && !scopeBusy)
	default:
		return false
	}
}
