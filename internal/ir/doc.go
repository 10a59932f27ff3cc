// Package ir defines the foundational records of the broadcast core.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Every transmission carries a global sequence number assigned exactly once
//   - Payloads are opaque to the core; only the domain collaborator decodes them
//   - Digests are computed over canonical JSON (no floats, NFC strings)
//   - All JSON tags use snake_case
package ir
