// Package harness runs mass-recording scenarios against a real server.
//
// A scenario opens a server in a scratch work directory, logs its sessions
// in, drives a list of steps through the session registry and then checks
// assertions against the live state, the recordings and a replay of every
// recording directory.
//
// # Scenario Format
//
//	name: edit_restart
//	description: "Edits survive a crash and replay to the same checksums"
//	scopes: [plan-a]
//	sessions:
//	  - name: ana
//	    user: ana
//	    kind: user
//	steps:
//	  - submit:
//	      session: ana
//	      type: plan.set
//	      scope: plan-a
//	      payload: { key: a, value: "1" }
//	    expect: applied
//	  - read_only: true
//	  - snapshot: true
//	  - restart: true
//	assertions:
//	  - type: checksum_equal_after_replay
//	  - type: final_entries
//	    scope: plan-a
//	    entries: { a: "1" }
//
// # Steps
//
//   - submit: encode a transmission and submit it through a session.
//     expect is one of applied, failed, dropped or rejected.
//   - login / logoff: open or close a declared session.
//   - read_only: toggle the read-only gate.
//   - snapshot: take a snapshot now.
//   - restart: drop the server without a final snapshot and recover it
//     from the same work directory. Declared sessions log in again.
//
// # Assertion Types
//
//   - checksum_equal_after_replay: every recording directory replays from
//     its anchor backup to the checksums journaled live
//   - mailbox_contains: a session received the listed types, in order
//   - dropped: exactly count submissions were dropped
//   - seq_unchanged: a step did not consume a sequence number
//   - final_entries: the plan of a scope equals entries
//
// # Deterministic Testing
//
// Runs use a frozen testutil.FakeClock, sequential transmission ids and
// session tokens, so the trace of recorded transmissions (seq, type, scope,
// instigator, checksum) can be compared against a golden file.
package harness
