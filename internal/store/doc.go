// Package store provides the durable transmission log.
//
// The authoritative record is a directory tree under the work directory:
//
//	<work>/scenarios.dat                              latest full-state snapshot
//	<work>/journal.db                                 SQLite catalog and checksum journal
//	<work>/recordings/<YYYYMMDDTHHMMSSZ>/session.toml recording manifest
//	<work>/recordings/<dir>/<seq:10>.<type>.bin       one recorded transmission
//	<work>/recordings/<dir>/<seq:10>._<ts>.scenarios.dat  backup snapshot
//
// Recording files are written with write-to-temp, fsync, rename so a crash
// never leaves a truncated record under its final name. Files are ordered by
// the sequence number parsed from their name, never by modification time.
//
// # Journal
//
// The SQLite journal indexes recordings and stores checksum records tagged
// with their source (live or replay). Its schema is managed by
// golang-migrate from the embedded migrations directory. The connection is
// configured with:
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// All journal queries order by seq first so results are identical across
// replays.
package store
