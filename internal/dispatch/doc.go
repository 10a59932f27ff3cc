// Package dispatch delivers accepted transmissions to the domain handler of
// each scope.
//
// A Dispatcher owns the FIFO of one scope. At most one worker goroutine
// delivers for a scope at any time, and a delivery lasts until the consumer
// reports its Outcome. Receive only takes the queue lock and, when no worker
// is running, starts one; it never waits for a delivery.
//
// Completion is explicit: every queued Item carries a Ticket shared by all
// deliveries of one accepted transmission. The Ticket's Done channel closes
// when the last of them has been delivered and observed (checksum cached,
// metrics updated), which is what playback waits on.
//
// A Hub holds the dispatchers of every open scope and implements scenario
// reload: the replacement dispatcher adopts the queued transmissions newer
// than a watermark from the one it replaces (MergeFrom).
package dispatch
