package session

import "sync/atomic"

// Sequencer is the global sequence counter.
//
// Every accepted transmission is stamped with a strictly increasing number
// from this counter; it is the sole total-order key. The registry reserves
// numbers locally while it validates a transmission and only commits them
// with Advance once the transmission is accepted, so a rejected submission
// never consumes a number.
//
// Thread-safety: safe for concurrent use. The registry only advances it
// while holding its own mutex.
type Sequencer struct {
	seq atomic.Uint64
}

// NewSequencer creates a sequencer starting at 0.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// NewSequencerAt creates a sequencer whose last issued number is start.
// Used on recovery to resume after the last recorded transmission.
func NewSequencerAt(start uint64) *Sequencer {
	s := &Sequencer{}
	s.seq.Store(start)
	return s
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.seq.Load()
}

// Advance moves the counter forward to last. It reports false, leaving the
// counter unchanged, if last is not greater than the current value.
func (s *Sequencer) Advance(last uint64) bool {
	for {
		cur := s.seq.Load()
		if last <= cur {
			return false
		}
		if s.seq.CompareAndSwap(cur, last) {
			return true
		}
	}
}
