package session

import (
	"sync"

	"github.com/google/uuid"
)

// Delivery is the head of a mailbox as returned by Poll.
type Delivery struct {
	ID        uuid.UUID
	Seq       uint64
	Data      []byte
	Remaining int // entries queued behind this one
}

type envelope struct {
	id   uuid.UUID
	seq  uint64
	data []byte
}

// Mailbox is the ordered queue of transmissions pending for one session.
// Entries leave only when the client acknowledges them.
// Thread-safety: safe for concurrent use.
type Mailbox struct {
	mu      sync.Mutex
	entries []envelope
}

func newMailbox() *Mailbox {
	return &Mailbox{}
}

// push appends an encoded transmission. Data is shared between mailboxes
// and must not be modified.
func (m *Mailbox) push(id uuid.UUID, seq uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, envelope{id: id, seq: seq, data: data})
}

// Poll drops every entry up to and including lastAck, then returns the
// head without removing it. An unknown or nil lastAck drops nothing, so
// retransmitting the same acknowledgement returns the same head.
func (m *Mailbox) Poll(lastAck uuid.UUID) (Delivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lastAck != uuid.Nil {
		for i, e := range m.entries {
			if e.id != lastAck {
				continue
			}
			n := i + 1
			for j := 0; j < n; j++ {
				m.entries[j] = envelope{}
			}
			m.entries = m.entries[n:]
			break
		}
	}
	if len(m.entries) == 0 {
		return Delivery{}, false
	}
	head := m.entries[0]
	return Delivery{
		ID:        head.id,
		Seq:       head.seq,
		Data:      head.data,
		Remaining: len(m.entries) - 1,
	}, true
}

// Len returns the number of unacknowledged entries.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Seqs returns the sequence numbers queued, in order.
func (m *Mailbox) Seqs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.seq
	}
	return out
}
