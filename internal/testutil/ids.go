package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SequentialIDs generates predictable transmission ids and session tokens.
//
// The same scenario with a fresh SequentialIDs produces byte-identical
// recordings, which golden comparison relies on.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	ids    uint64
	tokens uint64
	prefix string
}

// NewSequentialIDs creates a generator. Tokens are "<prefix>-<n>"; an empty
// prefix selects "tok".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "tok"
	}
	return &SequentialIDs{prefix: prefix}
}

// NextID returns 00000000-0000-0000-0000-000000000001, ...002 and so on.
func (g *SequentialIDs) NextID() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids++
	var id uuid.UUID
	for i := 0; i < 8; i++ {
		id[15-i] = byte(g.ids >> (8 * i))
	}
	return id
}

// Token returns the next session token. Its signature matches the token
// generator option of the registry.
func (g *SequentialIDs) Token() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens++
	return fmt.Sprintf("%s-%d", g.prefix, g.tokens), nil
}
