package event

import (
	"sync"

	"github.com/google/uuid"
)

// ContextGenerator produces context IDs for fired events.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type ContextGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 context IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so context IDs
// sort by creation time, which keeps event logs legible when debugging.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined context IDs for deterministic tests.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
// Once the ids are exhausted it keeps returning the last one.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined context ID.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		return ""
	}
	if g.idx >= len(g.ids) {
		return g.ids[len(g.ids)-1]
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
