package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces trace tokens. A token names one dispatch trace:
// every call submitted under a token and every result the engine journals
// for it share that token, so a trace can be read back as a unit.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUID trace tokens. UUIDv7 sorts
// by creation time, which keeps journal listings readable.
type UUIDv7Generator struct{}

func (g *UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns tokens from a fixed list, in order. Tests use it
// to make trace tokens predictable. Panics when the list is exhausted.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next >= len(g.tokens) {
		panic(fmt.Sprintf("FixedGenerator exhausted after %d tokens", len(g.tokens)))
	}
	tok := g.tokens[g.next]
	g.next++
	return tok
}
