package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_ProducesValidUUIDs(t *testing.T) {
	gen := &UUIDv7Generator{}

	tok := gen.Generate()
	parsed, err := uuid.Parse(tok)
	require.NoError(t, err, "token should be a parseable UUID")
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := &UUIDv7Generator{}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := gen.Generate()
		assert.False(t, seen[tok], "token %s generated twice", tok)
		seen[tok] = true
	}
}

func TestFixedGenerator_ReturnsTokensInOrder(t *testing.T) {
	gen := NewFixedGenerator("tok-1", "tok-2", "tok-3")

	assert.Equal(t, "tok-1", gen.Generate())
	assert.Equal(t, "tok-2", gen.Generate())
	assert.Equal(t, "tok-3", gen.Generate())
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator("only")
	gen.Generate()

	assert.Panics(t, func() { gen.Generate() })
}
