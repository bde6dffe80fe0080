package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/garland/internal/engine"
)

var _ engine.TokenGenerator = (*FixedTokenGenerator)(nil)

func TestFixedTokenGenerator(t *testing.T) {
	gen := NewFixedTokenGenerator("trace-0001")

	// Every call answers with the same token.
	for i := 0; i < 5; i++ {
		assert.Equal(t, "trace-0001", gen.Generate())
	}
}

func TestFixedTokenGeneratorDefault(t *testing.T) {
	gen := NewFixedTokenGenerator("")
	assert.Equal(t, "test-token-default", gen.Generate())
	assert.Equal(t, gen.Generate(), gen.Generate())
}
