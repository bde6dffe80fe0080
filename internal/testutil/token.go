package testutil

// FixedTokenGenerator hands out one trace token, forever. Golden-file
// scenarios need the token in the journal to be the token in the file,
// so the generator takes it up front instead of minting fresh ones.
//
// engine.FixedGenerator walks a list and panics at the end; this one
// never runs out, which suits scenarios where every step shares a
// single trace.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator returns a generator pinned to token. An empty
// token falls back to "test-token-default" so a scenario without an
// explicit token still journals deterministically.
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-token-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate implements engine.TokenGenerator.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
