// Package txgen produces the opaque correlation tokens stamped onto every
// outbound request. Generator is an interface, so other implementations
// (such as a deterministic test sequence) satisfy it. The ws and rest
// transports always build a RandomGenerator from the configured length;
// neither accepts another Generator, so UUIDGenerator is not used by them.
package txgen

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// Generator produces a fresh transaction token on demand. No state is
// shared across connections; each Connection owns its own Generator.
type Generator interface {
	Generate() string
}

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomGenerator samples uniformly from [A-Za-z0-9] at a fixed length.
// This is the default generator (§4.A), with a default length of 12.
type RandomGenerator struct {
	Length int
}

// NewRandomGenerator returns a RandomGenerator of the given length, falling
// back to 12 if length is non-positive.
func NewRandomGenerator(length int) *RandomGenerator {
	if length <= 0 {
		length = 12
	}
	return &RandomGenerator{Length: length}
}

// Generate returns a fresh random alphanumeric token.
func (g *RandomGenerator) Generate() string {
	out := make([]byte, g.Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand.Reader failing is a fatal system condition; fall
			// back to the first letter rather than panicking the caller.
			out[i] = alphabet[0]
			continue
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}

// UUIDGenerator produces RFC-4122 UUIDv4 strings. It is offered as an
// alternative to RandomGenerator for callers who want transaction ids that
// double as cross-system log correlation identifiers.
type UUIDGenerator struct{}

// NewUUIDGenerator returns a Generator backed by google/uuid.
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// Generate returns a fresh UUIDv4 string.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}
