package mtest

import (
	"crypto/sha256"
	"math/rand/v2"
	"testing"
)

// RandomValuesForTest returns n distinct pseudorandom uint64 values
// derived from a seed based on the test name,
// so a failing test reproduces with the same inputs.
func RandomValuesForTest(t testing.TB, n int) []uint64 {
	// Sha256 happens to be the right size for the chacha8 seed,
	// and we are not limited by the length of any particular test name.
	seed := sha256.Sum256([]byte(t.Name()))
	rng := rand.New(rand.NewChaCha8(seed))

	seen := make(map[uint64]struct{}, n)
	out := make([]uint64, 0, n)
	for len(out) < n {
		v := rng.Uint64()
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}
