// Package gcryptotest holds deterministic keys for tests.
package gcryptotest

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/gordian-engine/gsa/gcrypto"
)

// DeterministicEd25519Signers returns n ed25519 signers
// whose keys are identical across test runs.
// Keys are cached, so repeated calls are cheap.
func DeterministicEd25519Signers(n int) []gcrypto.Ed25519Signer {
	return edCache.load(n)
}

// DeterministicBLSSigners returns n BLS signers
// whose keys are identical across test runs.
// BLS key generation is relatively slow,
// so the generated signers are cached for the lifetime of the test binary.
func DeterministicBLSSigners(n int) []gcrypto.BLSSigner {
	return blsCache.load(n)
}

// seed returns the 32-byte seed for the signer at index i.
func seed(kind string, i int) []byte {
	return []byte(fmt.Sprintf("%-8s%024d", kind, i))
}

var edCache = signerCache[gcrypto.Ed25519Signer]{
	gen: func(i int) gcrypto.Ed25519Signer {
		return gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed("ed25519", i)))
	},
}

var blsCache = signerCache[gcrypto.BLSSigner]{
	gen: func(i int) gcrypto.BLSSigner {
		s, err := gcrypto.NewBLSSignerFromSeed(seed("bls", i))
		if err != nil {
			panic(fmt.Errorf("BUG: generating deterministic BLS signer %d: %w", i, err))
		}
		return s
	},
}

type signerCache[S any] struct {
	mu      sync.Mutex
	signers []S

	gen func(int) S
}

func (c *signerCache[S]) load(n int) []S {
	c.mu.Lock()
	defer c.mu.Unlock()

	if have := len(c.signers); have < n {
		grown := make([]S, n)
		copy(grown, c.signers)

		// Generate the missing keys concurrently.
		var wg sync.WaitGroup
		for i := have; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				grown[i] = c.gen(i)
			}(i)
		}
		wg.Wait()

		c.signers = grown
	}

	out := make([]S, n)
	copy(out, c.signers)
	return out
}
