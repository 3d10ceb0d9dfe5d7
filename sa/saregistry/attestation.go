// Package saregistry holds the in-memory registries of a consensus session:
// Fail attestations by iteration, and messages deferred to a future step.
package saregistry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// StoredAttestation is a Fail attestation together with the generator
// of the iteration it failed.
type StoredAttestation struct {
	Att       saconsensus.Attestation
	Generator gcrypto.PubKey
}

// AttestationRegistry records the Fail attestation of each iteration of a round.
// The first attestation stored for an iteration is kept.
//
// AttestationRegistry is safe for concurrent use.
type AttestationRegistry struct {
	round uint64

	mu     sync.Mutex
	byIter map[uint8]StoredAttestation
}

func NewAttestationRegistry(round uint64) *AttestationRegistry {
	return &AttestationRegistry{
		round:  round,
		byIter: make(map[uint8]StoredAttestation),
	}
}

// Round returns the round this registry belongs to.
func (r *AttestationRegistry) Round() uint64 {
	return r.round
}

// SetAttestation stores att for iteration unless one is already present,
// and reports whether it was stored.
//
// The generator of the failed iteration is part of the record;
// SetAttestation panics if it is nil, as every iteration that can produce
// a quorum must have had its committees derived.
func (r *AttestationRegistry) SetAttestation(iteration uint8, att saconsensus.Attestation, generator gcrypto.PubKey) bool {
	if generator == nil {
		panic(fmt.Errorf(
			"BUG: cannot store attestation for round %d iteration %d without a resolved generator",
			r.round, iteration,
		))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byIter[iteration]; ok {
		return false
	}
	r.byIter[iteration] = StoredAttestation{Att: att, Generator: generator}
	return true
}

// FailAttestation returns the attestation stored for iteration.
func (r *AttestationRegistry) FailAttestation(iteration uint8) (StoredAttestation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa, ok := r.byIter[iteration]
	return sa, ok
}

// FailedIterations returns the attestation of each iteration before upTo,
// with a nil entry where no attestation is known.
// Block generators include this list in their candidates.
func (r *AttestationRegistry) FailedIterations(upTo uint8) []*StoredAttestation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*StoredAttestation, upTo)
	for i := range out {
		if sa, ok := r.byIter[uint8(i)]; ok {
			out[i] = &sa
		}
	}
	return out
}

// Iterations returns the iterations with a stored attestation, in ascending order.
func (r *AttestationRegistry) Iterations() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint8, 0, len(r.byIter))
	for i := range r.byIter {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
