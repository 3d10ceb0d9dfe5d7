package sacommittee

import (
	"sync"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Sizes is the number of credits distributed to each step's committee.
type Sizes struct {
	Proposal     uint32
	Validation   uint32
	Ratification uint32
}

// DefaultSizes returns the standard committee sizes:
// a single generator, and 64 credits for each voting committee.
func DefaultSizes() Sizes {
	return Sizes{
		Proposal:     1,
		Validation:   64,
		Ratification: 64,
	}
}

// RoundCommittees caches the committees derived during a round, keyed by step index.
// A committee is never replaced once stored.
//
// RoundCommittees is safe for concurrent use.
type RoundCommittees struct {
	mu         sync.RWMutex
	committees map[uint16]saconsensus.Committee
}

func NewRoundCommittees() *RoundCommittees {
	return &RoundCommittees{
		committees: make(map[uint16]saconsensus.Committee),
	}
}

// Committee returns the committee for step, if it has been derived.
func (rc *RoundCommittees) Committee(step uint16) (saconsensus.Committee, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	c, ok := rc.committees[step]
	return c, ok
}

// Insert stores c for step unless a committee is already present,
// and reports whether c was stored.
func (rc *RoundCommittees) Insert(step uint16, c saconsensus.Committee) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, ok := rc.committees[step]; ok {
		return false
	}
	rc.committees[step] = c
	return true
}

// Len returns the number of cached committees.
func (rc *RoundCommittees) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.committees)
}

// Generator returns the block generator of iteration,
// which is the sole member of the iteration's Proposal committee.
// It reports false if that committee has not been derived or is empty.
func (rc *RoundCommittees) Generator(iteration uint8) (gcrypto.PubKey, bool) {
	c, ok := rc.Committee(saconsensus.StepProposal.ToStep(iteration))
	if !ok || c.Size() == 0 {
		return nil, false
	}
	return c.Members()[0].PubKey, true
}

// GenerateIteration derives the three committees of iteration that are not yet cached.
// The iteration's generator is excluded from its voting committees.
// It returns the number of committees derived,
// so a repeated call for the same iteration returns zero.
func (rc *RoundCommittees) GenerateIteration(
	s Sortition,
	sizes Sizes,
	provs *saconsensus.Provisioners,
	round uint64,
	seed []byte,
	iteration uint8,
) int {
	eligibles := provs.Eligibles(round)
	derived := 0

	propStep := saconsensus.StepProposal.ToStep(iteration)
	if _, ok := rc.Committee(propStep); !ok {
		c := s.Derive(SortitionConfig{
			Seed: seed, Round: round, Step: propStep, Credits: sizes.Proposal,
		}, eligibles)
		if rc.Insert(propStep, c) {
			derived++
		}
	}

	var exclude []gcrypto.PubKey
	if gen, ok := rc.Generator(iteration); ok {
		exclude = []gcrypto.PubKey{gen}
	}

	for _, sc := range []struct {
		name    saconsensus.StepName
		credits uint32
	}{
		{name: saconsensus.StepValidation, credits: sizes.Validation},
		{name: saconsensus.StepRatification, credits: sizes.Ratification},
	} {
		step := sc.name.ToStep(iteration)
		if _, ok := rc.Committee(step); ok {
			continue
		}
		c := s.Derive(SortitionConfig{
			Seed: seed, Round: round, Step: step, Credits: sc.credits, Exclude: exclude,
		}, eligibles)
		if rc.Insert(step, c) {
			derived++
		}
	}

	return derived
}
