package saconsensus

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/gordian-engine/gsa/gcrypto"
)

// Provisioner is a staked participant in consensus.
type Provisioner struct {
	PubKey gcrypto.PubKey
	Stake  uint64

	// EligibleSince is the first round in which the provisioner may sit on committees.
	EligibleSince uint64
}

// Provisioners is an immutable set of provisioners.
// It is safe for concurrent use.
type Provisioners struct {
	minStake uint64

	// Sorted by public key bytes, for deterministic sortition.
	ps    []Provisioner
	byKey map[string]int
}

// NewProvisioners returns a provisioner set.
// Provisioners with less than minStake are never eligible.
func NewProvisioners(minStake uint64, ps ...Provisioner) (*Provisioners, error) {
	sorted := slices.Clone(ps)
	slices.SortFunc(sorted, func(a, b Provisioner) int {
		return bytes.Compare(a.PubKey.PubKeyBytes(), b.PubKey.PubKeyBytes())
	})

	byKey := make(map[string]int, len(sorted))
	for i, p := range sorted {
		if p.PubKey == nil {
			return nil, fmt.Errorf("provisioner at index %d has no public key", i)
		}
		id := gcrypto.KeyID(p.PubKey)
		if _, ok := byKey[id]; ok {
			return nil, fmt.Errorf("duplicate provisioner %x", p.PubKey.PubKeyBytes())
		}
		byKey[id] = i
	}

	return &Provisioners{
		minStake: minStake,
		ps:       sorted,
		byKey:    byKey,
	}, nil
}

// Len returns the number of provisioners, eligible or not.
func (p *Provisioners) Len() int {
	return len(p.ps)
}

// All returns every provisioner in sortition order.
// The returned slice must not be modified.
func (p *Provisioners) All() []Provisioner {
	return p.ps
}

// Eligibles returns the provisioners eligible for committees in round,
// in sortition order.
func (p *Provisioners) Eligibles(round uint64) []Provisioner {
	out := make([]Provisioner, 0, len(p.ps))
	for _, pr := range p.ps {
		if p.eligible(pr, round) {
			out = append(out, pr)
		}
	}
	return out
}

// IsEligible reports whether pk is an eligible provisioner in round.
func (p *Provisioners) IsEligible(round uint64, pk gcrypto.PubKey) bool {
	if pk == nil {
		return false
	}
	i, ok := p.byKey[gcrypto.KeyID(pk)]
	if !ok {
		return false
	}
	return p.eligible(p.ps[i], round)
}

func (p *Provisioners) eligible(pr Provisioner, round uint64) bool {
	return pr.Stake > 0 && pr.Stake >= p.minStake && pr.EligibleSince <= round
}
