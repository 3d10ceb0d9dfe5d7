// Package sacommittee derives the committees of each step
// and caches them for the lifetime of a round.
package sacommittee

import (
	"encoding/binary"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/zeebo/blake3"
)

// SortitionConfig is the input for deriving a single step's committee.
type SortitionConfig struct {
	Seed    []byte
	Round   uint64
	Step    uint16
	Credits uint32

	// Exclude lists provisioners that must not be selected,
	// unless excluding them would leave no candidates.
	Exclude []gcrypto.PubKey
}

// Sortition derives a committee deterministically.
// Identical inputs must always produce identical committees.
type Sortition interface {
	Derive(cfg SortitionConfig, eligibles []saconsensus.Provisioner) saconsensus.Committee
}

// StakeSortition assigns each credit to a provisioner with probability
// proportional to its stake.
// The draw for credit i is BLAKE3(seed || round || step || i),
// reduced modulo the total stake and mapped onto the cumulative stake of the
// provisioners in the order given.
type StakeSortition struct{}

func (StakeSortition) Derive(cfg SortitionConfig, eligibles []saconsensus.Provisioner) saconsensus.Committee {
	candidates := excluding(eligibles, cfg.Exclude)
	if len(candidates) == 0 {
		candidates = eligibles
	}

	var totalStake uint64
	for _, p := range candidates {
		totalStake += p.Stake
	}
	if totalStake == 0 || cfg.Credits == 0 {
		return saconsensus.Committee{}
	}

	members := make([]saconsensus.CommitteeMember, 0, cfg.Credits)
	for i := uint32(0); i < cfg.Credits; i++ {
		target := draw(cfg, i) % totalStake

		for _, p := range candidates {
			if target < p.Stake {
				members = append(members, saconsensus.CommitteeMember{PubKey: p.PubKey, Credits: 1})
				break
			}
			target -= p.Stake
		}
	}

	return saconsensus.NewCommittee(members)
}

func draw(cfg SortitionConfig, credit uint32) uint64 {
	h := blake3.New()
	_, _ = h.Write(cfg.Seed)

	var buf [8 + 2 + 4]byte
	binary.BigEndian.PutUint64(buf[0:8], cfg.Round)
	binary.BigEndian.PutUint16(buf[8:10], cfg.Step)
	binary.BigEndian.PutUint32(buf[10:14], credit)
	_, _ = h.Write(buf[:])

	var out [32]byte
	h.Sum(out[:0])
	return binary.BigEndian.Uint64(out[:8])
}

func excluding(ps []saconsensus.Provisioner, exclude []gcrypto.PubKey) []saconsensus.Provisioner {
	if len(exclude) == 0 {
		return ps
	}

	out := make([]saconsensus.Provisioner, 0, len(ps))
outer:
	for _, p := range ps {
		for _, ex := range exclude {
			if ex != nil && p.PubKey.Equal(ex) {
				continue outer
			}
		}
		out = append(out, p)
	}
	return out
}
