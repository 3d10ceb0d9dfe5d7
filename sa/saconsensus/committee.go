package saconsensus

import (
	"github.com/gordian-engine/gsa/gcrypto"
)

// MaxCommitteeMembers is the largest number of distinct members a committee may have,
// bounded by the width of [StepVotes.Bitset].
const MaxCommitteeMembers = 64

// CommitteeMember is a provisioner selected into a committee,
// weighted by the number of credits it won in sortition.
type CommitteeMember struct {
	PubKey  gcrypto.PubKey
	Credits uint32
}

// Committee is the immutable voting set for a single step.
// The zero Committee has no members.
type Committee struct {
	members []CommitteeMember
	index   map[string]int
	total   uint32
}

// NewCommittee returns a committee from members, in the given order.
// Repeated public keys have their credits merged into the first occurrence.
// NewCommittee panics if there are more than [MaxCommitteeMembers] distinct members.
func NewCommittee(members []CommitteeMember) Committee {
	c := Committee{
		members: make([]CommitteeMember, 0, len(members)),
		index:   make(map[string]int, len(members)),
	}

	for _, m := range members {
		if m.Credits == 0 {
			continue
		}
		id := gcrypto.KeyID(m.PubKey)
		if i, ok := c.index[id]; ok {
			c.members[i].Credits += m.Credits
		} else {
			c.index[id] = len(c.members)
			c.members = append(c.members, m)
		}
		c.total += m.Credits
	}

	if len(c.members) > MaxCommitteeMembers {
		panic("BUG: committee exceeds MaxCommitteeMembers distinct members")
	}

	return c
}

// Members returns the committee members in bit order.
// The returned slice must not be modified.
func (c Committee) Members() []CommitteeMember {
	return c.members
}

// Size is the number of distinct members.
func (c Committee) Size() int {
	return len(c.members)
}

// TotalCredits is the sum of all member credits.
func (c Committee) TotalCredits() uint32 {
	return c.total
}

// IsMember reports whether pk holds any credits in c.
func (c Committee) IsMember(pk gcrypto.PubKey) bool {
	if pk == nil {
		return false
	}
	_, ok := c.index[gcrypto.KeyID(pk)]
	return ok
}

// Credits returns the number of credits pk holds in c.
func (c Committee) Credits(pk gcrypto.PubKey) uint32 {
	if pk == nil {
		return 0
	}
	i, ok := c.index[gcrypto.KeyID(pk)]
	if !ok {
		return 0
	}
	return c.members[i].Credits
}

// Index returns the bit position of pk within c.
func (c Committee) Index(pk gcrypto.PubKey) (int, bool) {
	if pk == nil {
		return 0, false
	}
	i, ok := c.index[gcrypto.KeyID(pk)]
	return i, ok
}

// SuperMajorityQuorum is the credit threshold for a Valid quorum.
func (c Committee) SuperMajorityQuorum() uint32 {
	if c.total == 0 {
		return 0
	}
	return ByzantineMajority(c.total)
}

// MajorityQuorum is the credit threshold for a non-Valid quorum.
func (c Committee) MajorityQuorum() uint32 {
	if c.total == 0 {
		return 0
	}
	return Majority(c.total)
}

// CreditsForBits returns the total credits of members set in bits.
func (c Committee) CreditsForBits(bits uint64) uint32 {
	var total uint32
	for i, m := range c.members {
		if bits&(1<<uint(i)) != 0 {
			total += m.Credits
		}
	}
	return total
}

// KeysForBits returns the public keys of the members set in bits.
func (c Committee) KeysForBits(bits uint64) []gcrypto.PubKey {
	var out []gcrypto.PubKey
	for i, m := range c.members {
		if bits&(1<<uint(i)) != 0 {
			out = append(out, m.PubKey)
		}
	}
	return out
}

// CommitteeSet gives read access to the committees already derived for a round,
// keyed by step index.
type CommitteeSet interface {
	Committee(step uint16) (Committee, bool)
}
