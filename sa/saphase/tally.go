package saphase

import (
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// voteTally accumulates the votes of a single step.
type voteTally struct {
	voted  map[string]struct{}
	byVote map[saconsensus.Vote]*voteSet
}

type voteSet struct {
	bits    uint64
	credits uint32
	sigs    [][]byte
}

func newVoteTally() *voteTally {
	return &voteTally{
		voted:  make(map[string]struct{}),
		byVote: make(map[saconsensus.Vote]*voteSet),
	}
}

// Add records signer's vote.
// It returns the aggregated StepVotes and true once the vote reaches its quorum threshold.
func (t *voteTally) Add(
	committee saconsensus.Committee,
	signer gcrypto.PubKey,
	vote saconsensus.Vote,
	sig []byte,
) (saconsensus.StepVotes, bool, error) {
	idx, ok := committee.Index(signer)
	if !ok {
		return saconsensus.StepVotes{}, false, saconsensus.NotCommitteeMemberError{Signer: signer}
	}

	id := gcrypto.KeyID(signer)
	if _, ok := t.voted[id]; ok {
		return saconsensus.StepVotes{}, false, saconsensus.ErrDuplicateVote
	}
	t.voted[id] = struct{}{}

	vs := t.byVote[vote]
	if vs == nil {
		vs = new(voteSet)
		t.byVote[vote] = vs
	}
	vs.bits |= 1 << uint(idx)
	vs.credits += committee.Credits(signer)
	vs.sigs = append(vs.sigs, sig)

	if vs.credits < quorumThreshold(committee, vote) {
		return saconsensus.StepVotes{}, false, nil
	}

	agg, err := gcrypto.AggregateBLSSignatures(vs.sigs)
	if err != nil {
		return saconsensus.StepVotes{}, false, fmt.Errorf("failed to aggregate %s votes: %w", vote, err)
	}
	return saconsensus.StepVotes{Bitset: vs.bits, AggregateSignature: agg}, true, nil
}

// quorumThreshold returns the credits needed for vote to reach a quorum.
// Only Valid votes need a super-majority.
func quorumThreshold(committee saconsensus.Committee, vote saconsensus.Vote) uint32 {
	if vote.Kind == saconsensus.VoteValid {
		return committee.SuperMajorityQuorum()
	}
	return committee.MajorityQuorum()
}

// verifyStepVotes checks that sv is a quorum of committee for the given signed bytes.
func verifyStepVotes(committee saconsensus.Committee, vote saconsensus.Vote, sv saconsensus.StepVotes, signBytes []byte) error {
	if sv.IsEmpty() {
		return fmt.Errorf("no votes for %s", vote)
	}

	if got, want := committee.CreditsForBits(sv.Bitset), quorumThreshold(committee, vote); got < want {
		return fmt.Errorf("insufficient credits for %s: have %d, need %d", vote, got, want)
	}

	if !gcrypto.VerifyBLSAggregate(signBytes, sv.AggregateSignature, committee.KeysForBits(sv.Bitset)) {
		return gcrypto.ErrInvalidSignature
	}
	return nil
}

// tallies holds one voteTally per iteration of a round.
type tallies struct {
	round  uint64
	byIter map[uint8]*voteTally
}

func (ts *tallies) For(round uint64, iteration uint8) *voteTally {
	if ts.byIter == nil || ts.round != round {
		ts.round = round
		ts.byIter = make(map[uint8]*voteTally)
	}

	t := ts.byIter[iteration]
	if t == nil {
		t = newVoteTally()
		ts.byIter[iteration] = t
	}
	return t
}
