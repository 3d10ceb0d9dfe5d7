package saconsensus

import "fmt"

// VoteKind discriminates the variants of [Vote].
type VoteKind uint8

const (
	VoteNoCandidate VoteKind = iota
	VoteValid
	VoteInvalid
	VoteNoQuorum
)

func (k VoteKind) String() string {
	switch k {
	case VoteNoCandidate:
		return "NoCandidate"
	case VoteValid:
		return "Valid"
	case VoteInvalid:
		return "Invalid"
	case VoteNoQuorum:
		return "NoQuorum"
	default:
		return fmt.Sprintf("VoteKind(%d)", uint8(k))
	}
}

// Vote is a committee member's opinion on an iteration's candidate.
// Hash is only meaningful for Valid and Invalid votes.
type Vote struct {
	Kind VoteKind
	Hash Hash
}

func ValidVote(h Hash) Vote   { return Vote{Kind: VoteValid, Hash: h} }
func InvalidVote(h Hash) Vote { return Vote{Kind: VoteInvalid, Hash: h} }
func NoCandidateVote() Vote   { return Vote{Kind: VoteNoCandidate} }
func NoQuorumVote() Vote      { return Vote{Kind: VoteNoQuorum} }

func (v Vote) String() string {
	switch v.Kind {
	case VoteValid, VoteInvalid:
		return fmt.Sprintf("%s(%x)", v.Kind, v.Hash[:4])
	default:
		return v.Kind.String()
	}
}

// QuorumType is the outcome of the Validation step.
type QuorumType uint8

const (
	QuorumValid QuorumType = iota
	QuorumInvalid
	QuorumNoCandidate
	QuorumNoQuorum
)

func (q QuorumType) String() string {
	switch q {
	case QuorumValid:
		return "Valid"
	case QuorumInvalid:
		return "Invalid"
	case QuorumNoCandidate:
		return "NoCandidate"
	case QuorumNoQuorum:
		return "NoQuorum"
	default:
		return fmt.Sprintf("QuorumType(%d)", uint8(q))
	}
}

// QuorumTypeFor returns the quorum type reached when enough votes agree on v.
func QuorumTypeFor(v Vote) QuorumType {
	switch v.Kind {
	case VoteValid:
		return QuorumValid
	case VoteInvalid:
		return QuorumInvalid
	case VoteNoCandidate:
		return QuorumNoCandidate
	default:
		return QuorumNoQuorum
	}
}

// StepVotes is the aggregated evidence of a single step's votes.
// Bit i of Bitset is set when the i'th committee member's signature is included.
type StepVotes struct {
	Bitset             uint64
	AggregateSignature []byte
}

func (sv StepVotes) IsEmpty() bool {
	return sv.Bitset == 0 && len(sv.AggregateSignature) == 0
}

// ValidationResult is the result of the Validation step,
// carried forward into the Ratification step.
type ValidationResult struct {
	Quorum    QuorumType
	Vote      Vote
	StepVotes StepVotes
}

// RatificationKind is either Success or Fail.
type RatificationKind uint8

const (
	RatificationFail RatificationKind = iota
	RatificationSuccess
)

// RatificationResult is the outcome of an iteration.
// Only a Valid vote can succeed.
type RatificationResult struct {
	Kind RatificationKind
	Vote Vote
}

// NewRatificationResult returns Success for Valid votes and Fail otherwise.
func NewRatificationResult(v Vote) RatificationResult {
	if v.Kind == VoteValid {
		return RatificationResult{Kind: RatificationSuccess, Vote: v}
	}
	return RatificationResult{Kind: RatificationFail, Vote: v}
}

func (r RatificationResult) IsSuccess() bool {
	return r.Kind == RatificationSuccess
}

func (r RatificationResult) String() string {
	if r.IsSuccess() {
		return "Success(" + r.Vote.String() + ")"
	}
	return "Fail(" + r.Vote.String() + ")"
}

// Attestation is the proof that an iteration finished with a quorum.
type Attestation struct {
	Result RatificationResult

	Validation   StepVotes
	Ratification StepVotes
}
