package saphase

import (
	"context"
	"log/slog"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/internal/glog"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Validation is the handler of the Validation step.
// It completes the step with a [saconsensus.ValidationResult]
// once one vote reaches its quorum,
// or when a verified ValidationQuorum for the step arrives.
type Validation struct {
	log *slog.Logger

	tallies tallies

	// Iterations in which the local provisioner has voted.
	voted   map[uint8]bool
	round   uint64
	members map[uint8]saconsensus.Committee
}

func NewValidation(log *slog.Logger) *Validation {
	return &Validation{log: log}
}

func (v *Validation) IsValid(
	msg saconsensus.Message,
	ru saconsensus.RoundUpdate,
	iteration uint8,
	step saconsensus.StepName,
	committee saconsensus.Committee,
	_ saconsensus.CommitteeSet,
) error {
	if err := saconsensus.CheckTiming(msg, ru, iteration, step); err != nil {
		return err
	}
	return verifyValidationMsg(msg, committee)
}

func verifyValidationMsg(msg saconsensus.Message, committee saconsensus.Committee) error {
	switch p := msg.Payload.(type) {
	case saconsensus.Validation:
		if msg.Signer == nil {
			return saconsensus.ErrNoSigner
		}
		if !committee.IsMember(msg.Signer) {
			return saconsensus.NotCommitteeMemberError{Signer: msg.Signer}
		}
		return msg.VerifySignature()

	case saconsensus.ValidationQuorum:
		return verifyStepVotes(
			committee, p.Result.Vote, p.Result.StepVotes,
			saconsensus.VoteSignBytes(msg.Header, saconsensus.TopicValidation, p.Result.Vote),
		)

	default:
		return saconsensus.UnexpectedTopicError{Want: saconsensus.TopicValidation, Got: msg.Topic()}
	}
}

func (v *Validation) Collect(
	_ context.Context,
	msg saconsensus.Message,
	_ saconsensus.RoundUpdate,
	committee saconsensus.Committee,
	_ gcrypto.PubKey,
	_ saconsensus.CommitteeSet,
) (saconsensus.StepOutcome, error) {
	return v.collect(msg, committee)
}

func (v *Validation) CollectFromPast(
	_ context.Context,
	msg saconsensus.Message,
	committee saconsensus.Committee,
	_ gcrypto.PubKey,
) (saconsensus.StepOutcome, error) {
	if err := verifyValidationMsg(msg, committee); err != nil {
		return saconsensus.Pending(), err
	}
	return v.collect(msg, committee)
}

func (v *Validation) collect(msg saconsensus.Message, committee saconsensus.Committee) (saconsensus.StepOutcome, error) {
	if vq, ok := msg.Payload.(saconsensus.ValidationQuorum); ok {
		return saconsensus.Ready(saconsensus.Message{Header: msg.Header, Payload: vq.Result}), nil
	}

	vote := msg.Payload.(saconsensus.Validation).Vote

	sv, done, err := v.tallies.For(msg.Header.Round, msg.Header.Iteration).Add(
		committee, msg.Signer, vote, msg.Signature,
	)
	if err != nil || !done {
		return saconsensus.Pending(), err
	}

	glog.RI(v.log, msg.Header.Round, msg.Header.Iteration).Info(
		"Validation quorum reached", "vote", vote,
	)
	return saconsensus.Ready(saconsensus.Message{
		Header: msg.Header,
		Payload: saconsensus.ValidationResult{
			Quorum:    saconsensus.QuorumTypeFor(vote),
			Vote:      vote,
			StepVotes: sv,
		},
	}), nil
}

// HandleTimeout votes NoCandidate if the local member has not voted in iteration.
func (v *Validation) HandleTimeout(ru saconsensus.RoundUpdate, iteration uint8) (saconsensus.Message, bool) {
	committee, ok := v.localCommittee(ru, iteration)
	if !ok || !isLocalMember(ru, committee) {
		return saconsensus.Message{}, false
	}
	return v.vote(context.Background(), ru, iteration, saconsensus.NoCandidateVote())
}

// StartStep casts the local Validation vote on the candidate carried in st.Prev,
// or a NoCandidate vote when the Proposal step produced none.
func (v *Validation) StartStep(ctx context.Context, st saconsensus.StepStart) (saconsensus.Message, bool) {
	// Every attempt at a round, including a retry of the same round, begins at iteration 0.
	if v.round != st.RoundUpdate.Round || v.members == nil || st.Iteration == 0 {
		v.round = st.RoundUpdate.Round
		v.members = make(map[uint8]saconsensus.Committee)
		v.voted = make(map[uint8]bool)
	}
	v.members[st.Iteration] = st.Committee

	if !isLocalMember(st.RoundUpdate, st.Committee) {
		return saconsensus.Message{}, false
	}

	vote := saconsensus.NoCandidateVote()
	if c, ok := st.Prev.Payload.(saconsensus.Candidate); ok {
		vote = judgeCandidate(st.RoundUpdate, c.Block)
	}
	return v.vote(ctx, st.RoundUpdate, st.Iteration, vote)
}

func (v *Validation) localCommittee(ru saconsensus.RoundUpdate, iteration uint8) (saconsensus.Committee, bool) {
	if v.round != ru.Round {
		return saconsensus.Committee{}, false
	}
	c, ok := v.members[iteration]
	return c, ok
}

func (v *Validation) vote(
	ctx context.Context, ru saconsensus.RoundUpdate, iteration uint8, vote saconsensus.Vote,
) (saconsensus.Message, bool) {
	if v.voted[iteration] {
		return saconsensus.Message{}, false
	}
	v.voted[iteration] = true

	msg, err := signLocal(ctx, ru, iteration, saconsensus.Validation{Vote: vote})
	if err != nil {
		glog.RIE(v.log, ru.Round, iteration, err).Warn("Failed to sign validation vote")
		return saconsensus.Message{}, false
	}
	return msg, true
}
