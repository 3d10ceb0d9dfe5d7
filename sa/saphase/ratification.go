package saphase

import (
	"context"
	"log/slog"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/internal/glog"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Ratification is the handler of the Ratification step.
// Once one vote reaches its quorum, it completes the step with a Quorum message
// whose attestation carries both the validation and ratification step votes.
type Ratification struct {
	log *slog.Logger

	tallies tallies

	voted   map[uint8]bool
	round   uint64
	members map[uint8]saconsensus.Committee
}

func NewRatification(log *slog.Logger) *Ratification {
	return &Ratification{log: log}
}

func (r *Ratification) IsValid(
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
	return verifyRatificationMsg(msg, committee)
}

func verifyRatificationMsg(msg saconsensus.Message, committee saconsensus.Committee) error {
	if msg.Topic() != saconsensus.TopicRatification {
		return saconsensus.UnexpectedTopicError{Want: saconsensus.TopicRatification, Got: msg.Topic()}
	}
	if msg.Signer == nil {
		return saconsensus.ErrNoSigner
	}
	if !committee.IsMember(msg.Signer) {
		return saconsensus.NotCommitteeMemberError{Signer: msg.Signer}
	}
	return msg.VerifySignature()
}

func (r *Ratification) Collect(
	_ context.Context,
	msg saconsensus.Message,
	_ saconsensus.RoundUpdate,
	committee saconsensus.Committee,
	_ gcrypto.PubKey,
	_ saconsensus.CommitteeSet,
) (saconsensus.StepOutcome, error) {
	return r.collect(msg, committee)
}

func (r *Ratification) CollectFromPast(
	_ context.Context,
	msg saconsensus.Message,
	committee saconsensus.Committee,
	_ gcrypto.PubKey,
) (saconsensus.StepOutcome, error) {
	if err := verifyRatificationMsg(msg, committee); err != nil {
		return saconsensus.Pending(), err
	}
	return r.collect(msg, committee)
}

func (r *Ratification) collect(msg saconsensus.Message, committee saconsensus.Committee) (saconsensus.StepOutcome, error) {
	p := msg.Payload.(saconsensus.Ratification)

	sv, done, err := r.tallies.For(msg.Header.Round, msg.Header.Iteration).Add(
		committee, msg.Signer, p.Vote, msg.Signature,
	)
	if err != nil || !done {
		return saconsensus.Pending(), err
	}

	att := saconsensus.Attestation{
		Result:       saconsensus.NewRatificationResult(p.Vote),
		Validation:   p.ValidationResult.StepVotes,
		Ratification: sv,
	}

	glog.RI(r.log, msg.Header.Round, msg.Header.Iteration).Info(
		"Ratification quorum reached", "result", att.Result,
	)
	return saconsensus.Ready(saconsensus.Message{
		Header:  msg.Header,
		Payload: saconsensus.Quorum{Att: att},
	}), nil
}

// HandleTimeout votes NoQuorum if the local member has not voted in iteration.
func (r *Ratification) HandleTimeout(ru saconsensus.RoundUpdate, iteration uint8) (saconsensus.Message, bool) {
	if r.round != ru.Round {
		return saconsensus.Message{}, false
	}
	committee, ok := r.members[iteration]
	if !ok || !isLocalMember(ru, committee) {
		return saconsensus.Message{}, false
	}
	return r.vote(context.Background(), ru, iteration, saconsensus.ValidationResult{Quorum: saconsensus.QuorumNoQuorum})
}

// StartStep ratifies the validation result carried in st.Prev.
// Without one, the local member votes NoQuorum.
func (r *Ratification) StartStep(ctx context.Context, st saconsensus.StepStart) (saconsensus.Message, bool) {
	// Every attempt at a round, including a retry of the same round, begins at iteration 0.
	if r.round != st.RoundUpdate.Round || r.members == nil || st.Iteration == 0 {
		r.round = st.RoundUpdate.Round
		r.members = make(map[uint8]saconsensus.Committee)
		r.voted = make(map[uint8]bool)
	}
	r.members[st.Iteration] = st.Committee

	if !isLocalMember(st.RoundUpdate, st.Committee) {
		return saconsensus.Message{}, false
	}

	result := saconsensus.ValidationResult{Quorum: saconsensus.QuorumNoQuorum}
	if vr, ok := st.Prev.Payload.(saconsensus.ValidationResult); ok {
		result = vr
	}
	return r.vote(ctx, st.RoundUpdate, st.Iteration, result)
}

func (r *Ratification) vote(
	ctx context.Context, ru saconsensus.RoundUpdate, iteration uint8, result saconsensus.ValidationResult,
) (saconsensus.Message, bool) {
	if r.voted[iteration] {
		return saconsensus.Message{}, false
	}
	r.voted[iteration] = true

	msg, err := signLocal(ctx, ru, iteration, saconsensus.Ratification{
		Vote:             ratificationVote(result),
		ValidationResult: result,
	})
	if err != nil {
		glog.RIE(r.log, ru.Round, iteration, err).Warn("Failed to sign ratification vote")
		return saconsensus.Message{}, false
	}
	return msg, true
}
