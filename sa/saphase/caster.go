package saphase

import (
	"context"
	"fmt"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Caster signs the local provisioner's votes for iterations that have already passed.
// It satisfies saengine.VoteCaster.
type Caster struct{}

func (Caster) ValidationVote(
	ctx context.Context, ru saconsensus.RoundUpdate, candidate saconsensus.Block,
) (saconsensus.Message, error) {
	msg, err := signLocal(ctx, ru, candidate.Header.Iteration, saconsensus.Validation{
		Vote: judgeCandidate(ru, candidate),
	})
	if err != nil {
		return saconsensus.Message{}, fmt.Errorf("failed to cast validation vote: %w", err)
	}
	return msg, nil
}

func (Caster) RatificationVote(
	ctx context.Context, ru saconsensus.RoundUpdate, iteration uint8, result saconsensus.ValidationResult,
) (saconsensus.Message, error) {
	msg, err := signLocal(ctx, ru, iteration, saconsensus.Ratification{
		Vote:             ratificationVote(result),
		ValidationResult: result,
	})
	if err != nil {
		return saconsensus.Message{}, fmt.Errorf("failed to cast ratification vote: %w", err)
	}
	return msg, nil
}
