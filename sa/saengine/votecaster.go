package saengine

import (
	"context"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// VoteCaster builds and signs the local provisioner's votes
// for iterations that have already passed.
type VoteCaster interface {
	// ValidationVote verifies candidate and returns the signed Validation vote on it.
	ValidationVote(ctx context.Context, ru saconsensus.RoundUpdate, candidate saconsensus.Block) (saconsensus.Message, error)

	// RatificationVote returns the signed Ratification vote for a validation result.
	RatificationVote(
		ctx context.Context,
		ru saconsensus.RoundUpdate,
		iteration uint8,
		result saconsensus.ValidationResult,
	) (saconsensus.Message, error)
}
