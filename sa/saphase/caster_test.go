package saphase_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/saphase"
	"github.com/stretchr/testify/require"
)

func TestCaster(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := saconsensustest.NewFixture(3)
	ru := fx.RoundUpdate(1)

	var c saphase.Caster

	b := fx.Block(4, 0)
	msg, err := c.ValidationVote(ctx, ru, b)
	require.NoError(t, err)
	require.NoError(t, msg.VerifySignature())
	require.Equal(t, uint8(4), msg.Header.Iteration)
	require.Equal(t, saconsensus.ValidVote(b.Hash()), msg.Payload.(saconsensus.Validation).Vote)

	other := b
	other.Header.PrevBlockHash = saconsensus.Hash{0x99}
	msg, err = c.ValidationVote(ctx, ru, other)
	require.NoError(t, err)
	require.Equal(t, saconsensus.VoteInvalid, msg.Payload.(saconsensus.Validation).Vote.Kind)

	result := saconsensus.ValidationResult{Quorum: saconsensus.QuorumValid, Vote: saconsensus.ValidVote(b.Hash())}
	msg, err = c.RatificationVote(ctx, ru, 4, result)
	require.NoError(t, err)
	require.NoError(t, msg.VerifySignature())
	require.Equal(t, result.Vote, msg.Payload.(saconsensus.Ratification).Vote)

	_, err = c.RatificationVote(ctx, fx.RoundUpdate(-1), 4, result)
	require.ErrorIs(t, err, saconsensus.ErrNoSigner)
}
