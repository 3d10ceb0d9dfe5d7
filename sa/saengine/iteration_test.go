package saengine_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gsa/internal/gtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/gordian-engine/gsa/sa/saengine/saenginetest"
	"github.com/stretchr/testify/require"
)

func TestIterationCtx_OnBegin(t *testing.T) {
	t.Parallel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)

	_, ok := ic.Generator(0)
	require.False(t, ok)

	ic.OnBegin(0)
	require.Zero(t, ic.Iteration())
	require.Equal(t, 3, ic.Committees().Len())

	gen, ok := ic.Generator(0)
	require.True(t, ok)
	require.NotEqual(t, -1, efx.SignerIndex(gen))

	// Deriving a later iteration early does not move the current iteration.
	ic.GenerateIterationCommittees(2)
	require.Equal(t, 6, ic.Committees().Len())
	require.Zero(t, ic.Iteration())

	ic.OnBegin(2)
	require.Equal(t, uint8(2), ic.Iteration())
	require.Equal(t, 6, ic.Committees().Len())
}

func TestIterationCtx_timeouts(t *testing.T) {
	t.Parallel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)

	var s saengine.LinearTimeoutStrategy
	require.Equal(t, s.StepTimeout(saconsensus.StepRatification, 0), ic.GetTimeout(saconsensus.StepRatification))

	ic.OnTimeoutEvent(saconsensus.StepRatification)
	ic.OnTimeoutEvent(saconsensus.StepRatification)

	require.Equal(t, s.StepTimeout(saconsensus.StepRatification, 2), ic.GetTimeout(saconsensus.StepRatification))
	require.Equal(t, s.StepTimeout(saconsensus.StepProposal, 0), ic.GetTimeout(saconsensus.StepProposal))
}

func TestIterationCtx_ProcessPastMsg(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)

	vote := efx.Cons.Validation(1, 0, saconsensus.NoCandidateVote())

	// No committee for the message's step yet.
	_, ok := ic.ProcessPastMsg(ctx, vote)
	require.False(t, ok)
	require.Empty(t, efx.Validation.CollectedFromPast())

	ic.OnBegin(0)

	result := efx.Cons.ValidationResult(0, saconsensus.NoCandidateVote())
	efx.Validation.CollectFromPastFunc = func(saconsensus.Message) saconsensus.StepOutcome {
		return saconsensus.Ready(result)
	}

	got, ok := ic.ProcessPastMsg(ctx, vote)
	require.True(t, ok)
	require.Equal(t, result, got)

	vq := efx.Cons.ValidationQuorum(0, saconsensus.NoCandidateVote())
	_, ok = ic.ProcessPastMsg(ctx, vq)
	require.True(t, ok)
	require.Equal(t, []saconsensus.Message{vote, vq}, efx.Validation.CollectedFromPast())

	rat := efx.Cons.Ratification(1, 0, saconsensus.NoCandidateVote())
	_, ok = ic.ProcessPastMsg(ctx, rat)
	require.False(t, ok)
	require.Equal(t, []saconsensus.Message{rat}, efx.Ratification.CollectedFromPast())

	gen, _ := ic.Generator(0)
	cand := efx.Cons.Candidate(0, efx.SignerIndex(gen))
	_, ok = ic.ProcessPastMsg(ctx, cand)
	require.False(t, ok)
	require.Equal(t, []saconsensus.Message{cand}, efx.Proposal.CollectedFromPast())

	// Quorums are never collected from the past.
	_, ok = ic.ProcessPastMsg(ctx, efx.Cons.FailQuorum(0))
	require.False(t, ok)
}
