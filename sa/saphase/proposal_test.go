package saphase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gordian-engine/gsa/internal/gtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/saphase"
	"github.com/stretchr/testify/require"
)

type staticTxs [][]byte

func (s staticTxs) Txs(context.Context, uint64, uint8) ([][]byte, error) {
	if s == nil {
		return nil, errors.New("no transactions available")
	}
	return s, nil
}

func TestProposal_generatorCandidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := saconsensustest.NewFixture(4)
	committee := fx.Committee(2)

	p := saphase.NewProposal(gtest.NewLogger(t), staticTxs{[]byte("a"), []byte("b")})

	ru := fx.RoundUpdate(2)
	st := saconsensus.StepStart{
		RoundUpdate: ru,
		Iteration:   1,
		Step:        saconsensus.StepProposal,
		Committee:   committee,
		Generator:   fx.PubKey(2),
	}
	msg, ok := p.StartStep(ctx, st)
	require.True(t, ok)

	b := msg.Payload.(saconsensus.Candidate).Block
	require.Len(t, b.Txs, 2)
	require.Equal(t, fx.Round, b.Header.Height)
	require.True(t, b.Header.Generator.Equal(fx.PubKey(2)))

	observer := fx.RoundUpdate(-1)
	require.NoError(t, p.IsValid(msg, observer, 1, saconsensus.StepProposal, committee, nil))

	out, err := p.Collect(ctx, msg, observer, committee, fx.PubKey(2), nil)
	require.NoError(t, err)
	require.True(t, out.Ready)
	require.Equal(t, msg, out.Msg)

	// Only the generator proposes.
	st.RoundUpdate = fx.RoundUpdate(1)
	_, ok = p.StartStep(ctx, st)
	require.False(t, ok)

	_, ok = p.HandleTimeout(ru, 1)
	require.False(t, ok)
}

func TestProposal_emptyOnTxError(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(2)
	p := saphase.NewProposal(gtest.NewLogger(t), staticTxs(nil))

	msg, ok := p.StartStep(context.Background(), saconsensus.StepStart{
		RoundUpdate: fx.RoundUpdate(0),
		Step:        saconsensus.StepProposal,
		Committee:   fx.Committee(0),
		Generator:   fx.PubKey(0),
	})
	require.True(t, ok)
	require.Empty(t, msg.Payload.(saconsensus.Candidate).Block.Txs)
}

func TestProposal_rejectsNonGenerator(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := saconsensustest.NewFixture(4)
	committee := fx.Committee(0)
	ru := fx.RoundUpdate(-1)
	p := saphase.NewProposal(gtest.NewLogger(t), nil)

	cand := fx.Candidate(0, 1)

	err := p.IsValid(cand, ru, 0, saconsensus.StepProposal, committee, nil)
	var ng saconsensus.NotGeneratorError
	require.ErrorAs(t, err, &ng)

	_, err = p.CollectFromPast(ctx, cand, committee, nil)
	require.ErrorAs(t, err, &ng)

	out, err := p.CollectFromPast(ctx, fx.Candidate(0, 0), committee, nil)
	require.NoError(t, err)
	require.True(t, out.Ready)

	err = p.IsValid(fx.Validation(0, 0, saconsensus.NoCandidateVote()), ru, 0, saconsensus.StepProposal, committee, nil)
	require.ErrorIs(t, err, saconsensus.ErrFutureEvent)
}
