// Package sacodectest contains compliance tests for [sacodec.MarshalCodec] implementations.
package sacodectest

import (
	"testing"

	"github.com/gordian-engine/gsa/sa/sacodec"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/stretchr/testify/require"
)

const determinismTries = 20

// MarshalCodecFactory returns a fresh codec for every subtest.
type MarshalCodecFactory func() sacodec.MarshalCodec

// TestMarshalCodecCompliance ensures the codec from mcf
// round-trips every consensus message topic and attestations,
// and that its output is deterministic.
func TestMarshalCodecCompliance(t *testing.T, mcf MarshalCodecFactory) {
	fx := saconsensustest.NewFixture(4)
	h := fx.Block(1, 0).Hash()

	withVotes := func(v saconsensus.Vote) saconsensus.ValidationResult {
		return saconsensus.ValidationResult{
			Quorum: saconsensus.QuorumTypeFor(v),
			Vote:   v,
			StepVotes: saconsensus.StepVotes{
				Bitset:             0b1011,
				AggregateSignature: []byte("aggregate-signature"),
			},
		}
	}

	emptyTxs := fx.Candidate(0, 1)
	c := emptyTxs.Payload.(saconsensus.Candidate)
	c.Block.Txs = nil
	emptyTxs.Payload = c

	msgs := map[string]saconsensus.Message{
		"candidate":           fx.Candidate(1, 0),
		"candidate no txs":    emptyTxs,
		"validation valid":    fx.Validation(1, 1, saconsensus.ValidVote(h)),
		"validation no cand":  fx.Validation(2, 1, saconsensus.NoCandidateVote()),
		"ratification":        fx.Ratification(3, 1, saconsensus.InvalidVote(h)),
		"validation quorum":   {Header: fx.Header(1), Payload: saconsensus.ValidationQuorum{Result: withVotes(saconsensus.ValidVote(h))}},
		"quorum":              {Header: fx.Header(1), Payload: saconsensus.Quorum{Att: attestation(h)}},
		"fail quorum":         fx.FailQuorum(3),
		"ratification result": {Header: fx.Header(1), Payload: withVotes(saconsensus.NoQuorumVote())},
	}

	for name, msg := range msgs {
		t.Run("message "+name, func(t *testing.T) {
			t.Parallel()

			codec := mcf()

			b, err := codec.MarshalMessage(msg)
			require.NoError(t, err)

			var got saconsensus.Message
			require.NoError(t, codec.UnmarshalMessage(b, &got))

			require.Equal(t, msg.Header, got.Header)
			require.Equal(t, msg.Topic(), got.Topic())
			require.Equal(t, msg.Signature, got.Signature)
			if msg.Signer == nil {
				require.Nil(t, got.Signer)
			} else {
				require.True(t, msg.Signer.Equal(got.Signer))
				require.NoError(t, got.VerifySignature())
			}

			require.Equal(t, msg.Payload, got.Payload)

			for i := 0; i < determinismTries; i++ {
				again, err := codec.MarshalMessage(msg)
				require.NoError(t, err)
				require.Equal(t, b, again)
			}
		})
	}

	t.Run("attestation", func(t *testing.T) {
		t.Parallel()

		codec := mcf()
		att := attestation(h)

		b, err := codec.MarshalAttestation(att)
		require.NoError(t, err)

		var got saconsensus.Attestation
		require.NoError(t, codec.UnmarshalAttestation(b, &got))
		require.Equal(t, att, got)
	})

	t.Run("garbage", func(t *testing.T) {
		t.Parallel()

		codec := mcf()

		var m saconsensus.Message
		require.Error(t, codec.UnmarshalMessage([]byte("\x00not a message"), &m))
	})
}

func attestation(h saconsensus.Hash) saconsensus.Attestation {
	return saconsensus.Attestation{
		Result: saconsensus.NewRatificationResult(saconsensus.ValidVote(h)),
		Validation: saconsensus.StepVotes{
			Bitset:             0b0111,
			AggregateSignature: []byte("validation"),
		},
		Ratification: saconsensus.StepVotes{
			Bitset:             0b1110,
			AggregateSignature: []byte("ratification"),
		},
	}
}
