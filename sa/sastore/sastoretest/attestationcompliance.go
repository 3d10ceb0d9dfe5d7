// Package sastoretest contains compliance tests for sastore implementations.
package sastoretest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/stretchr/testify/require"
)

// AttestationStoreFactory creates a fresh store.
// Implementations needing teardown should pass it to cleanup.
type AttestationStoreFactory func(cleanup func(func())) (sastore.AttestationStore, error)

// TestAttestationStoreCompliance runs the behaviors every [sastore.AttestationStore] must satisfy.
func TestAttestationStoreCompliance(t *testing.T, f AttestationStoreFactory) {
	fx := saconsensustest.NewFixture(2)

	att := saconsensus.Attestation{
		Result: saconsensus.NewRatificationResult(saconsensus.NoCandidateVote()),
		Validation: saconsensus.StepVotes{
			Bitset:             0b101,
			AggregateSignature: []byte("validation-sig"),
		},
		Ratification: saconsensus.StepVotes{
			Bitset:             0b11,
			AggregateSignature: []byte("ratification-sig"),
		},
	}

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.NoError(t, s.SaveFailAttestation(ctx, 5, 2, att, fx.PubKey(1)))

		got, err := s.LoadFailAttestations(ctx, 5)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, att, got[2].Att)
		require.True(t, fx.PubKey(1).Equal(got[2].Generator))
	})

	t.Run("first writer wins", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.NoError(t, s.SaveFailAttestation(ctx, 5, 0, att, fx.PubKey(0)))

		other := att
		other.Result = saconsensus.NewRatificationResult(saconsensus.NoQuorumVote())
		err = s.SaveFailAttestation(ctx, 5, 0, other, fx.PubKey(1))
		require.ErrorIs(t, err, sastore.AttestationExistsError{Round: 5, Iteration: 0})

		got, err := s.LoadFailAttestations(ctx, 5)
		require.NoError(t, err)
		require.Equal(t, att, got[0].Att)
	})

	t.Run("unknown round is empty", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		got, err := s.LoadFailAttestations(ctx, 99)
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("prune", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.NoError(t, s.SaveFailAttestation(ctx, 3, 0, att, fx.PubKey(0)))
		require.NoError(t, s.SaveFailAttestation(ctx, 4, 0, att, fx.PubKey(0)))

		require.NoError(t, s.PruneBefore(ctx, 4))

		got, err := s.LoadFailAttestations(ctx, 3)
		require.NoError(t, err)
		require.Empty(t, got)

		got, err = s.LoadFailAttestations(ctx, 4)
		require.NoError(t, err)
		require.Len(t, got, 1)
	})
}
