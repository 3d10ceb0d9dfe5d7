// Package saconsensustest contains fixtures and mocks for tests involving consensus messages.
package saconsensustest

import (
	"context"
	"fmt"
	"time"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/gcrypto/gcryptotest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// DefaultStake is the stake assigned to every fixture provisioner.
const DefaultStake = 1_000

// Fixture is a set of deterministic provisioners
// with helpers to build signed messages for a single round.
type Fixture struct {
	Signers []gcrypto.BLSSigner

	Provisioners *saconsensus.Provisioners

	// Round, PrevBlockHash, and Seed describe the fixture's current round.
	// They may be reassigned before use.
	Round         uint64
	PrevBlockHash saconsensus.Hash
	Seed          []byte
}

// NewFixture returns a Fixture with n equally staked BLS provisioners,
// all eligible from round 0.
func NewFixture(n int) *Fixture {
	signers := gcryptotest.DeterministicBLSSigners(n)

	ps := make([]saconsensus.Provisioner, n)
	for i, s := range signers {
		ps[i] = saconsensus.Provisioner{PubKey: s.PubKey(), Stake: DefaultStake}
	}

	provs, err := saconsensus.NewProvisioners(1, ps...)
	if err != nil {
		panic(fmt.Errorf("BUG: building fixture provisioners: %w", err))
	}

	return &Fixture{
		Signers:      signers,
		Provisioners: provs,

		Round:         1,
		PrevBlockHash: saconsensus.Hash{0xab, 0xcd},
		Seed:          []byte("fixture-seed"),
	}
}

// PubKey returns the public key of signer i.
func (f *Fixture) PubKey(i int) gcrypto.PubKey {
	return f.Signers[i].PubKey()
}

// RoundUpdate returns the fixture's round as seen by signer i.
// A negative i returns an observer RoundUpdate with no local identity.
func (f *Fixture) RoundUpdate(i int) saconsensus.RoundUpdate {
	ru := saconsensus.RoundUpdate{
		Round:         f.Round,
		PrevBlockHash: f.PrevBlockHash,
		Seed:          f.Seed,
		Timestamp:     time.Unix(1_700_000_000, 0).UTC(),
	}
	if i >= 0 {
		ru.PubKey = f.Signers[i].PubKey()
		ru.Signer = f.Signers[i]
	}
	return ru
}

// Header returns the header for iteration in the fixture's round.
func (f *Fixture) Header(iteration uint8) saconsensus.Header {
	return saconsensus.Header{
		Round:         f.Round,
		Iteration:     iteration,
		PrevBlockHash: f.PrevBlockHash,
	}
}

// Committee returns a committee of the given signers with one credit each.
func (f *Fixture) Committee(idxs ...int) saconsensus.Committee {
	ms := make([]saconsensus.CommitteeMember, len(idxs))
	for i, idx := range idxs {
		ms[i] = saconsensus.CommitteeMember{PubKey: f.PubKey(idx), Credits: 1}
	}
	return saconsensus.NewCommittee(ms)
}

// Block returns a deterministic block for iteration proposed by signer gen.
func (f *Fixture) Block(iteration uint8, gen int) saconsensus.Block {
	txs := [][]byte{[]byte(fmt.Sprintf("tx-%d-%d", f.Round, iteration))}
	return saconsensus.Block{
		Header: saconsensus.BlockHeader{
			Height:        f.Round,
			Iteration:     iteration,
			PrevBlockHash: f.PrevBlockHash,
			Timestamp:     1_700_000_000,
			Seed:          f.Seed,
			TxRoot:        saconsensus.TxRoot(txs),
			Generator:     f.PubKey(gen),
		},
		Txs: txs,
	}
}

// Candidate returns a Candidate message for iteration signed by signer gen.
func (f *Fixture) Candidate(iteration uint8, gen int) saconsensus.Message {
	return f.sign(gen, saconsensus.Message{
		Header:  f.Header(iteration),
		Payload: saconsensus.Candidate{Block: f.Block(iteration, gen)},
	})
}

// Validation returns a Validation vote signed by signer i.
func (f *Fixture) Validation(i int, iteration uint8, v saconsensus.Vote) saconsensus.Message {
	return f.sign(i, saconsensus.Message{
		Header:  f.Header(iteration),
		Payload: saconsensus.Validation{Vote: v},
	})
}

// Ratification returns a Ratification vote signed by signer i.
func (f *Fixture) Ratification(i int, iteration uint8, v saconsensus.Vote) saconsensus.Message {
	return f.sign(i, saconsensus.Message{
		Header: f.Header(iteration),
		Payload: saconsensus.Ratification{
			Vote:             v,
			ValidationResult: saconsensus.ValidationResult{Quorum: saconsensus.QuorumTypeFor(v), Vote: v},
		},
	})
}

// ValidationQuorum returns an unsigned ValidationQuorum message.
func (f *Fixture) ValidationQuorum(iteration uint8, v saconsensus.Vote) saconsensus.Message {
	return saconsensus.Message{
		Header: f.Header(iteration),
		Payload: saconsensus.ValidationQuorum{
			Result: saconsensus.ValidationResult{Quorum: saconsensus.QuorumTypeFor(v), Vote: v},
		},
	}
}

// ValidationResult returns the locally synthesized result of a Validation step.
func (f *Fixture) ValidationResult(iteration uint8, v saconsensus.Vote) saconsensus.Message {
	return saconsensus.Message{
		Header:  f.Header(iteration),
		Payload: saconsensus.ValidationResult{Quorum: saconsensus.QuorumTypeFor(v), Vote: v},
	}
}

// Quorum returns an unsigned Quorum message whose result follows from v.
func (f *Fixture) Quorum(iteration uint8, v saconsensus.Vote) saconsensus.Message {
	return saconsensus.Message{
		Header: f.Header(iteration),
		Payload: saconsensus.Quorum{
			Att: saconsensus.Attestation{Result: saconsensus.NewRatificationResult(v)},
		},
	}
}

// FailQuorum is shorthand for a Quorum with a NoCandidate Fail result.
func (f *Fixture) FailQuorum(iteration uint8) saconsensus.Message {
	return f.Quorum(iteration, saconsensus.NoCandidateVote())
}

// SuccessQuorum is shorthand for a Quorum with a Success result for the fixture block.
func (f *Fixture) SuccessQuorum(iteration uint8) saconsensus.Message {
	return f.Quorum(iteration, saconsensus.ValidVote(f.Block(iteration, 0).Hash()))
}

func (f *Fixture) sign(i int, m saconsensus.Message) saconsensus.Message {
	signed, err := saconsensus.Sign(context.Background(), f.Signers[i], m)
	if err != nil {
		panic(fmt.Errorf("BUG: signing fixture message: %w", err))
	}
	return signed
}

// WithRound returns a copy of m moved to round r.
// The signature is not updated.
func WithRound(m saconsensus.Message, r uint64) saconsensus.Message {
	m.Header.Round = r
	return m
}
