package saenginetest

import (
	"log/slog"
	"time"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/gordian-engine/gsa/sa/saqueue"
	"github.com/gordian-engine/gsa/sa/saregistry"
	"github.com/gordian-engine/gsa/sa/sastore/samemstore"
)

// Fixture wires mock collaborators around the saengine types.
//
// Its Config is shortened so that tests reach emergency iterations
// and open consensus mode quickly:
// four iterations, with emergency mode from iteration 2.
type Fixture struct {
	Log *slog.Logger

	Cons *saconsensustest.Fixture

	Config saengine.Config

	Timer *MockStepTimer

	Proposal, Validation, Ratification *saconsensustest.MockMsgHandler

	Handlers saengine.Handlers

	Inbound, Outbound *saqueue.Queue

	FutureMsgs   *saregistry.MsgRegistry
	Attestations *saregistry.AttestationRegistry

	VoteCaster *MockVoteCaster
	Operations *saconsensustest.MockOperations
	Store      *samemstore.AttestationStore
}

// NewFixture returns a Fixture with n provisioners.
func NewFixture(log *slog.Logger, n int) *Fixture {
	cons := saconsensustest.NewFixture(n)

	cfg := saengine.DefaultConfig()
	cfg.MaxIterations = 4
	cfg.EmergencyIterationThreshold = 2
	cfg.MaxFutureRoundDistance = 3

	p := new(saconsensustest.MockMsgHandler)
	v := new(saconsensustest.MockMsgHandler)
	r := new(saconsensustest.MockMsgHandler)

	return &Fixture{
		Log: log,

		Cons: cons,

		Config: cfg,

		Timer: new(MockStepTimer),

		Proposal:     p,
		Validation:   v,
		Ratification: r,

		Handlers: saengine.Handlers{
			Proposal:     saengine.NewSharedHandler(p),
			Validation:   saengine.NewSharedHandler(v),
			Ratification: saengine.NewSharedHandler(r),
		},

		Inbound:  saqueue.New(64),
		Outbound: saqueue.New(64),

		FutureMsgs:   saregistry.NewMsgRegistry(),
		Attestations: saregistry.NewAttestationRegistry(cons.Round),

		VoteCaster: new(MockVoteCaster),
		Operations: new(saconsensustest.MockOperations),
		Store:      samemstore.NewAttestationStore(),
	}
}

// IterationCtx returns a new IterationCtx for the fixture round,
// with signer local as the local provisioner.
func (f *Fixture) IterationCtx(local int) *saengine.IterationCtx {
	return saengine.NewIterationCtx(
		f.Log, f.Config, f.Cons.RoundUpdate(local), f.Cons.Provisioners, f.Handlers,
	)
}

// ExecutionConfig returns the configuration of step in iteration,
// using every collaborator of the fixture.
func (f *Fixture) ExecutionConfig(
	iterCtx *saengine.IterationCtx, iteration uint8, step saconsensus.StepName,
) saengine.ExecutionConfig {
	return saengine.ExecutionConfig{
		Config: f.Config,

		IterCtx: iterCtx,

		Iteration: iteration,
		Step:      step,

		Inbound:  f.Inbound,
		Outbound: f.Outbound,

		FutureMsgs:   f.FutureMsgs,
		Attestations: f.Attestations,

		Provisioners: f.Cons.Provisioners,

		Timer: f.Timer,

		Operations:       f.Operations,
		VoteCaster:       f.VoteCaster,
		AttestationStore: f.Store,
		StepStart:        time.Now(),
	}
}

// ConsensusConfig returns a configuration for [saengine.NewConsensus]
// using every collaborator of the fixture.
func (f *Fixture) ConsensusConfig() saengine.ConsensusConfig {
	return saengine.ConsensusConfig{
		Config: f.Config,

		Timer:    f.Timer,
		Handlers: f.Handlers,

		Inbound:  f.Inbound,
		Outbound: f.Outbound,

		FutureMsgs: f.FutureMsgs,

		VoteCaster:       f.VoteCaster,
		AttestationStore: f.Store,
		Operations:       f.Operations,
	}
}

// SignerIndex returns the fixture index of pk, or -1.
func (f *Fixture) SignerIndex(pk gcrypto.PubKey) int {
	for i, s := range f.Cons.Signers {
		if s.PubKey().Equal(pk) {
			return i
		}
	}
	return -1
}

// NonGenerator returns the index of a signer that is not the generator of iteration.
// The iteration's committees must already be derived.
func (f *Fixture) NonGenerator(iterCtx *saengine.IterationCtx, iteration uint8) int {
	gen, ok := iterCtx.Generator(iteration)
	if !ok {
		panic("BUG: iteration committees not derived")
	}
	for i, s := range f.Cons.Signers {
		if !s.PubKey().Equal(gen) {
			return i
		}
	}
	panic("BUG: every signer is the generator")
}
