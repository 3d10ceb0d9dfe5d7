package saengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/gsa/gwatchdog"
	"github.com/gordian-engine/gsa/internal/glog"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saqueue"
	"github.com/gordian-engine/gsa/sa/saregistry"
	"github.com/gordian-engine/gsa/sa/sastore"
)

// ConsensusConfig is the input to [NewConsensus].
type ConsensusConfig struct {
	Config Config

	Timer    StepTimer
	Handlers Handlers

	Inbound  *saqueue.Queue
	Outbound *saqueue.Queue

	// FutureMsgs holds messages for later steps and rounds.
	// If nil, a new registry is created.
	FutureMsgs *saregistry.MsgRegistry

	// Optional fields.
	VoteCaster       VoteCaster
	AttestationStore sastore.AttestationStore
	Operations       saconsensus.Operations

	// WatchdogSignals, typically from [*gwatchdog.Watchdog.Monitor],
	// are answered by each step's event loop.
	WatchdogSignals <-chan gwatchdog.Signal
}

// Status is a snapshot of the step a [Consensus] is running.
type Status struct {
	Running bool

	Round     uint64
	Iteration uint8
	Step      saconsensus.StepName
}

// Consensus drives rounds to completion,
// running every step of every iteration through an [ExecutionCtx].
type Consensus struct {
	log *slog.Logger

	cfg ConsensusConfig

	mu     sync.RWMutex
	status Status
	atts   *saregistry.AttestationRegistry
}

var errOpenConsensusSuccess = errors.New("success quorum reached in open consensus mode")

func NewConsensus(log *slog.Logger, cfg ConsensusConfig) (*Consensus, error) {
	var errs []error
	if err := cfg.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Timer == nil {
		errs = append(errs, errors.New("Timer must be set"))
	}
	if cfg.Handlers.Proposal == nil || cfg.Handlers.Validation == nil || cfg.Handlers.Ratification == nil {
		errs = append(errs, errors.New("all three phase handlers must be set"))
	}
	if cfg.Inbound == nil || cfg.Outbound == nil {
		errs = append(errs, errors.New("Inbound and Outbound queues must be set"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid consensus configuration: %w", err)
	}

	if cfg.FutureMsgs == nil {
		cfg.FutureMsgs = saregistry.NewMsgRegistry()
	}

	return &Consensus{
		log: log,
		cfg: cfg,
	}, nil
}

// Status returns the step currently being run.
func (c *Consensus) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Attestations returns the attestation registry of the current or most recent round,
// or nil if no round has started.
func (c *Consensus) Attestations() *saregistry.AttestationRegistry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.atts
}

// FutureMsgs returns the registry of messages held for later steps.
func (c *Consensus) FutureMsgs() *saregistry.MsgRegistry {
	return c.cfg.FutureMsgs
}

// Run executes the round described by ru until an iteration reaches a Success quorum,
// returning that Quorum message.
// It returns an error if ctx is canceled or every iteration fails.
func (c *Consensus) Run(
	ctx context.Context,
	ru saconsensus.RoundUpdate,
	provs *saconsensus.Provisioners,
) (saconsensus.Message, error) {
	log := c.log.With("round", ru.Round)

	atts := saregistry.NewAttestationRegistry(ru.Round)
	if err := c.restoreAttestations(ctx, atts); err != nil {
		return saconsensus.Message{}, err
	}

	if n := c.cfg.FutureMsgs.RemoveBefore(ru.Round); n > 0 {
		log.Debug("Removed stale future messages", "n", n)
	}

	c.mu.Lock()
	c.atts = atts
	c.status = Status{Running: true, Round: ru.Round}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.status.Running = false
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		openOnce sync.Once
		openMsg  saconsensus.Message
	)
	onOpenSuccess := func(msg saconsensus.Message) {
		openOnce.Do(func() {
			openMsg = msg
			cancel(errOpenConsensusSuccess)
		})
	}

	iterCtx := NewIterationCtx(log, c.cfg.Config, ru, provs, c.cfg.Handlers)

	for iter := uint8(0); iter < c.cfg.Config.MaxIterations; iter++ {
		iterCtx.OnBegin(iter)

		res, err := c.runIteration(ctx, iterCtx, atts, provs, iter, onOpenSuccess)
		if err != nil {
			if errors.Is(context.Cause(ctx), errOpenConsensusSuccess) {
				return openMsg, nil
			}
			return saconsensus.Message{}, err
		}

		if q, ok := res.Payload.(saconsensus.Quorum); ok && q.Att.Result.IsSuccess() {
			glog.RI(log, ru.Round, res.Header.Iteration).Info("Round reached success quorum", "result", q.Att.Result)
			return res, nil
		}
	}

	return saconsensus.Message{}, fmt.Errorf(
		"round %d: no success quorum after %d iterations", ru.Round, c.cfg.Config.MaxIterations,
	)
}

func (c *Consensus) restoreAttestations(ctx context.Context, atts *saregistry.AttestationRegistry) error {
	if c.cfg.AttestationStore == nil {
		return nil
	}

	stored, err := c.cfg.AttestationStore.LoadFailAttestations(ctx, atts.Round())
	if err != nil {
		return fmt.Errorf("failed to load fail attestations for round %d: %w", atts.Round(), err)
	}

	for iter, sa := range stored {
		atts.SetAttestation(iter, sa.Att, sa.Generator)
	}
	if len(stored) > 0 {
		c.log.Info("Restored fail attestations", "round", atts.Round(), "n", len(stored))
	}
	return nil
}

var iterationSteps = [saconsensus.StepsPerIteration]saconsensus.StepName{
	saconsensus.StepProposal,
	saconsensus.StepValidation,
	saconsensus.StepRatification,
}

// runIteration runs the three steps of iter.
// It returns the Quorum that ended the iteration,
// or the empty message if the iteration ended without one.
func (c *Consensus) runIteration(
	ctx context.Context,
	iterCtx *IterationCtx,
	atts *saregistry.AttestationRegistry,
	provs *saconsensus.Provisioners,
	iter uint8,
	onOpenSuccess func(saconsensus.Message),
) (saconsensus.Message, error) {
	ru := iterCtx.RoundUpdate()
	generator, _ := iterCtx.Generator(iter)

	var prev saconsensus.Message
	for _, step := range iterationSteps {
		c.mu.Lock()
		c.status.Iteration = iter
		c.status.Step = step
		c.mu.Unlock()

		exec := NewExecutionCtx(c.log, ExecutionConfig{
			Config: c.cfg.Config,

			IterCtx: iterCtx,

			Iteration: iter,
			Step:      step,

			Inbound:  c.cfg.Inbound,
			Outbound: c.cfg.Outbound,

			FutureMsgs:   c.cfg.FutureMsgs,
			Attestations: atts,

			Provisioners: provs,

			Timer: c.cfg.Timer,

			Operations:       c.cfg.Operations,
			VoteCaster:       c.cfg.VoteCaster,
			AttestationStore: c.cfg.AttestationStore,
			StepStart:        time.Now(),

			OnOpenConsensusSuccess: onOpenSuccess,
			WatchdogSignals:        c.cfg.WatchdogSignals,
		})

		phase := c.cfg.Handlers.For(step)
		committee, _ := iterCtx.Committees().Committee(step.ToStep(iter))

		own, ok := phase.StartStep(ctx, saconsensus.StepStart{
			RoundUpdate: ru,
			Iteration:   iter,
			Step:        step,
			Committee:   committee,
			Generator:   generator,
			Prev:        prev,
		})
		if ok {
			// The local message goes through the same path as everyone else's.
			_ = c.cfg.Inbound.TrySend(own)
		}

		res, ok := exec.HandleFutureMsgs(ctx, phase)
		if !ok {
			var err error
			res, err = exec.EventLoop(ctx, phase, 0)
			if err != nil {
				return saconsensus.Message{}, err
			}
		}

		switch p := res.Payload.(type) {
		case saconsensus.ValidationResult:
			if p.Quorum != saconsensus.QuorumNoQuorum {
				_ = c.cfg.Outbound.TrySend(saconsensus.Message{
					Header:  res.Header,
					Payload: saconsensus.ValidationQuorum{Result: p},
				})
			}

		case saconsensus.Quorum:
			_ = c.cfg.Outbound.TrySend(res)
			if !p.Att.Result.IsSuccess() {
				exec.StoreFailAttestation(ctx, res.Header.Iteration, p.Att)
			}
			return res, nil
		}

		prev = res
	}

	return saconsensus.Message{}, nil
}
