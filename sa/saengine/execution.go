package saengine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gordian-engine/gsa/gwatchdog"
	"github.com/gordian-engine/gsa/internal/glog"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saqueue"
	"github.com/gordian-engine/gsa/sa/saregistry"
	"github.com/gordian-engine/gsa/sa/sastore"
)

// ExecutionConfig is the input to [NewExecutionCtx].
type ExecutionConfig struct {
	Config Config

	IterCtx *IterationCtx

	Iteration uint8
	Step      saconsensus.StepName

	Inbound  *saqueue.Queue
	Outbound *saqueue.Queue

	FutureMsgs   *saregistry.MsgRegistry
	Attestations *saregistry.AttestationRegistry

	Provisioners *saconsensus.Provisioners

	Timer StepTimer

	// Optional fields.
	Operations       saconsensus.Operations
	VoteCaster       VoteCaster
	AttestationStore sastore.AttestationStore

	// StepStart is when the step began; it is used for latency reporting.
	// A zero value disables reporting.
	StepStart time.Time

	// OnOpenConsensusSuccess is called with every Success quorum
	// observed while the step is in open consensus mode.
	OnOpenConsensusSuccess func(saconsensus.Message)

	// WatchdogSignals are answered while the event loop waits.
	WatchdogSignals <-chan gwatchdog.Signal
}

// ExecutionCtx runs a single step: it waits for inbound messages until the
// step's phase handler produces a result or the step deadline passes.
type ExecutionCtx struct {
	log *slog.Logger

	cfg Config

	iterCtx *IterationCtx
	ru      saconsensus.RoundUpdate

	iteration uint8
	step      saconsensus.StepName

	inbound, outbound *saqueue.Queue

	futureMsgs   *saregistry.MsgRegistry
	attestations *saregistry.AttestationRegistry

	provs *saconsensus.Provisioners

	timer StepTimer

	ops     saconsensus.Operations
	caster  VoteCaster
	aStore  sastore.AttestationStore
	started time.Time

	onOpenSuccess func(saconsensus.Message)

	watchdogSignals <-chan gwatchdog.Signal
}

func NewExecutionCtx(log *slog.Logger, cfg ExecutionConfig) *ExecutionCtx {
	ru := cfg.IterCtx.RoundUpdate()

	return &ExecutionCtx{
		log: glog.RI(log, ru.Round, cfg.Iteration).With("step", cfg.Step.String()),

		cfg: cfg.Config,

		iterCtx: cfg.IterCtx,
		ru:      ru,

		iteration: cfg.Iteration,
		step:      cfg.Step,

		inbound:  cfg.Inbound,
		outbound: cfg.Outbound,

		futureMsgs:   cfg.FutureMsgs,
		attestations: cfg.Attestations,

		provs: cfg.Provisioners,

		timer: cfg.Timer,

		ops:     cfg.Operations,
		caster:  cfg.VoteCaster,
		aStore:  cfg.AttestationStore,
		started: cfg.StepStart,

		onOpenSuccess: cfg.OnOpenConsensusSuccess,

		watchdogSignals: cfg.WatchdogSignals,
	}
}

// StepIndex returns the round-global index of the step being executed.
func (c *ExecutionCtx) StepIndex() uint16 {
	return c.step.ToStep(c.iteration)
}

// EventLoop processes inbound messages with phase until the step terminates.
//
// It returns the step result,
// or the empty message if the step deadline passed first.
// In open consensus mode the deadline is disabled
// and the loop only returns when ctx is canceled.
// The returned error is non-nil only when ctx is canceled.
func (c *ExecutionCtx) EventLoop(
	ctx context.Context,
	phase *SharedHandler,
	additionalTimeout time.Duration,
) (saconsensus.Message, error) {
	timeout := c.iterCtx.GetTimeout(c.step)
	if additionalTimeout > 0 {
		timeout += additionalTimeout
	}

	elapsed, cancelTimer := c.timer.StepTimer(ctx, c.ru.Round, c.iteration, c.step, timeout)
	defer cancelTimer()

	openConsensus := false
	closed := c.inbound.Closed()

	for {
		select {
		case <-ctx.Done():
			return saconsensus.Message{}, context.Cause(ctx)

		case sig := <-c.watchdogSignals:
			close(sig.Alive)

		case <-closed:
			// Buffered messages are still delivered through C.
			c.log.Warn("Inbound queue closed; continuing until step deadline")
			closed = nil

		case msg := <-c.inbound.C():
			res, done := c.handleInbound(ctx, phase, msg, openConsensus)
			if done {
				c.reportElapsed(ctx)
				return res, nil
			}

		case <-elapsed:
			if c.cfg.IsOpenConsensusStep(c.iteration, c.step) {
				c.log.Info("Step deadline passed in last iteration; entering open consensus mode")
				openConsensus = true
				elapsed = nil
				continue
			}

			return c.handleTimeout(phase), nil
		}
	}
}

func (c *ExecutionCtx) handleInbound(
	ctx context.Context,
	phase *SharedHandler,
	msg saconsensus.Message,
	openConsensus bool,
) (saconsensus.Message, bool) {
	switch msg.Topic() {
	case saconsensus.TopicCandidate,
		saconsensus.TopicValidation,
		saconsensus.TopicRatification,
		saconsensus.TopicValidationQuorum:
		res, ok := c.processInboundMsg(ctx, phase, msg)
		if !ok {
			return saconsensus.Message{}, false
		}

		if openConsensus {
			c.broadcastOpenSuccess(res)
			return saconsensus.Message{}, false
		}
		return res, true

	case saconsensus.TopicQuorum:
		return c.handleQuorum(ctx, msg, openConsensus)

	default:
		c.log.Warn("Dropping inbound message with unexpected topic", "topic", msg.Topic())
		return saconsensus.Message{}, false
	}
}

// handleQuorum applies a Quorum received directly from the network.
func (c *ExecutionCtx) handleQuorum(
	ctx context.Context,
	msg saconsensus.Message,
	openConsensus bool,
) (saconsensus.Message, bool) {
	q := msg.Payload.(saconsensus.Quorum)

	if msg.Header.Round != c.ru.Round || msg.Header.PrevBlockHash != c.ru.PrevBlockHash {
		c.log.Debug(
			"Ignoring quorum for another round or tip",
			"msg_round", msg.Header.Round, "msg_prev", msg.Header.PrevBlockHash,
		)
		return saconsensus.Message{}, false
	}

	if msg.Header.Iteration > c.iteration {
		c.log.Debug("Ignoring quorum from future iteration", "msg_iteration", msg.Header.Iteration)
		return saconsensus.Message{}, false
	}

	if openConsensus {
		c.broadcastOpenSuccess(msg)
		return saconsensus.Message{}, false
	}

	if !q.Att.Result.IsSuccess() {
		c.StoreFailAttestation(ctx, msg.Header.Iteration, q.Att)

		if msg.Header.Iteration < c.iteration {
			return saconsensus.Message{}, false
		}

		c.log.Info("Iteration failed by quorum", "result", q.Att.Result)
		return msg, true
	}

	if msg.Header.Iteration != c.iteration {
		c.log.Debug("Ignoring success quorum from past iteration", "msg_iteration", msg.Header.Iteration)
		return saconsensus.Message{}, false
	}

	c.log.Info("Received success quorum", "result", q.Att.Result)
	return msg, true
}

func (c *ExecutionCtx) broadcastOpenSuccess(msg saconsensus.Message) {
	q, ok := msg.Payload.(saconsensus.Quorum)
	if !ok || !q.Att.Result.IsSuccess() {
		return
	}

	c.log.Info(
		"Broadcasting success quorum in open consensus mode",
		"msg_iteration", msg.Header.Iteration, "result", q.Att.Result,
	)
	c.trySendOutbound(msg)

	if c.onOpenSuccess != nil {
		c.onOpenSuccess(msg)
	}
}

// StoreFailAttestation records att as the Fail attestation of iteration,
// writing it through to the attestation store the first time it is seen.
func (c *ExecutionCtx) StoreFailAttestation(ctx context.Context, iteration uint8, att saconsensus.Attestation) {
	generator, ok := c.iterCtx.Generator(iteration)
	if !ok {
		c.log.Error("BUG: cannot store fail attestation without generator", "att_iteration", iteration)
		return
	}

	if !c.attestations.SetAttestation(iteration, att, generator) {
		return
	}

	c.log.Debug("Stored fail attestation", "att_iteration", iteration, "result", att.Result)

	if c.aStore == nil {
		return
	}

	err := c.aStore.SaveFailAttestation(ctx, c.ru.Round, iteration, att, generator)
	var exists sastore.AttestationExistsError
	if err != nil && !errors.As(err, &exists) {
		c.log.Warn("Failed to persist fail attestation", "att_iteration", iteration, "err", err)
	}
}

// processInboundMsg validates msg against the current step and collects it.
// It reports true when the phase produced a step result.
func (c *ExecutionCtx) processInboundMsg(
	ctx context.Context,
	phase *SharedHandler,
	msg saconsensus.Message,
) (saconsensus.Message, bool) {
	// Derive committees of a later iteration on demand,
	// so that its messages can be checked before the iteration begins.
	if msg.Header.Round == c.ru.Round &&
		msg.Header.PrevBlockHash == c.ru.PrevBlockHash &&
		msg.Header.Iteration > c.iteration &&
		msg.Header.Iteration < c.cfg.MaxIterations {
		c.iterCtx.GenerateIterationCommittees(msg.Header.Iteration)
	}

	committees := c.iterCtx.Committees()
	committee, _ := committees.Committee(c.StepIndex())

	err := phase.IsValid(msg, c.ru, c.iteration, c.step, committee, committees)
	switch {
	case err == nil:
		c.trySendOutbound(msg)

	case errors.Is(err, saconsensus.ErrFutureEvent):
		c.handleFutureMsg(msg)
		return saconsensus.Message{}, false

	case errors.Is(err, saconsensus.ErrPastEvent):
		c.handlePastMsg(ctx, msg)
		return saconsensus.Message{}, false

	default:
		c.log.Debug("Dropping invalid message", "msg", msg, "err", err)
		return saconsensus.Message{}, false
	}

	generator, _ := c.iterCtx.Generator(c.iteration)

	out, err := phase.Collect(ctx, msg, c.ru, committee, generator, committees)
	if err != nil {
		c.log.Debug("Failed to collect message", "msg", msg, "err", err)
		return saconsensus.Message{}, false
	}
	if !out.Ready {
		return saconsensus.Message{}, false
	}
	return out.Msg, true
}

func (c *ExecutionCtx) handleFutureMsg(msg saconsensus.Message) {
	if msg.Header.Round != c.ru.Round {
		if !c.provs.IsEligible(msg.Header.Round, msg.Signer) {
			c.log.Debug("Dropping future-round message from ineligible signer", "msg", msg)
			return
		}
		if msg.Header.Round > c.ru.Round+c.cfg.MaxFutureRoundDistance {
			c.log.Debug("Dropping message too far in the future", "msg", msg)
			return
		}
	}

	if err := c.futureMsgs.PutMsg(msg); err != nil {
		c.log.Debug("Not enqueueing future message", "msg", msg, "err", err)
		return
	}

	c.trySendOutbound(msg)
}

// handlePastMsg handles a message from an earlier step.
// Past-round messages are dropped.
// Past-iteration messages of the current round are rebroadcast,
// and emergency iterations are also collected so that they may still produce a result.
func (c *ExecutionCtx) handlePastMsg(ctx context.Context, msg saconsensus.Message) {
	if msg.Header.Round < c.ru.Round {
		// TODO: reply to the sender with our chain tip so it can catch up.
		c.log.Debug("Dropping message from past round", "msg", msg)
		return
	}

	if msg.Topic() != saconsensus.TopicValidationQuorum {
		c.trySendOutbound(msg)
	}

	if !c.cfg.IsEmergencyIter(msg.Header.Iteration) {
		return
	}

	res, ok := c.iterCtx.ProcessPastMsg(ctx, msg)
	if !ok {
		return
	}

	switch p := res.Payload.(type) {
	case saconsensus.Candidate:
		c.TryCastValidationVote(ctx, p.Block)

	case saconsensus.ValidationResult:
		if p.Quorum == saconsensus.QuorumValid {
			c.TryCastRatificationVote(ctx, res.Header.Iteration, p)
		}

	case saconsensus.Quorum:
		if p.Att.Result.Vote.Kind == saconsensus.VoteValid {
			c.trySendOutbound(res)
		}

	default:
		c.log.Error("BUG: unexpected result from past message", "result", res)
	}
}

// HandleFutureMsgs replays the messages queued for the current step.
// Messages that pass validation are rebroadcast and collected;
// the first one that completes the step ends the replay
// and its result is returned.
func (c *ExecutionCtx) HandleFutureMsgs(ctx context.Context, phase *SharedHandler) (saconsensus.Message, bool) {
	msgs := c.futureMsgs.DrainMsgByRoundStep(c.ru.Round, c.StepIndex())
	if len(msgs) == 0 {
		return saconsensus.Message{}, false
	}

	c.log.Debug("Replaying future messages", "n", len(msgs))

	committees := c.iterCtx.Committees()
	committee, _ := committees.Committee(c.StepIndex())
	generator, _ := c.iterCtx.Generator(c.iteration)

	for _, msg := range msgs {
		if err := phase.IsValid(msg, c.ru, c.iteration, c.step, committee, committees); err != nil {
			c.log.Debug("Dropping replayed message", "msg", msg, "err", err)
			continue
		}

		c.trySendOutbound(msg)

		out, err := phase.Collect(ctx, msg, c.ru, committee, generator, committees)
		if err != nil {
			c.log.Debug("Failed to collect replayed message", "msg", msg, "err", err)
			continue
		}
		if out.Ready {
			return out.Msg, true
		}
	}

	return saconsensus.Message{}, false
}

// TryCastValidationVote votes on a candidate from a past iteration,
// if the local provisioner sits on that iteration's Validation committee.
func (c *ExecutionCtx) TryCastValidationVote(ctx context.Context, candidate saconsensus.Block) {
	iter := candidate.Header.Iteration
	committee, ok := c.iterCtx.Committees().Committee(saconsensus.StepValidation.ToStep(iter))
	if !ok || !committee.IsMember(c.ru.PubKey) {
		return
	}
	if _, ok := c.iterCtx.Generator(iter); !ok {
		c.log.Error("Cannot cast validation vote; generator unresolved", "vote_iteration", iter)
		return
	}
	if c.caster == nil {
		return
	}

	msg, err := c.caster.ValidationVote(ctx, c.ru, candidate)
	if err != nil {
		c.log.Warn("Failed to cast validation vote", "vote_iteration", iter, "err", err)
		return
	}
	c.sendOwnVote(msg)
}

// TryCastRatificationVote ratifies a past iteration's validation result,
// if the local provisioner sits on that iteration's Ratification committee.
func (c *ExecutionCtx) TryCastRatificationVote(ctx context.Context, iteration uint8, result saconsensus.ValidationResult) {
	committee, ok := c.iterCtx.Committees().Committee(saconsensus.StepRatification.ToStep(iteration))
	if !ok || !committee.IsMember(c.ru.PubKey) {
		return
	}
	if _, ok := c.iterCtx.Generator(iteration); !ok {
		c.log.Error("Cannot cast ratification vote; generator unresolved", "vote_iteration", iteration)
		return
	}
	if c.caster == nil {
		return
	}

	msg, err := c.caster.RatificationVote(ctx, c.ru, iteration, result)
	if err != nil {
		c.log.Warn("Failed to cast ratification vote", "vote_iteration", iteration, "err", err)
		return
	}
	c.sendOwnVote(msg)
}

// sendOwnVote gossips a locally cast vote and feeds it back to the inbound queue,
// as the network does not deliver our own messages to us.
func (c *ExecutionCtx) sendOwnVote(msg saconsensus.Message) {
	c.trySendOutbound(msg)
	if !c.inbound.TrySend(msg) {
		c.log.Debug("Inbound queue full; dropped own vote", "msg", msg)
	}
}

func (c *ExecutionCtx) handleTimeout(phase *SharedHandler) saconsensus.Message {
	c.iterCtx.OnTimeoutEvent(c.step)

	if msg, ok := phase.HandleTimeout(c.ru, c.iteration); ok {
		c.trySendOutbound(msg)
	}

	return saconsensus.Message{}
}

func (c *ExecutionCtx) trySendOutbound(msg saconsensus.Message) {
	if !c.outbound.TrySend(msg) {
		c.log.Debug("Outbound queue full; dropped message", "msg", msg)
	}
}

func (c *ExecutionCtx) reportElapsed(ctx context.Context) {
	if c.ops == nil || c.started.IsZero() {
		return
	}

	if err := c.ops.AddStepElapsedTime(ctx, c.ru.Round, c.step, time.Since(c.started)); err != nil {
		c.log.Debug("Failed to report step elapsed time", "err", err)
	}
}
