package saengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/sacommittee"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Handlers holds the phase handler of each step kind.
type Handlers struct {
	Proposal     *SharedHandler
	Validation   *SharedHandler
	Ratification *SharedHandler
}

// For returns the handler of step.
func (h Handlers) For(step saconsensus.StepName) *SharedHandler {
	switch step {
	case saconsensus.StepProposal:
		return h.Proposal
	case saconsensus.StepValidation:
		return h.Validation
	default:
		return h.Ratification
	}
}

// IterationCtx is the state shared by every step of a round:
// the committee cache, the phase handlers, and the step timeouts.
// One IterationCtx is used for every iteration of a single round.
type IterationCtx struct {
	log *slog.Logger

	cfg   Config
	ru    saconsensus.RoundUpdate
	provs *saconsensus.Provisioners

	committees *sacommittee.RoundCommittees
	handlers   Handlers

	mu        sync.Mutex
	iteration uint8
	timeouts  map[saconsensus.StepName]uint32
}

func NewIterationCtx(
	log *slog.Logger,
	cfg Config,
	ru saconsensus.RoundUpdate,
	provs *saconsensus.Provisioners,
	handlers Handlers,
) *IterationCtx {
	return &IterationCtx{
		log: log,

		cfg:   cfg,
		ru:    ru,
		provs: provs,

		committees: sacommittee.NewRoundCommittees(),
		handlers:   handlers,

		timeouts: make(map[saconsensus.StepName]uint32),
	}
}

// RoundUpdate returns the round this context belongs to.
func (c *IterationCtx) RoundUpdate() saconsensus.RoundUpdate {
	return c.ru
}

// Committees returns the round's committee cache.
func (c *IterationCtx) Committees() *sacommittee.RoundCommittees {
	return c.committees
}

// Handlers returns the phase handlers.
func (c *IterationCtx) Handlers() Handlers {
	return c.handlers
}

// Iteration returns the current iteration.
func (c *IterationCtx) Iteration() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iteration
}

// OnBegin moves the context to iteration and derives that iteration's committees.
func (c *IterationCtx) OnBegin(iteration uint8) {
	c.mu.Lock()
	c.iteration = iteration
	c.mu.Unlock()

	c.GenerateIterationCommittees(iteration)
}

// GenerateIterationCommittees derives the committees of iteration if they are not cached.
// Calling it again for the same iteration does not derive anything.
func (c *IterationCtx) GenerateIterationCommittees(iteration uint8) {
	n := c.committees.GenerateIteration(
		c.cfg.Sortition, c.cfg.CommitteeSizes, c.provs,
		c.ru.Round, c.ru.Seed, iteration,
	)
	if n > 0 {
		c.log.Debug("Generated iteration committees", "iteration", iteration, "n", n)
	}
}

// Generator returns the generator of iteration,
// if that iteration's committees have been derived.
func (c *IterationCtx) Generator(iteration uint8) (gcrypto.PubKey, bool) {
	return c.committees.Generator(iteration)
}

// GetTimeout returns the deadline for the next step of kind step.
func (c *IterationCtx) GetTimeout(step saconsensus.StepName) time.Duration {
	c.mu.Lock()
	n := c.timeouts[step]
	c.mu.Unlock()

	return c.cfg.Timeouts.StepTimeout(step, n)
}

// OnTimeoutEvent records that a step of kind step reached its deadline,
// lengthening later steps of the same kind.
func (c *IterationCtx) OnTimeoutEvent(step saconsensus.StepName) {
	c.mu.Lock()
	c.timeouts[step]++
	n := c.timeouts[step]
	c.mu.Unlock()

	c.log.Debug("Step timed out", "step", step, "timeouts", n, "next_timeout", c.cfg.Timeouts.StepTimeout(step, n))
}

// ProcessPastMsg collects msg, which belongs to an earlier iteration of the current round,
// into the handler of its phase.
// It returns the resulting message if that collection completes the past step.
func (c *IterationCtx) ProcessPastMsg(ctx context.Context, msg saconsensus.Message) (saconsensus.Message, bool) {
	committee, ok := c.committees.Committee(msg.Step())
	if !ok {
		c.log.Debug("No committee for past message", "msg", msg, "step", msg.Step())
		return saconsensus.Message{}, false
	}

	generator, _ := c.Generator(msg.Header.Iteration)

	var h *SharedHandler
	switch msg.Topic() {
	case saconsensus.TopicCandidate:
		h = c.handlers.Proposal
	case saconsensus.TopicValidation, saconsensus.TopicValidationQuorum:
		h = c.handlers.Validation
	case saconsensus.TopicRatification:
		h = c.handlers.Ratification
	default:
		return saconsensus.Message{}, false
	}

	out, err := h.CollectFromPast(ctx, msg, committee, generator)
	if err != nil {
		c.log.Debug("Failed to collect past message", "msg", msg, "err", err)
		return saconsensus.Message{}, false
	}
	if !out.Ready {
		return saconsensus.Message{}, false
	}
	return out.Msg, true
}
