package saconsensus

import (
	"context"
	"time"

	"github.com/gordian-engine/gsa/gcrypto"
)

// StepOutcome is the result of collecting a message into a phase.
// When Ready is false the step continues; Msg is then meaningless.
type StepOutcome struct {
	Ready bool
	Msg   Message
}

// Pending is the outcome of a message that did not finish the step.
func Pending() StepOutcome {
	return StepOutcome{}
}

// Ready is the outcome of a message that finished the step with result msg.
func Ready(msg Message) StepOutcome {
	return StepOutcome{Ready: true, Msg: msg}
}

// MsgHandler is implemented by each phase of an iteration
// (Proposal, Validation, and Ratification).
//
// The engine serializes calls to a single MsgHandler,
// so implementations do not need their own locking.
type MsgHandler interface {
	// IsValid checks msg against the current step.
	// It returns nil if msg may be collected now,
	// an error wrapping [ErrFutureEvent] or [ErrPastEvent]
	// if msg belongs to another step,
	// or any other error if msg fails verification.
	IsValid(
		msg Message,
		ru RoundUpdate,
		iteration uint8,
		step StepName,
		committee Committee,
		committees CommitteeSet,
	) error

	// Collect accumulates a message that passed IsValid.
	// The generator is nil when it could not be resolved.
	Collect(
		ctx context.Context,
		msg Message,
		ru RoundUpdate,
		committee Committee,
		generator gcrypto.PubKey,
		committees CommitteeSet,
	) (StepOutcome, error)

	// CollectFromPast accumulates a message from an earlier iteration of the current round.
	CollectFromPast(
		ctx context.Context,
		msg Message,
		committee Committee,
		generator gcrypto.PubKey,
	) (StepOutcome, error)

	// HandleTimeout returns the message to broadcast when the step's deadline passes,
	// or false if there is nothing to send.
	HandleTimeout(ru RoundUpdate, iteration uint8) (Message, bool)
}

// StepStart describes a step that is about to begin.
type StepStart struct {
	RoundUpdate RoundUpdate
	Iteration   uint8
	Step        StepName

	Committee Committee

	// Generator is the iteration's generator, or nil if unresolved.
	Generator gcrypto.PubKey

	// Prev is the result of the previous step in the same iteration,
	// or the empty message when there is none.
	Prev Message
}

// StepStarter is optionally implemented by a [MsgHandler]
// that acts at the beginning of its step,
// such as a generator producing its candidate or a member casting its vote.
type StepStarter interface {
	// StartStep resets per-step state and returns the local message to emit, if any.
	// An emitted message is both broadcast and delivered back to the local inbound queue.
	StartStep(ctx context.Context, s StepStart) (Message, bool)
}

// Operations is the metrics sink for step timing.
type Operations interface {
	AddStepElapsedTime(ctx context.Context, round uint64, step StepName, elapsed time.Duration) error
}
