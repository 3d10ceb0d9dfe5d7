package saengine

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gsa/sa/sacommittee"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Config holds the protocol constants shared by every node in a network.
type Config struct {
	// MaxIterations is the number of iterations in a round.
	// The Ratification step of the last iteration never times out;
	// it enters open consensus mode instead.
	MaxIterations uint8

	// Messages from iterations at or beyond EmergencyIterationThreshold
	// are still collected and voted on after their iteration has passed.
	EmergencyIterationThreshold uint8

	// Messages more than MaxFutureRoundDistance rounds ahead are dropped
	// rather than held for later.
	MaxFutureRoundDistance uint64

	CommitteeSizes sacommittee.Sizes
	Sortition      sacommittee.Sortition

	Timeouts TimeoutStrategy
}

// DefaultConfig returns the standard protocol constants.
func DefaultConfig() Config {
	return Config{
		MaxIterations:               50,
		EmergencyIterationThreshold: 16,
		MaxFutureRoundDistance:      10,

		CommitteeSizes: sacommittee.DefaultSizes(),
		Sortition:      sacommittee.StakeSortition{},

		Timeouts: LinearTimeoutStrategy{},
	}
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error

	if c.MaxIterations == 0 {
		errs = append(errs, errors.New("MaxIterations must be positive"))
	}
	if c.Sortition == nil {
		errs = append(errs, errors.New("Sortition must be set"))
	}
	if c.Timeouts == nil {
		errs = append(errs, errors.New("Timeouts must be set"))
	}

	for _, s := range []struct {
		name string
		n    uint32
	}{
		{name: "proposal", n: c.CommitteeSizes.Proposal},
		{name: "validation", n: c.CommitteeSizes.Validation},
		{name: "ratification", n: c.CommitteeSizes.Ratification},
	} {
		if s.n == 0 {
			errs = append(errs, fmt.Errorf("%s committee size must be positive", s.name))
		}
		if s.n > saconsensus.MaxCommitteeMembers {
			errs = append(errs, fmt.Errorf(
				"%s committee size %d exceeds maximum %d", s.name, s.n, saconsensus.MaxCommitteeMembers,
			))
		}
	}

	return errors.Join(errs...)
}

// IsEmergencyIter reports whether messages of iteration
// are still processed once their iteration has passed.
func (c Config) IsEmergencyIter(iteration uint8) bool {
	return iteration >= c.EmergencyIterationThreshold
}

// IsOpenConsensusStep reports whether the deadline of step in iteration
// switches the step into open consensus mode instead of ending it.
func (c Config) IsOpenConsensusStep(iteration uint8, step saconsensus.StepName) bool {
	return step == saconsensus.StepRatification && iteration == c.MaxIterations-1
}
