package saengine

import (
	"time"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// TimeoutStrategy computes the deadline of a step,
// given how many times a step of the same kind has already timed out this round.
// Results must never decrease as timeouts increases.
type TimeoutStrategy interface {
	StepTimeout(step saconsensus.StepName, timeouts uint32) time.Duration
}

// LinearTimeoutStrategy adds Increment to a step's base timeout
// for every earlier timeout of that step kind, up to Max.
// Zero fields take reasonable defaults.
type LinearTimeoutStrategy struct {
	ProposalBase     time.Duration
	ValidationBase   time.Duration
	RatificationBase time.Duration

	Increment time.Duration
	Max       time.Duration
}

func (s LinearTimeoutStrategy) StepTimeout(step saconsensus.StepName, timeouts uint32) time.Duration {
	var b time.Duration
	switch step {
	case saconsensus.StepProposal:
		b = s.ProposalBase
	case saconsensus.StepValidation:
		b = s.ValidationBase
	case saconsensus.StepRatification:
		b = s.RatificationBase
	}
	if b <= 0 {
		b = 5 * time.Second
	}

	inc := s.Increment
	if inc <= 0 {
		inc = 2 * time.Second
	}

	limit := s.Max
	if limit <= 0 {
		limit = 40 * time.Second
	}

	if b >= limit {
		return limit
	}

	// Avoid overflow for absurd timeout counts.
	steps := time.Duration(timeouts)
	if steps > (limit-b)/inc+1 {
		return limit
	}

	d := b + steps*inc
	if d > limit {
		return limit
	}
	return d
}
