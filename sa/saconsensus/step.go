package saconsensus

import "fmt"

// StepName is the kind of a step within an iteration.
type StepName uint8

const (
	StepProposal StepName = iota
	StepValidation
	StepRatification
)

// StepsPerIteration is the number of steps in every iteration.
const StepsPerIteration = 3

// ToStep returns the round-global step index of s within the given iteration.
// Step indices are strictly increasing across iterations,
// so they can be used to order messages within a round.
func (s StepName) ToStep(iteration uint8) uint16 {
	return uint16(iteration)*StepsPerIteration + uint16(s)
}

func (s StepName) String() string {
	switch s {
	case StepProposal:
		return "Proposal"
	case StepValidation:
		return "Validation"
	case StepRatification:
		return "Ratification"
	default:
		return fmt.Sprintf("StepName(%d)", uint8(s))
	}
}

// SplitStep is the inverse of [StepName.ToStep].
func SplitStep(step uint16) (iteration uint8, name StepName) {
	return uint8(step / StepsPerIteration), StepName(step % StepsPerIteration)
}
