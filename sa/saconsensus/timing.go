package saconsensus

// CheckTiming classifies msg against the step a handler is currently running.
//
// It returns [ErrFutureEvent] when msg belongs to a later round or a later step of the round,
// [ErrPastEvent] when it belongs to an earlier round or step,
// a [PrevBlockHashMismatchError] when it is for the current round but another chain tip,
// and nil when it belongs to the current step.
func CheckTiming(msg Message, ru RoundUpdate, iteration uint8, step StepName) error {
	switch {
	case msg.Header.Round > ru.Round:
		return ErrFutureEvent
	case msg.Header.Round < ru.Round:
		return ErrPastEvent
	}

	if msg.Header.PrevBlockHash != ru.PrevBlockHash {
		return PrevBlockHashMismatchError{Want: ru.PrevBlockHash, Got: msg.Header.PrevBlockHash}
	}

	cur := step.ToStep(iteration)
	got := msg.Step()
	switch {
	case got > cur:
		return ErrFutureEvent
	case got < cur:
		return ErrPastEvent
	}
	return nil
}
