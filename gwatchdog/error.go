package gwatchdog

import (
	"context"
	"errors"
)

// IsTermination reports whether ctx was canceled by a watchdog.
func IsTermination(ctx context.Context) bool {
	cause := context.Cause(ctx)
	if cause == nil {
		return false
	}

	var ftr FailureToRespondError
	var ft ForcedTerminationError
	return errors.As(cause, &ftr) || errors.As(cause, &ft)
}

// FailureToRespondError is the cancellation cause
// when a monitored subsystem misses its response deadline.
type FailureToRespondError struct {
	SubsystemName string
}

func (e FailureToRespondError) Error() string {
	return e.SubsystemName + " failed to respond to watchdog signal in time"
}

// ForcedTerminationError is the cancellation cause set by [*Watchdog.Terminate].
type ForcedTerminationError struct {
	Reason string
}

func (e ForcedTerminationError) Error() string {
	return "watchdog forced termination: " + e.Reason
}
