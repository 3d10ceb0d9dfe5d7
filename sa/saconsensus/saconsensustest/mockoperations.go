package saconsensustest

import (
	"context"
	"sync"
	"time"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// StepElapsed is one recorded call to AddStepElapsedTime.
type StepElapsed struct {
	Round   uint64
	Step    saconsensus.StepName
	Elapsed time.Duration
}

// MockOperations records step timings.
// If Err is set, every call returns it after recording.
type MockOperations struct {
	Err error

	mu      sync.Mutex
	entries []StepElapsed
}

func (o *MockOperations) AddStepElapsedTime(_ context.Context, round uint64, step saconsensus.StepName, elapsed time.Duration) error {
	o.mu.Lock()
	o.entries = append(o.entries, StepElapsed{Round: round, Step: step, Elapsed: elapsed})
	o.mu.Unlock()
	return o.Err
}

// Entries returns a copy of the recorded timings.
func (o *MockOperations) Entries() []StepElapsed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StepElapsed(nil), o.entries...)
}
