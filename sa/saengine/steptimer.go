package saengine

import (
	"context"
	"sync"
	"time"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// StepTimer supplies the deadline of a step.
//
// The returned channel is closed when the deadline passes.
// The cancel function releases the timer;
// it never closes the channel and is safe to call more than once.
//
// The round, iteration, and step arguments identify the timer;
// the standard implementation ignores them but the test double uses them.
type StepTimer interface {
	StepTimer(
		ctx context.Context,
		round uint64, iteration uint8, step saconsensus.StepName,
		d time.Duration,
	) (elapsed <-chan struct{}, cancel func())
}

// StandardStepTimer is the [StepTimer] backed by the runtime's timers.
type StandardStepTimer struct{}

func (StandardStepTimer) StepTimer(
	_ context.Context,
	_ uint64, _ uint8, _ saconsensus.StepName,
	d time.Duration,
) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	t := time.AfterFunc(d, func() { close(ch) })

	var once sync.Once
	return ch, func() {
		once.Do(func() { t.Stop() })
	}
}
