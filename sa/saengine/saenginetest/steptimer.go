// Package saenginetest contains test doubles for the saengine package.
package saenginetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// MockStepTimer is a [saengine.StepTimer] whose deadlines only pass
// when a test calls [*MockStepTimer.ElapseStepTimer].
// At most one timer may be active at a time.
type MockStepTimer struct {
	mu sync.Mutex

	notifications map[StepTimerKey]chan struct{}

	ch chan struct{}

	active    StepTimerKey
	hasActive bool

	started []StepTimerStart
}

// StepTimerKey identifies a step timer.
type StepTimerKey struct {
	Round     uint64
	Iteration uint8
	Step      saconsensus.StepName
}

func (k StepTimerKey) String() string {
	return fmt.Sprintf("%s at %d/%d", k.Step, k.Round, k.Iteration)
}

// StepTimerStart records a timer creation and the duration it was requested with.
type StepTimerStart struct {
	StepTimerKey
	Duration time.Duration
}

func (t *MockStepTimer) StepTimer(
	_ context.Context,
	round uint64, iteration uint8, step saconsensus.StepName,
	d time.Duration,
) (<-chan struct{}, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := StepTimerKey{Round: round, Iteration: iteration, Step: step}

	if t.ch != nil {
		panic(fmt.Errorf(
			"BUG: cannot start timer for %s while timer for %s is active",
			key, t.active,
		))
	}

	ch := make(chan struct{})
	t.ch = ch
	t.active = key
	t.hasActive = true
	t.started = append(t.started, StepTimerStart{StepTimerKey: key, Duration: d})

	if n, ok := t.notifications[key]; ok {
		close(n)
		delete(t.notifications, key)
	}

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.ch != ch {
			// Already elapsed, or a later timer is active.
			return
		}

		t.ch = nil
		t.active = StepTimerKey{}
		t.hasActive = false
	}
}

// ActiveTimer returns the key of the active timer, if any.
func (t *MockStepTimer) ActiveTimer() (StepTimerKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, t.hasActive
}

// Started returns every timer created so far, in order.
func (t *MockStepTimer) Started() []StepTimerStart {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]StepTimerStart(nil), t.started...)
}

// ElapseStepTimer closes the active timer's channel.
// It returns an error if the active timer does not match the arguments.
func (t *MockStepTimer) ElapseStepTimer(round uint64, iteration uint8, step saconsensus.StepName) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	want := StepTimerKey{Round: round, Iteration: iteration, Step: step}
	if !t.hasActive {
		return fmt.Errorf("requested to elapse timer for %s, but no timer active", want)
	}
	if t.active != want {
		return fmt.Errorf("requested to elapse timer for %s when timer for %s active", want, t.active)
	}

	close(t.ch)
	t.ch = nil
	t.active = StepTimerKey{}
	t.hasActive = false

	return nil
}

// StartNotification returns a channel that is closed
// when the timer for the given step is started.
func (t *MockStepTimer) StartNotification(round uint64, iteration uint8, step saconsensus.StepName) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.notifications == nil {
		t.notifications = make(map[StepTimerKey]chan struct{})
	}

	key := StepTimerKey{Round: round, Iteration: iteration, Step: step}
	if _, ok := t.notifications[key]; ok {
		panic(fmt.Errorf("notification already created for %s", key))
	}

	ch := make(chan struct{})
	t.notifications[key] = ch
	return ch
}

// RequireNoActiveTimer fails tt if any timer is active.
func (t *MockStepTimer) RequireNoActiveTimer(tt *testing.T) {
	tt.Helper()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasActive {
		tt.Fatalf("expected no active timer, but got timer for %s", t.active)
	}
}
