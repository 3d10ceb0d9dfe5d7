package gwatchdog

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

type MonitorConfig struct {
	// Name identifies the subsystem in logs and termination errors.
	Name string

	// Signals are sent every Interval, plus or minus up to Jitter.
	Interval, Jitter time.Duration

	// The subsystem must both take the signal and close Alive within ResponseTimeout.
	ResponseTimeout time.Duration
}

func (c MonitorConfig) validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("Name must not be empty"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("Interval must be positive"))
	}
	if c.Jitter <= 0 {
		errs = append(errs, errors.New("Jitter must be positive"))
	}
	if c.Jitter > c.Interval {
		errs = append(errs, errors.New("Jitter must not exceed Interval"))
	}
	if c.ResponseTimeout <= 0 {
		errs = append(errs, errors.New("ResponseTimeout must be positive"))
	}
	return errors.Join(errs...)
}

type monitor struct {
	log *slog.Logger

	cfg MonitorConfig

	sigs   chan<- Signal
	cancel context.CancelCauseFunc
}

func (m *monitor) run(ctx context.Context) {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for {
		j := time.Duration(rng.Int64N(int64(2*m.cfg.Jitter))) - m.cfg.Jitter
		t := time.NewTimer(m.cfg.Interval + j)

		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		if !m.check(ctx) {
			return
		}
	}
}

// check delivers one signal and waits for its response.
// It reports whether monitoring should continue.
func (m *monitor) check(ctx context.Context) bool {
	alive := make(chan struct{})

	deadline := time.NewTimer(m.cfg.ResponseTimeout)
	defer deadline.Stop()

	select {
	case <-ctx.Done():
		return false
	case m.sigs <- Signal{Alive: alive}:
	case <-deadline.C:
		m.fail()
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-alive:
		return true
	case <-deadline.C:
		// Both may have become ready at once.
		select {
		case <-alive:
			return true
		default:
			m.fail()
			return false
		}
	}
}

func (m *monitor) fail() {
	m.log.Warn("Subsystem failed to respond to watchdog signal", "timeout", m.cfg.ResponseTimeout)
	m.cancel(FailureToRespondError{SubsystemName: m.cfg.Name})
}
