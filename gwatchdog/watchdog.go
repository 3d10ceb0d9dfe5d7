// Package gwatchdog detects stalled subsystems.
//
// A subsystem opts in through [*Watchdog.Monitor] and must answer every [Signal]
// from its main loop by closing [Signal.Alive].
// A subsystem that misses its response deadline cancels the watchdog context,
// which should be the root context of the whole process.
package gwatchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordian-engine/gsa/internal/gchan"
)

type Watchdog struct {
	log *slog.Logger

	cancel context.CancelCauseFunc

	// Nil for a nop watchdog.
	requests chan monitorRequest

	wg sync.WaitGroup
}

type monitorRequest struct {
	Cfg  MonitorConfig
	Resp chan (<-chan Signal)
}

// Signal is delivered periodically to a monitored subsystem.
type Signal struct {
	// Alive must be closed promptly by the receiver.
	Alive chan<- struct{}
}

// NewWatchdog returns a Watchdog and a context derived from ctx.
// The returned context is canceled when a monitored subsystem fails to respond,
// or when [*Watchdog.Terminate] is called.
func NewWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	return newWatchdog(ctx, log, make(chan monitorRequest))
}

// NewNopWatchdog returns a Watchdog whose Monitor method returns nil channels.
// Terminate still cancels the returned context.
func NewNopWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	return newWatchdog(ctx, log, nil)
}

func newWatchdog(ctx context.Context, log *slog.Logger, requests chan monitorRequest) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	w := &Watchdog{
		log:      log,
		cancel:   cancel,
		requests: requests,
	}

	w.wg.Add(1)
	go w.kernel(ctx, wCtx)

	return w, wCtx
}

// Wait blocks until every goroutine started by w has returned,
// which happens after the parent context passed to NewWatchdog is canceled.
func (w *Watchdog) Wait() {
	w.wg.Wait()
}

// Terminate cancels the watchdog context with a [ForcedTerminationError].
func (w *Watchdog) Terminate(reason string) {
	w.cancel(ForcedTerminationError{Reason: reason})
}

func (w *Watchdog) kernel(rootCtx, wCtx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-rootCtx.Done():
			w.log.Info("Stopping due to root context cancellation", "cause", context.Cause(rootCtx))
			return

		case req := <-w.requests:
			// Unbuffered, so the monitor knows exactly when a signal was taken.
			sigs := make(chan Signal)

			m := &monitor{
				log:    w.log.With("target", req.Cfg.Name),
				cfg:    req.Cfg,
				sigs:   sigs,
				cancel: w.cancel,
			}

			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				m.run(wCtx)
			}()

			req.Resp <- sigs
		}
	}
}

// Monitor starts monitoring the subsystem named in cfg
// and returns the channel its main loop must receive signals from.
//
// Monitor panics if cfg is invalid.
// The returned channel is nil on a nop watchdog,
// or if ctx is canceled before the monitor starts.
func (w *Watchdog) Monitor(ctx context.Context, cfg MonitorConfig) <-chan Signal {
	if err := cfg.validate(); err != nil {
		panic(fmt.Errorf("BUG: invalid MonitorConfig: %w", err))
	}

	if w.requests == nil {
		return nil
	}

	req := monitorRequest{
		Cfg:  cfg,
		Resp: make(chan (<-chan Signal), 1),
	}
	sigs, _ := gchan.ReqResp(
		ctx, w.log,
		w.requests, req,
		req.Resp,
		"requesting new monitor",
	)
	return sigs
}
