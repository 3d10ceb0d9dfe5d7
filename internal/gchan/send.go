// Package gchan contains helpers for common channel operations,
// logging in a consistent format where they give up.
package gchan

import (
	"context"
	"log/slog"
)

// SendC sends val to out unless ctx is canceled first.
// On cancellation it logs "Context canceled while " + during and reports false.
func SendC[T any](ctx context.Context, log *slog.Logger, out chan<- T, val T, during string) (sent bool) {
	select {
	case <-ctx.Done():
		log.Info("Context canceled while "+during, "cause", context.Cause(ctx))
		return false
	case out <- val:
		return true
	}
}

// RecvC receives from in unless ctx is canceled first.
// On cancellation it logs "Context canceled while " + during
// and returns the zero value and false.
func RecvC[T any](ctx context.Context, log *slog.Logger, in <-chan T, during string) (val T, received bool) {
	select {
	case <-ctx.Done():
		log.Info("Context canceled while "+during, "cause", context.Cause(ctx))
		return val, false
	case v := <-in:
		return v, true
	}
}

// TrySend attempts a non-blocking send of val to out.
// If out is full, the value is dropped, a debug line naming what was dropped is logged,
// and TrySend reports false.
func TrySend[T any](log *slog.Logger, out chan<- T, val T, what string) (sent bool) {
	select {
	case out <- val:
		return true
	default:
		log.Debug("Dropped "+what+" on full channel", "cap", cap(out))
		return false
	}
}

// ReqResp sends reqValue to reqChan and then waits for a value on respChan,
// giving up on either step if ctx is canceled.
func ReqResp[T, U any](
	ctx context.Context, log *slog.Logger,
	reqChan chan<- T, reqValue T,
	respChan <-chan U,
	reqRespType string,
) (respVal U, ok bool) {
	if !SendC(ctx, log, reqChan, reqValue, "making "+reqRespType+" request") {
		return respVal, false
	}

	return RecvC(ctx, log, respChan, "receiving "+reqRespType+" response")
}
