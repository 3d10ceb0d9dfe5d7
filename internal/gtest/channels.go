// Package gtest contains small helpers shared by tests across the module.
package gtest

import (
	"time"
)

// TestingFatalHelper is the subset of [testing.TB] used by the channel helpers.
type TestingFatalHelper interface {
	Helper()

	Fatalf(format string, args ...any)
}

const slowHint = "if this only fails on a slow machine, raise GSA_TEST_TIME_FACTOR (currently %d)"

// ReceiveSoon receives a value from ch,
// failing the test if nothing arrives within a short default timeout.
func ReceiveSoon[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(100))
}

// ReceiveOrTimeout is like [ReceiveSoon] with an explicit timeout.
func ReceiveOrTimeout[T any](tb TestingFatalHelper, ch <-chan T, timeout ScaledDuration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("refusing to receive from nil channel %T", ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		tb.Fatalf("timed out receiving from %T; "+slowHint, ch, TimeFactor)
		panic("unreachable")
	}
}

// SendSoon sends x on ch,
// failing the test if the send blocks past a short default timeout.
func SendSoon[T any](tb TestingFatalHelper, ch chan<- T, x T) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("refusing to send to nil channel %T", ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(ScaleMs(100)))
	defer timer.Stop()

	select {
	case ch <- x:
	case <-timer.C:
		tb.Fatalf("timed out sending to %T; "+slowHint, ch, TimeFactor)
		panic("unreachable")
	}
}

// IsSending returns a value that must already be available on ch.
func IsSending[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()

	select {
	case v := <-ch:
		return v
	default:
		tb.Fatalf("expected a value ready on %T, but none was", ch)
		panic("unreachable")
	}
}

// NotSending fails the test if a value is immediately available on ch.
func NotSending[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	select {
	case v := <-ch:
		tb.Fatalf("unexpected value on %T: %v", ch, v)
	default:
	}
}

// NotSendingSoon fails the test if a value arrives on ch within a short duration.
// Prefer [NotSending] when another synchronization point is available.
func NotSendingSoon[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	timer := time.NewTimer(time.Duration(ScaleMs(75)))
	defer timer.Stop()

	select {
	case v := <-ch:
		tb.Fatalf("unexpected value on %T: %v", ch, v)
	case <-timer.C:
	}
}
