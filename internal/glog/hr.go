package glog

import "log/slog"

// RI returns a copy of log that includes the round and iteration.
func RI(log *slog.Logger, round uint64, iteration uint8) *slog.Logger {
	return log.With("round", round, "iteration", iteration)
}

// RIE is like [RI] and also includes err.
func RIE(log *slog.Logger, round uint64, iteration uint8, e error) *slog.Logger {
	return log.With("round", round, "iteration", iteration, "err", e)
}
