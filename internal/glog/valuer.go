package glog

import (
	"fmt"
	"log/slog"
)

// Hex renders a byte slice as a hex string instead of an escaped Unicode string.
type Hex []byte

func (v Hex) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("%x", v))
}

// ShortHex renders only the first 8 bytes of a value as hex,
// which is enough to tell keys and hashes apart in logs.
type ShortHex []byte

func (v ShortHex) LogValue() slog.Value {
	if len(v) > 8 {
		return slog.StringValue(fmt.Sprintf("%x…", []byte(v[:8])))
	}
	return slog.StringValue(fmt.Sprintf("%x", []byte(v)))
}
