package gtest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor multiplies every timeout produced by [ScaleMs].
// It is read from GSA_TEST_TIME_FACTOR so that a slow CI machine
// can lengthen timeouts without editing tests.
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("GSA_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf("failed to parse GSA_TEST_TIME_FACTOR (%q): %w", f, err))
	}
	if n <= 0 {
		panic(fmt.Errorf("GSA_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

// ScaledDuration is a duration already multiplied by [TimeFactor].
// Helpers accept it instead of time.Duration so that tests cannot pass literal timeouts.
type ScaledDuration time.Duration

// ScaleMs returns ms milliseconds multiplied by [TimeFactor].
func ScaleMs(ms int64) ScaledDuration {
	return TimeFactor * ScaledDuration(ms) * ScaledDuration(time.Millisecond)
}

// Sleep sleeps for the scaled duration.
func Sleep(d ScaledDuration) {
	time.Sleep(time.Duration(d))
}
