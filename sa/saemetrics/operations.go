// Package saemetrics records consensus step timing in prometheus metrics.
package saemetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/prometheus/client_golang/prometheus"
)

// Operations implements [saconsensus.Operations] with prometheus metrics.
type Operations struct {
	stepElapsed *prometheus.HistogramVec
	lastRound   prometheus.Gauge
}

// NewOperations creates the metrics under namespace and registers them with reg.
func NewOperations(reg prometheus.Registerer, namespace string) (*Operations, error) {
	o := &Operations{
		stepElapsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_elapsed_seconds",
			Help:      "Time from the start of a consensus step until it produced a result",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 20, 40},
		}, []string{"step"}),

		lastRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reported_round",
			Help:      "Round of the most recently completed step",
		}),
	}

	for _, c := range []prometheus.Collector{o.stepElapsed, o.lastRound} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return o, nil
}

func (o *Operations) AddStepElapsedTime(
	_ context.Context, round uint64, step saconsensus.StepName, elapsed time.Duration,
) error {
	o.stepElapsed.WithLabelValues(step.String()).Observe(elapsed.Seconds())
	o.lastRound.Set(float64(round))
	return nil
}
