package timers

import "time"

// Metrics is the narrow observation surface the engine reports through.
// internal/metrics.TimersMetrics implements this with Prometheus
// instruments; tests and callers that don't care about metrics can pass
// nil to NewEngine and get noopMetrics instead.
type Metrics interface {
	// ObserveTickDuration records how long one HandleReadyTimers call took.
	ObserveTickDuration(d time.Duration)

	// IncDispatched counts one per-timer dispatch outcome, keyed by topic
	// and outcome (succeeded, handler_error, handler_not_found,
	// payload_missing, payload_invalid, lock_busy).
	IncDispatched(topic, outcome string)

	// SetLastBatchSize records the number of due timers read in the most
	// recent tick.
	SetLastBatchSize(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTickDuration(time.Duration)   {}
func (noopMetrics) IncDispatched(string, string)        {}
func (noopMetrics) SetLastBatchSize(int)                {}
