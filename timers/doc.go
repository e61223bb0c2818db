// Package timers implements a distributed delayed-task dispatcher backed by
// Redis. Applications register typed handlers on a Router, compose one or
// more Routers into an Engine, schedule future activations with SetTimer,
// and drive the dispatch loop externally by calling HandleReadyTimers on a
// cadence.
package timers
