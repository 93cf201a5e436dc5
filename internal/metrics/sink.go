package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Heartbeat loop
	HeartbeatTick(at time.Time)

	// Pipeline loop
	TickStarted()
	TickCompleted(duration time.Duration, dispatched bool, err error)
	TransitionConflict()
	FinderAnomaly()

	// Dispatcher
	SendCompleted(outcome string, duration time.Duration)
	DispatchCompleted(sent, notSent int, duration time.Duration)
	SendsInFlightIncr()
	SendsInFlightDecr()

	// Task bus
	BufferCapacitySet(capacity int)
	BufferSizeUpdate(size int)
	EmitError()

	// Reconciler
	StuckJobsUpdate(count int)
	JobRequeued()

	// Leader election
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for SendCompleted.
const (
	OutcomeSent    = "sent"
	OutcomeNotSent = "not_sent"
)
