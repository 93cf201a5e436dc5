package metrics

import "time"

// NoopSink implements Sink with no-ops, for when metrics are disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) HeartbeatTick(time.Time)                   {}
func (NoopSink) TickStarted()                              {}
func (NoopSink) TickCompleted(time.Duration, bool, error)  {}
func (NoopSink) TransitionConflict()                       {}
func (NoopSink) FinderAnomaly()                            {}
func (NoopSink) SendCompleted(string, time.Duration)       {}
func (NoopSink) DispatchCompleted(int, int, time.Duration) {}
func (NoopSink) SendsInFlightIncr()                        {}
func (NoopSink) SendsInFlightDecr()                        {}
func (NoopSink) BufferCapacitySet(int)                     {}
func (NoopSink) BufferSizeUpdate(int)                      {}
func (NoopSink) EmitError()                                {}
func (NoopSink) StuckJobsUpdate(int)                       {}
func (NoopSink) JobRequeued()                              {}
func (NoopSink) LeaderStatusChanged(bool)                  {}
func (NoopSink) LeaderAcquired()                           {}
func (NoopSink) LeaderLost(string)                         {}

var _ Sink = NoopSink{}
