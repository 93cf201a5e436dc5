package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget. Registration errors are
// logged but never propagated; metrics that fail to register keep working as
// unregistered collectors.
type PrometheusSink struct {
	log zerolog.Logger

	heartbeatTimestamp prometheus.Gauge

	ticksTotal           prometheus.Counter
	tickErrorsTotal      prometheus.Counter
	jobsDispatchedTotal  prometheus.Counter
	tickDuration         prometheus.Histogram
	transitionConflicts  prometheus.Counter
	finderAnomaliesTotal prometheus.Counter

	sendsTotal       *prometheus.CounterVec
	sendDuration     prometheus.Histogram
	dispatchDuration prometheus.Histogram
	recipientsTotal  *prometheus.CounterVec
	sendsInFlight    prometheus.Gauge

	busBufferSize     prometheus.Gauge
	busBufferCapacity prometheus.Gauge
	busEmitErrors     prometheus.Counter

	stuckJobs     prometheus.Gauge
	requeuedTotal prometheus.Counter

	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, log zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log}

	s.heartbeatTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediremind_heartbeat_timestamp_seconds",
		Help: "Unix time of the last heartbeat tick.",
	})

	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediremind_pipeline_ticks_total",
		Help: "Total number of pipeline ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediremind_pipeline_tick_errors_total",
		Help: "Total number of pipeline ticks aborted by a store error.",
	})
	s.jobsDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediremind_pipeline_jobs_dispatched_total",
		Help: "Total number of jobs that won their transition and were enqueued for dispatch.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediremind_pipeline_tick_duration_seconds",
		Help:    "Duration of each pipeline tick in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
	s.transitionConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediremind_pipeline_transition_conflicts_total",
		Help: "Total number of conditional transitions lost to a concurrent tick.",
	})
	s.finderAnomaliesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediremind_pipeline_finder_anomalies_total",
		Help: "Total number of ticks where more than one job matched a slot.",
	})

	s.sendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediremind_dispatcher_sends_total",
		Help: "Total number of recipient sends by outcome.",
	}, []string{"outcome"})
	s.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediremind_dispatcher_send_duration_seconds",
		Help:    "Gateway send latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediremind_dispatcher_dispatch_duration_seconds",
		Help:    "Whole-job dispatch duration in seconds.",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
	})
	s.recipientsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediremind_dispatcher_recipients_total",
		Help: "Per-dispatch recipient outcomes, aggregated at job completion.",
	}, []string{"outcome"})
	s.sendsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediremind_dispatcher_sends_in_flight",
		Help: "Number of gateway sends currently in flight.",
	})

	s.busBufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediremind_taskbus_buffer_size",
		Help: "Number of dispatch tasks waiting in the bus buffer.",
	})
	s.busBufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediremind_taskbus_buffer_capacity",
		Help: "Capacity of the dispatch task buffer.",
	})
	s.busEmitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediremind_taskbus_emit_errors_total",
		Help: "Total number of failed task emissions.",
	})

	s.stuckJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediremind_reconciler_stuck_jobs",
		Help: "Number of in_progress jobs past the stuck threshold at the last scan.",
	})
	s.requeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediremind_reconciler_requeued_total",
		Help: "Total number of stuck jobs re-enqueued for dispatch.",
	})

	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediremind_leader_status",
		Help: "1 when this instance holds the leader lock, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediremind_leader_acquired_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediremind_leader_lost_total",
		Help: "Total number of times this instance lost leadership, by reason.",
	}, []string{"reason"})

	for _, c := range []prometheus.Collector{
		s.heartbeatTimestamp,
		s.ticksTotal, s.tickErrorsTotal, s.jobsDispatchedTotal, s.tickDuration,
		s.transitionConflicts, s.finderAnomaliesTotal,
		s.sendsTotal, s.sendDuration, s.dispatchDuration, s.recipientsTotal, s.sendsInFlight,
		s.busBufferSize, s.busBufferCapacity, s.busEmitErrors,
		s.stuckJobs, s.requeuedTotal,
		s.leaderStatus, s.leaderAcquiredTotal, s.leaderLostTotal,
	} {
		if err := reg.Register(c); err != nil {
			s.log.Warn().Err(err).Msg("metrics: failed to register collector")
		}
	}

	return s
}

func (s *PrometheusSink) HeartbeatTick(at time.Time) {
	s.heartbeatTimestamp.Set(float64(at.Unix()))
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, dispatched bool, err error) {
	s.tickDuration.Observe(duration.Seconds())
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
	if dispatched {
		s.jobsDispatchedTotal.Inc()
	}
}

func (s *PrometheusSink) TransitionConflict() {
	s.transitionConflicts.Inc()
}

func (s *PrometheusSink) FinderAnomaly() {
	s.finderAnomaliesTotal.Inc()
}

func (s *PrometheusSink) SendCompleted(outcome string, duration time.Duration) {
	s.sendsTotal.WithLabelValues(outcome).Inc()
	s.sendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DispatchCompleted(sent, notSent int, duration time.Duration) {
	s.dispatchDuration.Observe(duration.Seconds())
	s.recipientsTotal.WithLabelValues(OutcomeSent).Add(float64(sent))
	s.recipientsTotal.WithLabelValues(OutcomeNotSent).Add(float64(notSent))
}

func (s *PrometheusSink) SendsInFlightIncr() { s.sendsInFlight.Inc() }
func (s *PrometheusSink) SendsInFlightDecr() { s.sendsInFlight.Dec() }

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.busBufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.busBufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.busEmitErrors.Inc()
}

func (s *PrometheusSink) StuckJobsUpdate(count int) {
	s.stuckJobs.Set(float64(count))
}

func (s *PrometheusSink) JobRequeued() {
	s.requeuedTotal.Inc()
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
