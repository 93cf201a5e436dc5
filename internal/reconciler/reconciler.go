// Package reconciler detects and re-dispatches stuck jobs.
//
// A job is stuck when it has been in_progress longer than a threshold: its
// dispatch task was lost (buffer overflow, crash between transition and
// emit, process killed mid batch) so some recipients may still be pending.
//
// The reconciler periodically scans for stuck jobs and re-emits dispatch
// tasks for them. Safety comes from the dispatcher's pending-only sends and
// conditional finish transition; a job whose batch actually completed is
// finished on re-dispatch without sending anything twice.
package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mediremind/internal/domain"
)

// Store defines the interface for fetching stuck jobs.
type Store interface {
	GetStuckJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error)
}

// TaskEmitter defines the interface for re-emitting dispatch tasks.
type TaskEmitter interface {
	Emit(ctx context.Context, task domain.DispatchTask) error
}

// MetricsSink defines the interface for recording reconciler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	StuckJobsUpdate(count int)
	JobRequeued()
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which an in_progress job is considered
	// stuck. Must comfortably exceed the longest expected dispatch batch.
	// Default: 10 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of stuck jobs to process per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 10 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler detects stuck jobs and re-emits dispatch tasks for them.
type Reconciler struct {
	config  Config
	store   Store
	emitter TaskEmitter
	metrics MetricsSink // optional, nil = disabled
	log     zerolog.Logger
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store, emitter TaskEmitter, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		log:     log.With().Str("component", "reconciler").Logger(),
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.log.Info().
		Dur("interval", r.config.Interval).
		Dur("threshold", r.config.Threshold).
		Int("batch", r.config.BatchSize).
		Msg("started")

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	stuck, err := r.store.GetStuckJobs(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		r.log.Error().Err(err).Msg("failed to fetch stuck jobs")
		return
	}

	if r.metrics != nil {
		r.metrics.StuckJobsUpdate(len(stuck))
	}

	if len(stuck) == 0 {
		// Nothing to do. Silent success.
		return
	}

	r.log.Warn().Int("count", len(stuck)).Msg("found stuck jobs")

	requeued := 0
	failed := 0

	for _, job := range stuck {
		// Check context before each emit to allow graceful shutdown
		if ctx.Err() != nil {
			r.log.Info().Int("processed", requeued+failed).Int("total", len(stuck)).Msg("cycle interrupted")
			return
		}

		task := domain.DispatchTask{
			JobID:     job.ID,
			UserID:    job.UserID,
			Slot:      domain.Slot{Date: job.ScheduledDate, TimeOfDay: job.TimeStart},
			Requeued:  true,
			CreatedAt: now,
		}

		if err := r.emitter.Emit(ctx, task); err != nil {
			// Emit failed (buffer full, context cancelled).
			// Log and continue - will retry next cycle.
			r.log.Error().Err(err).Str("job", job.ID.String()).Msg("failed to requeue")
			failed++
			continue
		}

		r.log.Info().
			Str("job", job.ID.String()).
			Str("slot", task.Slot.String()).
			Str("age", now.Sub(job.UpdatedAt).Round(time.Second).String()).
			Msg("requeued stuck job")
		if r.metrics != nil {
			r.metrics.JobRequeued()
		}
		requeued++
	}

	r.log.Info().Int("requeued", requeued).Int("failed", failed).Msg("cycle complete")
}
