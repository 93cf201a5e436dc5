// Package scheduler runs the two periodic loops: a coarse heartbeat used
// only as a liveness signal, and the per-minute pipeline that finds at most
// one eligible job per tick and moves it through transition, notification
// and dispatch hand-off.
//
// Ticks are idempotent-safe to retry: eligibility is re-checked against the
// store every time, and the pending→in_progress transition is a conditional
// update, so overlapping or repeated ticks cannot double-dispatch a job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediremind/internal/domain"
)

type Store interface {
	// FindEligibleJobs returns slot matches ordered by job ID, at most two
	// rows so callers can detect a uniqueness anomaly. Empty result is the
	// common case, not an error.
	FindEligibleJobs(ctx context.Context, slot domain.Slot) ([]EligibleJob, error)
	// UpdateJobStatus must be a conditional update: it applies only when the
	// current status equals expected and returns domain.ErrStatusConflict
	// otherwise.
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, expected, next domain.JobStatus) error
}

type TransitionNotifier interface {
	RecordTransition(ctx context.Context, job domain.Job, recipientCount int, slot domain.Slot) (domain.Notification, error)
}

type TaskEmitter interface {
	Emit(ctx context.Context, task domain.DispatchTask) error
}

// MetricsSink records scheduler metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	HeartbeatTick(at time.Time)
	TickStarted()
	TickCompleted(duration time.Duration, dispatched bool, err error)
	TransitionConflict()
	FinderAnomaly()
}

// EligibleJob is a finder match: the job plus its current recipient count.
type EligibleJob struct {
	Job            domain.Job
	RecipientCount int
}

// Schedule yields successive fire times, typically backed by a cron
// expression.
type Schedule interface {
	Next(after time.Time) time.Time
}

type Config struct {
	Heartbeat Schedule
	Pipeline  Schedule
	Location  *time.Location
}

type Scheduler struct {
	config   Config
	store    Store
	notifier TransitionNotifier
	emitter  TaskEmitter
	metrics  MetricsSink // optional, nil = disabled
	log      zerolog.Logger
	clock    func() time.Time
}

func New(config Config, store Store, notifier TransitionNotifier, emitter TaskEmitter, log zerolog.Logger) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Scheduler{
		config:   config,
		store:    store,
		notifier: notifier,
		emitter:  emitter,
		log:      log.With().Str("component", "scheduler").Logger(),
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Run drives both loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Msg("started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.runLoop(ctx, s.config.Heartbeat, s.heartbeatTick)
	}()
	go func() {
		defer wg.Done()
		s.runLoop(ctx, s.config.Pipeline, s.pipelineTick)
	}()
	wg.Wait()

	s.log.Info().Msg("stopped")
}

// runLoop sleeps until each schedule boundary and fires the tick function.
// Tick panics and errors are contained here; the loop itself never dies.
func (s *Scheduler) runLoop(ctx context.Context, sched Schedule, tick func(ctx context.Context)) {
	for {
		now := s.clock().In(s.config.Location)
		next := sched.Next(now)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
			s.safeTick(ctx, tick)
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, tick func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("tick panicked")
		}
	}()
	tick(ctx)
}

func (s *Scheduler) heartbeatTick(ctx context.Context) {
	now := s.clock().In(s.config.Location)
	if s.metrics != nil {
		s.metrics.HeartbeatTick(now)
	}
	s.log.Debug().Str("at", now.Format("2006-01-02 15:04:05")).Msg("heartbeat")
}

func (s *Scheduler) pipelineTick(ctx context.Context) {
	start := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	dispatched, err := s.processTick(ctx)

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), dispatched, err)
	}
	if err != nil {
		// Store failures abort the whole tick; the next tick re-checks
		// eligibility from scratch, so no retry here.
		s.log.Error().Err(err).Msg("tick aborted")
	}
}

// processTick runs one pass of the find → transition → notify → dispatch
// pipeline. It reports whether a job was handed to the dispatcher.
func (s *Scheduler) processTick(ctx context.Context) (bool, error) {
	now := s.clock().In(s.config.Location)
	slot := domain.SlotAt(now)

	matches, err := s.store.FindEligibleJobs(ctx, slot)
	if err != nil {
		return false, fmt.Errorf("find eligible job: %w", err)
	}
	if len(matches) == 0 {
		s.log.Debug().Str("slot", slot.String()).Msg("no eligible job")
		return false, nil
	}
	if len(matches) > 1 {
		// The uniqueness invariant should make this impossible. Take the
		// lowest ID deterministically and leave the rest for later slots.
		if s.metrics != nil {
			s.metrics.FinderAnomaly()
		}
		s.log.Warn().
			Str("slot", slot.String()).
			Str("selected", matches[0].Job.ID.String()).
			Int("matches", len(matches)).
			Msg("multiple jobs matched one slot, dispatching lowest id only")
	}

	eligible := matches[0]
	job := eligible.Job

	err = s.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusInProgress)
	if errors.Is(err, domain.ErrStatusConflict) {
		// A concurrent tick won the transition. Benign: it already created
		// the notification and enqueued the dispatch.
		if s.metrics != nil {
			s.metrics.TransitionConflict()
		}
		s.log.Debug().Str("job", job.ID.String()).Msg("lost transition race, skipping")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transition job %s: %w", job.ID, err)
	}

	if _, err := s.notifier.RecordTransition(ctx, job, eligible.RecipientCount, slot); err != nil {
		// The transition already won; dropping the dispatch now would
		// strand the job in_progress until the reconciler finds it.
		s.log.Error().Err(err).Str("job", job.ID.String()).Msg("failed to record transition notification")
	}

	task := domain.DispatchTask{
		JobID:     job.ID,
		UserID:    job.UserID,
		Slot:      slot,
		CreatedAt: now.UTC(),
	}
	if err := s.emitter.Emit(ctx, task); err != nil {
		return false, fmt.Errorf("emit dispatch task for job %s: %w", job.ID, err)
	}

	s.log.Info().
		Str("job", job.ID.String()).
		Str("slot", slot.String()).
		Int("recipients", eligible.RecipientCount).
		Msg("job dispatched")
	return true, nil
}
