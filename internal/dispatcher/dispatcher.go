// Package dispatcher executes dispatch tasks: it snapshots a job's
// recipient list, sends the job's template to every recipient still pending,
// records each outcome in the recipient ledger and finally moves the job to
// finished through the same conditional-update rule the scheduler uses.
//
// One recipient's failure never aborts the batch, and a re-dispatched task
// (reconciler requeue) is safe because only pending recipients are sent and
// the finish transition applies at most once.
package dispatcher

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
	GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	ListRecipients(ctx context.Context, jobID uuid.UUID) ([]domain.Recipient, error)
	// SetRecipientStatus applies only while the recipient is pending and
	// returns domain.ErrRecipientDecided otherwise.
	SetRecipientStatus(ctx context.Context, recipientID uuid.UUID, status domain.DeliveryStatus) error
	// UpdateJobStatus is the conditional transition shared with the
	// scheduler; see scheduler.Store.
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, expected, next domain.JobStatus) error
}

// AnalyticsSink records per-recipient outcomes as a best-effort side
// effect. Implementations handle their own errors; analytics never affects
// dispatch correctness.
type AnalyticsSink interface {
	Record(ctx context.Context, jobID uuid.UUID, outcome string, at time.Time)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SendCompleted(outcome string, duration time.Duration)
	DispatchCompleted(sent, notSent int, duration time.Duration)
	SendsInFlightIncr()
	SendsInFlightDecr()
}

type Config struct {
	// Workers bounds dispatch concurrency. A slow recipient list occupies
	// one worker; the others keep draining the bus.
	Workers int
}

type Dispatcher struct {
	config    Config
	store     Store
	sender    Sender
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	log       zerolog.Logger
	clock     func() time.Time

	drainTimeout time.Duration
}

// DefaultDrainTimeout is the maximum time to wait for buffered tasks during
// shutdown.
const DefaultDrainTimeout = 30 * time.Second

func New(config Config, store Store, sender Sender, log zerolog.Logger) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Dispatcher{
		config:       config,
		store:        store,
		sender:       sender,
		log:          log.With().Str("component", "dispatcher").Logger(),
		clock:        time.Now,
		drainTimeout: DefaultDrainTimeout,
	}
}

// WithAnalytics attaches an analytics sink to the dispatcher.
func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	d.drainTimeout = timeout
	return d
}

// Run consumes tasks from the channel with a bounded worker pool until ctx
// is cancelled, then drains remaining buffered tasks with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.DispatchTask) {
	d.log.Info().Int("workers", d.config.Workers).Msg("started")

	var wg sync.WaitGroup
	wg.Add(d.config.Workers)
	for i := 0; i < d.config.Workers; i++ {
		worker := i
		go func() {
			defer wg.Done()
			d.runWorker(ctx, ch, worker)
		}()
	}
	wg.Wait()

	d.log.Info().Msg("stopped")
}

func (d *Dispatcher) runWorker(ctx context.Context, ch <-chan domain.DispatchTask, worker int) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch, worker)
			return
		case task := <-ch:
			if _, err := d.Dispatch(ctx, task); err != nil {
				d.log.Error().Err(err).Int("worker", worker).Str("job", task.JobID.String()).Msg("dispatch failed")
			}
		}
	}
}

// drain processes tasks still buffered after the shutdown signal. Uses a
// background context since the run context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.DispatchTask, worker int) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				d.log.Warn().Int("worker", worker).Int("drained", count).Msg("drain timeout")
			}
			return
		case task, ok := <-ch:
			if !ok {
				return
			}
			if _, err := d.Dispatch(drainCtx, task); err != nil {
				d.log.Error().Err(err).Str("job", task.JobID.String()).Msg("drain dispatch failed")
			}
			count++
		default:
			if count > 0 {
				d.log.Info().Int("worker", worker).Int("drained", count).Msg("drain complete")
			}
			return
		}
	}
}

// Dispatch processes one task. The report always carries one outcome per
// recipient in the snapshot, whatever mix of successes and failures the
// sends produced.
func (d *Dispatcher) Dispatch(ctx context.Context, task domain.DispatchTask) (domain.DispatchReport, error) {
	start := d.clock()
	report := domain.DispatchReport{JobID: task.JobID, StartedAt: start.UTC()}

	job, err := d.store.GetJobByID(ctx, task.JobID)
	if err != nil {
		return report, fmt.Errorf("get job: %w", err)
	}

	if job.Status != domain.JobStatusInProgress {
		// A requeued task can race a concurrent worker that already
		// finished the job. Nothing left to do.
		report.Finished = job.Status == domain.JobStatusFinished
		d.log.Debug().Str("job", job.ID.String()).Str("status", string(job.Status)).Msg("job not in progress, skipping dispatch")
		return report, nil
	}

	// Snapshot once; recipients appended after this point belong to no
	// dispatch and stay pending.
	recipients, err := d.store.ListRecipients(ctx, task.JobID)
	if err != nil {
		return report, fmt.Errorf("list recipients: %w", err)
	}

	for _, r := range recipients {
		if r.Status.Terminal() {
			// Requeue path: outcome already decided in an earlier run.
			report.Add(domain.RecipientOutcome{
				RecipientID: r.ID,
				Phone:       r.Phone,
				Status:      r.Status,
			})
			continue
		}
		report.Add(d.sendOne(ctx, job, r))
	}

	err = d.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusInProgress, domain.JobStatusFinished)
	switch {
	case errors.Is(err, domain.ErrStatusConflict):
		// Another run finished the job between our snapshot and now.
		d.log.Debug().Str("job", job.ID.String()).Msg("job already finished elsewhere")
		report.Finished = true
	case err != nil:
		return report, fmt.Errorf("finish job %s: %w", job.ID, err)
	default:
		report.Finished = true
	}

	report.FinishedAt = d.clock().UTC()
	if d.metrics != nil {
		d.metrics.DispatchCompleted(report.Sent, report.NotSent, report.FinishedAt.Sub(report.StartedAt))
	}

	d.log.Info().
		Str("job", job.ID.String()).
		Int("recipients", len(report.Outcomes)).
		Int("sent", report.Sent).
		Int("not_sent", report.NotSent).
		Bool("requeued", task.Requeued).
		Msg("dispatch complete")
	return report, nil
}

// sendOne delivers to a single recipient and records the outcome in the
// ledger. All send failures are treated uniformly as not_sent; retry policy,
// if any, belongs to the gateway.
func (d *Dispatcher) sendOne(ctx context.Context, job domain.Job, r domain.Recipient) domain.RecipientOutcome {
	if d.metrics != nil {
		d.metrics.SendsInFlightIncr()
	}
	result := d.sender.Send(ctx, SendRequest{
		JobID:        job.ID,
		RecipientID:  r.ID,
		Phone:        r.Phone,
		PatientName:  r.PatientName,
		TemplateName: job.TemplateName,
		TemplateBody: job.TemplateBody,
	})
	if d.metrics != nil {
		d.metrics.SendsInFlightDecr()
	}

	outcome := domain.RecipientOutcome{
		RecipientID: r.ID,
		Phone:       r.Phone,
		Status:      domain.DeliveryStatusSent,
		Duration:    result.Duration,
	}
	if !result.IsSuccess() {
		outcome.Status = domain.DeliveryStatusNotSent
		if result.Error != nil {
			outcome.Error = result.Error.Error()
		} else {
			outcome.Error = fmt.Sprintf("gateway status %d", result.StatusCode)
		}
		d.log.Warn().
			Str("job", job.ID.String()).
			Str("recipient", r.ID.String()).
			Int("status_code", result.StatusCode).
			Err(result.Error).
			Msg("send failed")
	}

	if err := d.store.SetRecipientStatus(ctx, r.ID, outcome.Status); err != nil {
		if errors.Is(err, domain.ErrRecipientDecided) {
			d.log.Debug().Str("recipient", r.ID.String()).Msg("recipient outcome already recorded")
		} else {
			d.log.Error().Err(err).Str("recipient", r.ID.String()).Msg("failed to record recipient outcome")
		}
	}

	if d.metrics != nil {
		d.metrics.SendCompleted(string(outcome.Status), result.Duration)
	}
	if d.analytics != nil {
		d.analytics.Record(ctx, job.ID, string(outcome.Status), d.clock().UTC())
	}
	return outcome
}
