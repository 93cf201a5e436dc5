package domain

import (
	"time"

	"github.com/google/uuid"
)

// DispatchTask is emitted by the scheduler when a job wins its transition to
// in_progress, and consumed by the dispatcher worker pool. The reconciler
// re-emits tasks for jobs stuck in_progress; Requeued marks those.
type DispatchTask struct {
	JobID  uuid.UUID
	UserID uuid.UUID

	Slot     Slot
	Requeued bool

	CreatedAt time.Time
}

// RecipientOutcome is the result of one recipient's send within a dispatch.
type RecipientOutcome struct {
	RecipientID uuid.UUID
	Phone       string
	Status      DeliveryStatus
	Error       string
	Duration    time.Duration
}

// DispatchReport summarizes one dispatch run. Outcomes always has one entry
// per recipient in the snapshot taken at dispatch start, however many sends
// failed along the way.
type DispatchReport struct {
	JobID    uuid.UUID
	Outcomes []RecipientOutcome

	Sent    int
	NotSent int

	StartedAt  time.Time
	FinishedAt time.Time
	Finished   bool // job reached finished status in this run
}

// Add records one outcome and updates the aggregate counters.
func (r *DispatchReport) Add(o RecipientOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case DeliveryStatusSent:
		r.Sent++
	case DeliveryStatusNotSent:
		r.NotSent++
	}
}
