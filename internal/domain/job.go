package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusFinished   JobStatus = "finished"
)

// CategoryScheduledBroadcast marks jobs driven by the per-minute pipeline.
// Other categories (plain calendar entries) are never picked up by the finder.
const CategoryScheduledBroadcast = "scheduled_broadcast"

// Job is one scheduled broadcast: a template plus a recipient list, bound to a
// (date, time-of-day) slot.
type Job struct {
	ID     uuid.UUID
	UserID uuid.UUID

	Title       string
	Description string
	Category    string

	ScheduledDate time.Time // date only, midnight UTC
	TimeStart     string    // "HH:MM"
	TimeEnd       string    // "HH:MM", informational

	Status  JobStatus
	Deleted bool

	TemplateID   *uuid.UUID
	TemplateName string
	TemplateBody string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanTransition reports whether the scheduled flow may move a job from one
// status to another. The only legal edges are pending→in_progress and
// in_progress→finished; nothing ever returns to pending.
func CanTransition(from, to JobStatus) bool {
	switch {
	case from == JobStatusPending && to == JobStatusInProgress:
		return true
	case from == JobStatusInProgress && to == JobStatusFinished:
		return true
	default:
		return false
	}
}

// JobWithCounts pairs a job with its per-status recipient counts for list views.
type JobWithCounts struct {
	Job        Job
	Recipients RecipientCounts
}
