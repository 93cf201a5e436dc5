package domain

import (
	"time"

	"github.com/google/uuid"
)

const NotificationTypeScheduledBroadcast = "scheduled_broadcast"

// Notification is the audit record written once per job transition.
// Rows are immutable after insert.
type Notification struct {
	ID     uuid.UUID
	UserID uuid.UUID

	Title   string
	Message string
	Status  string // mirrors the job status at transition time
	Type    string

	CreatedAt time.Time
}
