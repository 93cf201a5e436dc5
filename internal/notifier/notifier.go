// Package notifier writes the audit notification that accompanies a job's
// transition to in_progress. It must only run on the winning side of the
// conditional transition, so a no-op tick or a losing tick never produces a
// row.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediremind/internal/domain"
)

type Store interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
}

type Notifier struct {
	store Store
	clock func() time.Time
}

func New(store Store) *Notifier {
	return &Notifier{
		store: store,
		clock: time.Now,
	}
}

// RecordTransition appends exactly one notification describing the start of
// a broadcast: recipient count, slot and template name all end up in the
// message.
func (n *Notifier) RecordTransition(ctx context.Context, job domain.Job, recipientCount int, slot domain.Slot) (domain.Notification, error) {
	template := job.TemplateName
	if template == "" {
		template = "(no template)"
	}

	notification := domain.Notification{
		ID:     uuid.New(),
		UserID: job.UserID,
		Title:  fmt.Sprintf("Message broadcast to %d patients", recipientCount),
		Message: fmt.Sprintf("Message sending started at %s on %s with template %s",
			slot.TimeOfDay, slot.Date.Format("2006-01-02"), template),
		Status:    string(domain.JobStatusInProgress),
		Type:      domain.NotificationTypeScheduledBroadcast,
		CreatedAt: n.clock().UTC(),
	}

	if err := n.store.InsertNotification(ctx, notification); err != nil {
		return domain.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return notification, nil
}
