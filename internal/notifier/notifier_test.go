package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mediremind/internal/domain"
)

type mockStore struct {
	mu            sync.Mutex
	notifications []domain.Notification
	failWith      error
}

func (s *mockStore) InsertNotification(ctx context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func TestNotifier_RecordTransition(t *testing.T) {
	store := &mockStore{}
	n := New(store)
	n.clock = func() time.Time { return time.Date(2024, 1, 10, 9, 0, 3, 0, time.UTC) }

	job := domain.Job{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		TemplateName: "appointment-reminder",
	}
	slot := domain.Slot{
		Date:      time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		TimeOfDay: "09:00",
	}

	got, err := n.RecordTransition(context.Background(), job, 3, slot)
	if err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}

	if len(store.notifications) != 1 {
		t.Fatalf("notification rows = %d, want 1", len(store.notifications))
	}
	if got.UserID != job.UserID {
		t.Errorf("UserID = %s, want %s", got.UserID, job.UserID)
	}
	if !strings.Contains(got.Title, "3") {
		t.Errorf("title %q should mention the recipient count", got.Title)
	}
	for _, want := range []string{"09:00", "2024-01-10", "appointment-reminder"} {
		if !strings.Contains(got.Message, want) {
			t.Errorf("message %q should contain %q", got.Message, want)
		}
	}
	if got.Status != string(domain.JobStatusInProgress) {
		t.Errorf("Status = %q, want %q", got.Status, domain.JobStatusInProgress)
	}
	if got.Type != domain.NotificationTypeScheduledBroadcast {
		t.Errorf("Type = %q", got.Type)
	}
}

func TestNotifier_EmptyTemplateName(t *testing.T) {
	store := &mockStore{}
	n := New(store)

	job := domain.Job{ID: uuid.New(), UserID: uuid.New()}
	slot := domain.SlotAt(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))

	got, err := n.RecordTransition(context.Background(), job, 0, slot)
	if err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}
	if !strings.Contains(got.Message, "(no template)") {
		t.Errorf("message %q should fall back to a placeholder template name", got.Message)
	}
}
