package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"mediremind/internal/api"
	"mediremind/internal/dispatcher"
	"mediremind/internal/domain"
	"mediremind/internal/notifier"
	"mediremind/internal/reconciler"
	"mediremind/internal/scheduler"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, 0), mock
}

func jobRows(job domain.Job) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "title", "description", "category",
		"scheduled_date", "time_start", "time_end", "status", "deleted",
		"template_id", "template_name", "template_body",
		"created_at", "updated_at",
	}).AddRow(
		job.ID.String(), job.UserID.String(), job.Title, job.Description, job.Category,
		job.ScheduledDate, job.TimeStart, job.TimeEnd, string(job.Status), job.Deleted,
		nil, job.TemplateName, job.TemplateBody,
		job.CreatedAt, job.UpdatedAt,
	)
}

func sampleJob() domain.Job {
	now := time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC)
	return domain.Job{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Title:         "Vaccination reminder",
		Category:      domain.CategoryScheduledBroadcast,
		ScheduledDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		TimeStart:     "09:30",
		TimeEnd:       "10:00",
		Status:        domain.JobStatusPending,
		TemplateName:  "appointment_reminder",
		TemplateBody:  "Your appointment is tomorrow.",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestGetJobByID_Found(t *testing.T) {
	store, mock := newMockStore(t)
	job := sampleJob()

	mock.ExpectQuery(regexp.QuoteMeta(queryGetJobByID)).
		WithArgs(job.ID).
		WillReturnRows(jobRows(job))

	got, err := store.GetJobByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != job.ID || got.Status != domain.JobStatusPending {
		t.Errorf("got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetJobByID_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(queryGetJobByID)).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetJobByID(context.Background(), jobID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindEligibleJobs_MatchWithCount(t *testing.T) {
	store, mock := newMockStore(t)
	job := sampleJob()
	slot := domain.Slot{Date: job.ScheduledDate, TimeOfDay: "09:30"}

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "title", "description", "category",
		"scheduled_date", "time_start", "time_end", "status", "deleted",
		"template_id", "template_name", "template_body",
		"created_at", "updated_at", "recipient_count",
	}).AddRow(
		job.ID.String(), job.UserID.String(), job.Title, job.Description, job.Category,
		job.ScheduledDate, job.TimeStart, job.TimeEnd, string(job.Status), job.Deleted,
		nil, job.TemplateName, job.TemplateBody,
		job.CreatedAt, job.UpdatedAt, 17,
	)

	mock.ExpectQuery(regexp.QuoteMeta(queryFindEligibleJobs)).
		WithArgs(domain.CategoryScheduledBroadcast, slot.Date, slot.TimeOfDay).
		WillReturnRows(rows)

	matches, err := store.FindEligibleJobs(context.Background(), slot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Job.ID != job.ID {
		t.Errorf("job id mismatch")
	}
	if matches[0].RecipientCount != 17 {
		t.Errorf("recipient count = %d, want 17", matches[0].RecipientCount)
	}
}

func TestFindEligibleJobs_Empty(t *testing.T) {
	store, mock := newMockStore(t)
	slot := domain.Slot{Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), TimeOfDay: "11:00"}

	mock.ExpectQuery(regexp.QuoteMeta(queryFindEligibleJobs)).
		WithArgs(domain.CategoryScheduledBroadcast, slot.Date, slot.TimeOfDay).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	matches, err := store.FindEligibleJobs(context.Background(), slot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestUpdateJobStatus_Wins(t *testing.T) {
	store, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(queryUpdateJobStatus)).
		WithArgs(jobID, "pending", "in_progress", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateJobStatus(context.Background(), jobID, domain.JobStatusPending, domain.JobStatusInProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateJobStatus_Conflict(t *testing.T) {
	store, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(queryUpdateJobStatus)).
		WithArgs(jobID, "pending", "in_progress", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(queryGetJobStatus)).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("in_progress"))

	err := store.UpdateJobStatus(context.Background(), jobID, domain.JobStatusPending, domain.JobStatusInProgress)
	if !errors.Is(err, domain.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestUpdateJobStatus_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(queryUpdateJobStatus)).
		WithArgs(jobID, "in_progress", "finished", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(queryGetJobStatus)).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := store.UpdateJobStatus(context.Background(), jobID, domain.JobStatusInProgress, domain.JobStatusFinished)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateJob_InsertsJobAndRecipients(t *testing.T) {
	store, mock := newMockStore(t)
	job := sampleJob()
	recipients := []domain.Recipient{
		{ID: uuid.New(), JobID: job.ID, PatientName: "Maria Quispe", Phone: "+51987654321", Status: domain.DeliveryStatusPending},
		{ID: uuid.New(), JobID: job.ID, PatientName: "Jose Flores", Phone: "+51911111111", Status: domain.DeliveryStatusPending},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryInsertJob)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertRecipient)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertRecipient)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.CreateJob(context.Background(), job, recipients); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateJob_NotEditable(t *testing.T) {
	store, mock := newMockStore(t)
	job := sampleJob()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryUpdateJob)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(queryGetJobStatus)).
		WithArgs(job.ID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("in_progress"))
	mock.ExpectRollback()

	err := store.UpdateJob(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrJobNotEditable) {
		t.Fatalf("expected ErrJobNotEditable, got %v", err)
	}
}

func TestUpdateJob_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	job := sampleJob()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryUpdateJob)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(queryGetJobStatus)).
		WithArgs(job.ID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	err := store.UpdateJob(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSoftDeleteJob_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(querySoftDeleteJob)).
		WithArgs(jobID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SoftDeleteJob(context.Background(), jobID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendRecipients_InsertsAllInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	jobID := uuid.New()
	recipients := []domain.Recipient{
		{ID: uuid.New(), JobID: jobID, PatientName: "Maria Quispe", Phone: "+51987654321", Status: domain.DeliveryStatusPending},
		{ID: uuid.New(), JobID: jobID, PatientName: "Jose Flores", Phone: "+51911111111", Status: domain.DeliveryStatusPending},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryInsertRecipient)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertRecipient)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.AppendRecipients(context.Background(), recipients); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAppendRecipients_RollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)
	jobID := uuid.New()
	recipients := []domain.Recipient{
		{ID: uuid.New(), JobID: jobID, PatientName: "Maria Quispe", Phone: "+51987654321", Status: domain.DeliveryStatusPending},
		{ID: uuid.New(), JobID: jobID, PatientName: "Jose Flores", Phone: "+51911111111", Status: domain.DeliveryStatusPending},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryInsertRecipient)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := store.AppendRecipients(context.Background(), recipients); err == nil {
		t.Fatal("expected error from failed insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSetRecipientStatus_Applies(t *testing.T) {
	store, mock := newMockStore(t)
	recipientID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(querySetRecipientStatus)).
		WithArgs(recipientID, "sent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetRecipientStatus(context.Background(), recipientID, domain.DeliveryStatusSent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetRecipientStatus_AlreadyDecided(t *testing.T) {
	store, mock := newMockStore(t)
	recipientID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(querySetRecipientStatus)).
		WithArgs(recipientID, "not_sent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(queryGetRecipientStatus)).
		WithArgs(recipientID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))

	err := store.SetRecipientStatus(context.Background(), recipientID, domain.DeliveryStatusNotSent)
	if !errors.Is(err, domain.ErrRecipientDecided) {
		t.Fatalf("expected ErrRecipientDecided, got %v", err)
	}
}

func TestCountRecipientsByStatus_Aggregates(t *testing.T) {
	store, mock := newMockStore(t)
	jobA := uuid.New()
	jobB := uuid.New()

	rows := sqlmock.NewRows([]string{"job_id", "status", "count"}).
		AddRow(jobA.String(), "sent", 7).
		AddRow(jobA.String(), "not_sent", 2).
		AddRow(jobB.String(), "pending", 4)

	mock.ExpectQuery(regexp.QuoteMeta(queryCountRecipientsByStatus)).
		WillReturnRows(rows)

	counts, err := store.CountRecipientsByStatus(context.Background(), []uuid.UUID{jobA, jobB})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := counts[jobA]
	if a.Total != 9 || a.Sent != 7 || a.NotSent != 2 {
		t.Errorf("jobA counts = %+v", a)
	}
	b := counts[jobB]
	if b.Total != 4 || b.Pending != 4 {
		t.Errorf("jobB counts = %+v", b)
	}
}

func TestCountRecipientsByStatus_NoJobs(t *testing.T) {
	store, _ := newMockStore(t)

	counts, err := store.CountRecipientsByStatus(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected empty map, got %v", counts)
	}
}

func TestGetStuckJobs_ReturnsOldestFirst(t *testing.T) {
	store, mock := newMockStore(t)
	job := sampleJob()
	job.Status = domain.JobStatusInProgress
	cutoff := time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetStuckJobs)).
		WithArgs(cutoff, 100).
		WillReturnRows(jobRows(job))

	stuck, err := store.GetStuckJobs(context.Background(), cutoff, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != job.ID {
		t.Errorf("stuck = %v", stuck)
	}
}

func TestInsertNotification(t *testing.T) {
	store, mock := newMockStore(t)
	n := domain.Notification{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Title:     "Message broadcast to 12 patients",
		Message:   "Message sending started at 09:30 on 2026-03-10 with template appointment_reminder",
		Status:    "in_progress",
		Type:      domain.NotificationTypeScheduledBroadcast,
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec(regexp.QuoteMeta(queryInsertNotification)).
		WithArgs(n.ID, n.UserID, n.Title, n.Message, n.Status, n.Type, n.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.InsertNotification(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

var (
	_ scheduler.Store  = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
	_ notifier.Store   = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)
