// Package postgres implements the job store on PostgreSQL.
//
// Every mutation of shared state is a single conditional row update (the
// WHERE clause carries the expected prior state); there are no long-lived
// locks. Callers distinguish "row missing" from "row already transitioned"
// via domain.ErrNotFound and the conflict sentinels.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"mediremind/internal/domain"
	"mediremind/internal/scheduler"
)

// Store implements the store interfaces consumed by the scheduler,
// dispatcher, notifier, reconciler and API packages.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a Store. opTimeout bounds every single statement; zero
// disables the per-operation timeout.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func scanJob(sc interface{ Scan(...any) error }) (domain.Job, error) {
	var (
		job        domain.Job
		templateID uuid.NullUUID
		status     string
	)
	err := sc.Scan(
		&job.ID, &job.UserID, &job.Title, &job.Description, &job.Category,
		&job.ScheduledDate, &job.TimeStart, &job.TimeEnd, &status, &job.Deleted,
		&templateID, &job.TemplateName, &job.TemplateBody,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	if templateID.Valid {
		id := templateID.UUID
		job.TemplateID = &id
	}
	return job, nil
}

// GetJobByID returns a job by its ID, or domain.ErrNotFound.
func (s *Store) GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJobByID, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// FindEligibleJobs returns the jobs matching the given slot, lowest ID first.
// At most two rows come back: one is the normal case, two means the
// uniqueness invariant was violated upstream and the caller should log an
// anomaly and dispatch only the first. An empty result is the common case.
func (s *Store) FindEligibleJobs(ctx context.Context, slot domain.Slot) ([]scheduler.EligibleJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryFindEligibleJobs,
		domain.CategoryScheduledBroadcast, slot.Date, slot.TimeOfDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []scheduler.EligibleJob
	for rows.Next() {
		var (
			job        domain.Job
			templateID uuid.NullUUID
			status     string
			count      int
		)
		err := rows.Scan(
			&job.ID, &job.UserID, &job.Title, &job.Description, &job.Category,
			&job.ScheduledDate, &job.TimeStart, &job.TimeEnd, &status, &job.Deleted,
			&templateID, &job.TemplateName, &job.TemplateBody,
			&job.CreatedAt, &job.UpdatedAt,
			&count,
		)
		if err != nil {
			return nil, err
		}
		job.Status = domain.JobStatus(status)
		if templateID.Valid {
			id := templateID.UUID
			job.TemplateID = &id
		}
		result = append(result, scheduler.EligibleJob{Job: job, RecipientCount: count})
	}
	return result, rows.Err()
}

// CreateJob inserts a job and its initial recipient list in one transaction.
func (s *Store) CreateJob(ctx context.Context, job domain.Job, recipients []domain.Recipient) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var templateID any
	if job.TemplateID != nil {
		templateID = *job.TemplateID
	}

	_, err = tx.ExecContext(ctx, queryInsertJob,
		job.ID, job.UserID, job.Title, job.Description, job.Category,
		job.ScheduledDate, job.TimeStart, job.TimeEnd, string(job.Status), job.Deleted,
		templateID, job.TemplateName, job.TemplateBody,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if err := insertRecipients(ctx, tx, recipients); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateJob rewrites a pending job's editable fields and appends any new
// recipients, in one transaction. Returns domain.ErrJobNotEditable when the
// job has already left the pending state, domain.ErrNotFound when it does
// not exist.
func (s *Store) UpdateJob(ctx context.Context, job domain.Job, newRecipients []domain.Recipient) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var templateID any
	if job.TemplateID != nil {
		templateID = *job.TemplateID
	}

	result, err := tx.ExecContext(ctx, queryUpdateJob,
		job.ID, job.Title, job.Description, job.ScheduledDate, job.TimeStart,
		job.TimeEnd, templateID, job.TemplateName, job.TemplateBody,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, queryGetJobStatus, job.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrJobNotEditable
	}

	if err := insertRecipients(ctx, tx, newRecipients); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateJobStatus transitions a job's status only if the current status
// still equals expected. A zero-row update means either the job is gone
// (domain.ErrNotFound) or another writer won the transition
// (domain.ErrStatusConflict).
func (s *Store) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, expected, next domain.JobStatus) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryUpdateJobStatus,
		jobID, string(expected), string(next), time.Now().UTC())
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, queryGetJobStatus, jobID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrStatusConflict
	}
	return nil
}

// ListJobsWithRecipientCounts returns non-deleted jobs newest first, each
// paired with its per-status recipient counts.
func (s *Store) ListJobsWithRecipientCounts(ctx context.Context, limit, offset int) ([]domain.JobWithCounts, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListJobs, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	counts, err := s.CountRecipientsByStatus(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]domain.JobWithCounts, len(jobs))
	for i, j := range jobs {
		result[i] = domain.JobWithCounts{Job: j, Recipients: counts[j.ID]}
	}
	return result, nil
}

// SoftDeleteJob flags a job deleted. Recipients and notifications stay put.
func (s *Store) SoftDeleteJob(ctx context.Context, jobID uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, querySoftDeleteJob, jobID, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetStuckJobs returns in_progress jobs untouched since olderThan, oldest
// first, for the reconciler to re-dispatch.
func (s *Store) GetStuckJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetStuckJobs, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// ListRecipients returns the full recipient list of a job in insertion order.
func (s *Store) ListRecipients(ctx context.Context, jobID uuid.UUID) ([]domain.Recipient, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRecipients, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var status string
		err := rows.Scan(&r.ID, &r.JobID, &r.PatientID, &r.PatientName, &r.Phone,
			&status, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, err
		}
		r.Status = domain.DeliveryStatus(status)
		result = append(result, r)
	}
	return result, rows.Err()
}

// AppendRecipients adds recipients to an existing job in one transaction.
func (s *Store) AppendRecipients(ctx context.Context, recipients []domain.Recipient) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertRecipients(ctx, tx, recipients); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRecipients(ctx context.Context, tx *sql.Tx, recipients []domain.Recipient) error {
	for _, r := range recipients {
		_, err := tx.ExecContext(ctx, queryInsertRecipient,
			r.ID, r.JobID, r.PatientID, r.PatientName, r.Phone,
			string(r.Status), r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert recipient %s: %w", r.ID, err)
		}
	}
	return nil
}

// SetRecipientStatus records a recipient's delivery outcome. The update only
// applies while the recipient is still pending; a zero-row update means the
// outcome was already decided (domain.ErrRecipientDecided) or the row is
// missing (domain.ErrNotFound).
func (s *Store) SetRecipientStatus(ctx context.Context, recipientID uuid.UUID, status domain.DeliveryStatus) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, querySetRecipientStatus,
		recipientID, string(status), time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, queryGetRecipientStatus, recipientID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrRecipientDecided
	}
	return nil
}

// CountRecipientsByStatus groups recipients of the given jobs by delivery
// status. Jobs without recipients simply have no rows in the result; the
// returned map's zero value covers them. No row ordering is assumed.
func (s *Store) CountRecipientsByStatus(ctx context.Context, jobIDs []uuid.UUID) (map[uuid.UUID]domain.RecipientCounts, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	counts := make(map[uuid.UUID]domain.RecipientCounts, len(jobIDs))
	if len(jobIDs) == 0 {
		return counts, nil
	}

	rows, err := s.db.QueryContext(ctx, queryCountRecipientsByStatus, pq.Array(jobIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var jobID uuid.UUID
		var status string
		var n int
		if err := rows.Scan(&jobID, &status, &n); err != nil {
			return nil, err
		}
		c := counts[jobID]
		c.Total += n
		switch domain.DeliveryStatus(status) {
		case domain.DeliveryStatusSent:
			c.Sent += n
		case domain.DeliveryStatusPending:
			c.Pending += n
		case domain.DeliveryStatusNotSent:
			c.NotSent += n
		}
		counts[jobID] = c
	}
	return counts, rows.Err()
}

// InsertNotification appends one audit notification row.
func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertNotification,
		n.ID, n.UserID, n.Title, n.Message, n.Status, n.Type, n.CreatedAt)
	return err
}

// ListNotifications returns notifications newest first.
func (s *Store) ListNotifications(ctx context.Context, limit, offset int) ([]domain.Notification, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListNotifications, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		var n domain.Notification
		err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Status, &n.Type, &n.CreatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}
