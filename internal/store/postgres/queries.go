package postgres

const jobColumns = `
    id, user_id, title, description, category,
    scheduled_date, time_start, time_end, status, deleted,
    template_id, template_name, template_body,
    created_at, updated_at`

const queryGetJobByID = `
SELECT` + jobColumns + `
FROM calendar_jobs
WHERE id = $1
`

// Canonical eligibility predicate: not soft-deleted, broadcast category,
// status has not left pending via the scheduled path, exact slot match.
// LIMIT 2 so callers can detect (and log) a uniqueness anomaly.
const queryFindEligibleJobs = `
SELECT` + jobColumns + `,
    (SELECT COUNT(*) FROM recipients r WHERE r.job_id = j.id) AS recipient_count
FROM calendar_jobs j
WHERE j.deleted = false
  AND j.category = $1
  AND j.status NOT IN ('in_progress', 'finished')
  AND j.scheduled_date = $2
  AND j.time_start = $3
ORDER BY j.id
LIMIT 2
`

const queryInsertJob = `
INSERT INTO calendar_jobs (
    id, user_id, title, description, category,
    scheduled_date, time_start, time_end, status, deleted,
    template_id, template_name, template_body,
    created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

// Pending-only guard: an edit must not resurrect a job the scheduled flow
// already picked up.
const queryUpdateJob = `
UPDATE calendar_jobs
SET title = $2, description = $3, scheduled_date = $4, time_start = $5,
    time_end = $6, template_id = $7, template_name = $8, template_body = $9,
    updated_at = $10
WHERE id = $1
  AND deleted = false
  AND status = 'pending'
`

const queryUpdateJobStatus = `
UPDATE calendar_jobs
SET status = $3, updated_at = $4
WHERE id = $1
  AND status = $2
`

const queryGetJobStatus = `
SELECT status FROM calendar_jobs WHERE id = $1
`

const queryListJobs = `
SELECT` + jobColumns + `
FROM calendar_jobs
WHERE deleted = false
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

const querySoftDeleteJob = `
UPDATE calendar_jobs
SET deleted = true, updated_at = $2
WHERE id = $1
  AND deleted = false
`

const queryGetStuckJobs = `
SELECT` + jobColumns + `
FROM calendar_jobs
WHERE status = 'in_progress'
  AND deleted = false
  AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
`

const queryInsertRecipient = `
INSERT INTO recipients (id, job_id, patient_id, patient_name, phone, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryListRecipients = `
SELECT id, job_id, patient_id, patient_name, phone, status, created_at, updated_at
FROM recipients
WHERE job_id = $1
ORDER BY created_at, id
`

// Pending-only guard: the dispatcher is the sole writer and each recipient's
// outcome is decided at most once.
const querySetRecipientStatus = `
UPDATE recipients
SET status = $2, updated_at = $3
WHERE id = $1
  AND status = 'pending'
`

const queryGetRecipientStatus = `
SELECT status FROM recipients WHERE id = $1
`

const queryCountRecipientsByStatus = `
SELECT job_id, status, COUNT(*)
FROM recipients
WHERE job_id = ANY($1)
GROUP BY job_id, status
`

const queryInsertNotification = `
INSERT INTO notifications (id, user_id, title, message, status, type, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryListNotifications = `
SELECT id, user_id, title, message, status, type, created_at
FROM notifications
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`
