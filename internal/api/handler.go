// Package api exposes the management HTTP surface: job CRUD, recipient and
// notification listings, and the health endpoint. The scheduled pipeline
// itself has no HTTP surface; it only shares the store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediremind/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	CreateJob(ctx context.Context, job domain.Job, recipients []domain.Recipient) error
	GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	// UpdateJob applies only while the job is still pending; it returns
	// domain.ErrJobNotEditable once dispatch has started.
	UpdateJob(ctx context.Context, job domain.Job, newRecipients []domain.Recipient) error
	ListJobsWithRecipientCounts(ctx context.Context, limit, offset int) ([]domain.JobWithCounts, error)
	SoftDeleteJob(ctx context.Context, jobID uuid.UUID) error
	ListRecipients(ctx context.Context, jobID uuid.UUID) ([]domain.Recipient, error)
	ListNotifications(ctx context.Context, limit, offset int) ([]domain.Notification, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store  Store
	userID uuid.UUID // single-tenant for now
	db     HealthChecker
	log    zerolog.Logger
	clock  func() time.Time
}

func NewHandler(store Store, userID uuid.UUID, log zerolog.Logger) *Handler {
	return &Handler{
		store:  store,
		userID: userID,
		log:    log.With().Str("component", "api").Logger(),
		clock:  time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/jobs" && r.Method == http.MethodPost:
		h.createJob(w, r)

	case path == "/jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case strings.HasSuffix(path, "/recipients") && r.Method == http.MethodGet:
		h.listRecipients(w, r)

	case strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodPut:
		h.updateJob(w, r)

	case strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodDelete:
		h.deleteJob(w, r)

	case path == "/notifications" && r.Method == http.MethodGet:
		h.listNotifications(w, r)

	default:
		h.writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateJob(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()
	jobID := uuid.New()

	job := domain.Job{
		ID:            jobID,
		UserID:        h.userID,
		Title:         req.Title,
		Description:   req.Description,
		Category:      domain.CategoryScheduledBroadcast,
		ScheduledDate: mustDate(req.ScheduledDate),
		TimeStart:     req.TimeStart,
		TimeEnd:       req.TimeEnd,
		Status:        domain.JobStatusPending,
		TemplateName:  req.TemplateName,
		TemplateBody:  req.TemplateBody,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.TemplateID != "" {
		id := uuid.MustParse(req.TemplateID)
		job.TemplateID = &id
	}

	recipients := buildRecipients(jobID, req.Recipients, now)

	if err := h.store.CreateJob(r.Context(), job, recipients); err != nil {
		h.log.Error().Err(err).Msg("create job failed")
		h.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.writeJSON(w, http.StatusCreated, jobResponse(job, &domain.RecipientCounts{
		Total:   len(recipients),
		Pending: len(recipients),
	}))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := h.store.ListJobsWithRecipientCounts(r.Context(), limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list jobs failed")
		h.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, jwc := range jobs {
		counts := jwc.Recipients
		resp.Jobs[i] = jobResponse(jwc.Job, &counts)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobIDFromPath(w, r, 2)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req UpdateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateUpdateJob(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()
	job := domain.Job{
		ID:            jobID,
		Title:         req.Title,
		Description:   req.Description,
		ScheduledDate: mustDate(req.ScheduledDate),
		TimeStart:     req.TimeStart,
		TimeEnd:       req.TimeEnd,
		TemplateName:  req.TemplateName,
		TemplateBody:  req.TemplateBody,
		UpdatedAt:     now,
	}
	if req.TemplateID != "" {
		id := uuid.MustParse(req.TemplateID)
		job.TemplateID = &id
	}

	err := h.store.UpdateJob(r.Context(), job, buildRecipients(jobID, req.Recipients, now))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, domain.ErrJobNotEditable):
		h.writeError(w, http.StatusConflict, "job is no longer editable")
		return
	case err != nil:
		h.log.Error().Err(err).Str("job", jobID.String()).Msg("update job failed")
		h.writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}

	updated, err := h.store.GetJobByID(r.Context(), jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job", jobID.String()).Msg("reload after update failed")
		h.writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}

	h.writeJSON(w, http.StatusOK, jobResponse(updated, nil))
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobIDFromPath(w, r, 2)
	if !ok {
		return
	}

	err := h.store.SoftDeleteJob(r.Context(), jobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		h.log.Error().Err(err).Str("job", jobID.String()).Msg("delete job failed")
		h.writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRecipients(w http.ResponseWriter, r *http.Request) {
	// Path shape: /jobs/{id}/recipients
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "jobs" || parts[2] != "recipients" {
		h.writeError(w, http.StatusNotFound, "not found")
		return
	}

	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if _, err := h.store.GetJobByID(r.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.log.Error().Err(err).Str("job", jobID.String()).Msg("get job failed")
		h.writeError(w, http.StatusInternalServerError, "failed to list recipients")
		return
	}

	recipients, err := h.store.ListRecipients(r.Context(), jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job", jobID.String()).Msg("list recipients failed")
		h.writeError(w, http.StatusInternalServerError, "failed to list recipients")
		return
	}

	resp := ListRecipientsResponse{Recipients: make([]RecipientResponse, len(recipients))}
	for i, rec := range recipients {
		var patientID string
		if rec.PatientID != uuid.Nil {
			patientID = rec.PatientID.String()
		}
		resp.Recipients[i] = RecipientResponse{
			ID:          rec.ID.String(),
			PatientID:   patientID,
			PatientName: rec.PatientName,
			Phone:       rec.Phone,
			Status:      string(rec.Status),
			UpdatedAt:   formatTime(rec.UpdatedAt),
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	notifications, err := h.store.ListNotifications(r.Context(), limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list notifications failed")
		h.writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	resp := ListNotificationsResponse{Notifications: make([]NotificationResponse, len(notifications))}
	for i, n := range notifications {
		resp.Notifications[i] = NotificationResponse{
			ID:        n.ID.String(),
			UserID:    n.UserID.String(),
			Title:     n.Title,
			Message:   n.Message,
			Status:    n.Status,
			Type:      n.Type,
			CreatedAt: formatTime(n.CreatedAt),
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// jobIDFromPath extracts the job ID from paths shaped /jobs/{id}. wantParts
// is the expected segment count after trimming. Writes the error response
// itself and reports ok=false on failure.
func (h *Handler) jobIDFromPath(w http.ResponseWriter, r *http.Request, wantParts int) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != wantParts || parts[0] != "jobs" {
		h.writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return jobID, true
}

func jobResponse(job domain.Job, counts *domain.RecipientCounts) JobResponse {
	resp := JobResponse{
		ID:            job.ID.String(),
		UserID:        job.UserID.String(),
		Title:         job.Title,
		Description:   job.Description,
		Category:      job.Category,
		ScheduledDate: formatDate(job.ScheduledDate),
		TimeStart:     job.TimeStart,
		TimeEnd:       job.TimeEnd,
		Status:        string(job.Status),
		TemplateName:  job.TemplateName,
		CreatedAt:     formatTime(job.CreatedAt),
		UpdatedAt:     formatTime(job.UpdatedAt),
	}
	if job.TemplateID != nil {
		resp.TemplateID = job.TemplateID.String()
	}
	if counts != nil {
		resp.Recipients = &RecipientCountsResponse{
			Total:   counts.Total,
			Sent:    counts.Sent,
			Pending: counts.Pending,
			NotSent: counts.NotSent,
		}
	}
	return resp
}

func buildRecipients(jobID uuid.UUID, reqs []RecipientRequest, now time.Time) []domain.Recipient {
	recipients := make([]domain.Recipient, len(reqs))
	for i, r := range reqs {
		rec := domain.Recipient{
			ID:          uuid.New(),
			JobID:       jobID,
			PatientName: r.PatientName,
			Phone:       r.Phone,
			Status:      domain.DeliveryStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if r.PatientID != "" {
			rec.PatientID = uuid.MustParse(r.PatientID)
		}
		recipients[i] = rec
	}
	return recipients
}

// mustDate parses a date already checked by validation.
func mustDate(s string) time.Time {
	t, err := parseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("json encode failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
