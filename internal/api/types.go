package api

import "time"

type RecipientRequest struct {
	PatientID   string `json:"patient_id,omitempty"`
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
}

type CreateJobRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	ScheduledDate string `json:"scheduled_date"` // "2006-01-02"
	TimeStart     string `json:"time_start"`     // "HH:MM"
	TimeEnd       string `json:"time_end,omitempty"`

	TemplateID   string `json:"template_id,omitempty"`
	TemplateName string `json:"template_name,omitempty"`
	TemplateBody string `json:"template_body"`

	Recipients []RecipientRequest `json:"recipients"`
}

// UpdateJobRequest rewrites a pending job's editable fields. Recipients, if
// present, are appended to the existing list; existing recipients are never
// removed or reset.
type UpdateJobRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	ScheduledDate string `json:"scheduled_date"`
	TimeStart     string `json:"time_start"`
	TimeEnd       string `json:"time_end,omitempty"`

	TemplateID   string `json:"template_id,omitempty"`
	TemplateName string `json:"template_name,omitempty"`
	TemplateBody string `json:"template_body"`

	Recipients []RecipientRequest `json:"recipients,omitempty"`
}

type RecipientCountsResponse struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Pending int `json:"pending"`
	NotSent int `json:"not_sent"`
}

type JobResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`

	ScheduledDate string `json:"scheduled_date"`
	TimeStart     string `json:"time_start"`
	TimeEnd       string `json:"time_end,omitempty"`

	Status string `json:"status"`

	TemplateID   string `json:"template_id,omitempty"`
	TemplateName string `json:"template_name,omitempty"`

	Recipients *RecipientCountsResponse `json:"recipients,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type RecipientResponse struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id,omitempty"`
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
	Status      string `json:"status"`
	UpdatedAt   string `json:"updated_at"`
}

type NotificationResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ListRecipientsResponse struct {
	Recipients []RecipientResponse `json:"recipients"`
}

type ListNotificationsResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
