package domain

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusNotSent DeliveryStatus = "not_sent"
)

// Terminal reports whether a delivery status can no longer change.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusNotSent
}

// Recipient is one patient targeted by a job's broadcast. Recipients are
// created in pending state alongside the job (or appended on edit) and are
// mutated only by the dispatcher, never deleted on their own.
type Recipient struct {
	ID    uuid.UUID
	JobID uuid.UUID

	PatientID   uuid.UUID
	PatientName string
	Phone       string

	Status DeliveryStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecipientCounts holds the per-status aggregation for one job.
type RecipientCounts struct {
	Total   int
	Sent    int
	Pending int
	NotSent int
}
