package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SendRequest carries everything the gateway needs to deliver one message.
type SendRequest struct {
	JobID       uuid.UUID
	RecipientID uuid.UUID

	Phone       string
	PatientName string

	TemplateName string
	TemplateBody string
}

type SendResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

// IsSuccess reports whether the send reached the gateway and got a 2xx.
func (r SendResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender delivers one message to one recipient. Implementations own their
// timeout; a Send must eventually return even with a stuck gateway.
type Sender interface {
	Send(ctx context.Context, req SendRequest) SendResult
}
