package api

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// phonePattern accepts E.164-style numbers: a plus sign and 8 to 15 digits.
var phonePattern = regexp.MustCompile(`^\+[0-9]{8,15}$`)

func validateCreateJob(req CreateJobRequest) error {
	if req.Title == "" {
		return fmt.Errorf("title is required")
	}
	if err := validateJobFields(req.ScheduledDate, req.TimeStart, req.TimeEnd, req.TemplateID, req.TemplateBody); err != nil {
		return err
	}
	return validateRecipients(req.Recipients)
}

func validateUpdateJob(req UpdateJobRequest) error {
	if req.Title == "" {
		return fmt.Errorf("title is required")
	}
	if err := validateJobFields(req.ScheduledDate, req.TimeStart, req.TimeEnd, req.TemplateID, req.TemplateBody); err != nil {
		return err
	}
	return validateRecipients(req.Recipients)
}

func validateJobFields(scheduledDate, timeStart, timeEnd, templateID, templateBody string) error {
	if scheduledDate == "" {
		return fmt.Errorf("scheduled_date is required")
	}
	if _, err := parseDate(scheduledDate); err != nil {
		return fmt.Errorf("invalid scheduled_date: %w", err)
	}

	if timeStart == "" {
		return fmt.Errorf("time_start is required")
	}
	if err := validateClockTime(timeStart); err != nil {
		return fmt.Errorf("invalid time_start: %w", err)
	}
	if timeEnd != "" {
		if err := validateClockTime(timeEnd); err != nil {
			return fmt.Errorf("invalid time_end: %w", err)
		}
		if timeEnd <= timeStart {
			return fmt.Errorf("time_end must be after time_start")
		}
	}

	if templateID != "" {
		if _, err := uuid.Parse(templateID); err != nil {
			return fmt.Errorf("invalid template_id: %w", err)
		}
	}
	if templateBody == "" {
		return fmt.Errorf("template_body is required")
	}
	return nil
}

func validateRecipients(recipients []RecipientRequest) error {
	for i, r := range recipients {
		if r.PatientName == "" {
			return fmt.Errorf("recipients[%d]: patient_name is required", i)
		}
		if !phonePattern.MatchString(r.Phone) {
			return fmt.Errorf("recipients[%d]: phone must be +<8-15 digits>", i)
		}
		if r.PatientID != "" {
			if _, err := uuid.Parse(r.PatientID); err != nil {
				return fmt.Errorf("recipients[%d]: invalid patient_id: %w", i, err)
			}
		}
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// validateClockTime enforces zero-padded 24h "HH:MM"; slot matching compares
// these strings byte for byte.
func validateClockTime(s string) error {
	if len(s) != 5 || s[2] != ':' {
		return fmt.Errorf("must be HH:MM")
	}
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("must be HH:MM")
	}
	return nil
}
