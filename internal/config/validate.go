package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"mediremind/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if cfg.UserID == "" {
		errs = append(errs, ValidationError{
			Field:   "USER_ID",
			Message: "required",
		})
	} else if _, err := uuid.Parse(cfg.UserID); err != nil {
		errs = append(errs, ValidationError{
			Field:   "USER_ID",
			Message: fmt.Sprintf("invalid uuid: %v", err),
		})
	}

	if cfg.GatewayURL == "" {
		errs = append(errs, ValidationError{
			Field:   "GATEWAY_URL",
			Message: "required",
		})
	} else if err := validateHTTPURL(cfg.GatewayURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "GATEWAY_URL",
			Message: err.Error(),
		})
	}

	if _, err := cron.NewParser().Parse(cfg.HeartbeatSchedule, cfg.Timezone); err != nil {
		errs = append(errs, ValidationError{
			Field:   "HEARTBEAT_SCHEDULE",
			Message: fmt.Sprintf("invalid schedule: %v", err),
		})
	}
	if _, err := cron.NewParser().Parse(cfg.PipelineSchedule, cfg.Timezone); err != nil {
		errs = append(errs, ValidationError{
			Field:   "PIPELINE_SCHEDULE",
			Message: fmt.Sprintf("invalid schedule: %v", err),
		})
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, ValidationError{
			Field:   "TIMEZONE",
			Message: fmt.Sprintf("unknown timezone: %v", err),
		})
	}

	durations := []struct {
		field string
		value string
	}{
		{"SEND_TIMEOUT", cfg.SendTimeoutStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr},
	}
	for _, dur := range durations {
		field := dur.field
		d, err := time.ParseDuration(dur.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "must be positive",
			})
		}
	}

	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("must be trace, debug, info, warn or error, got %q", cfg.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
