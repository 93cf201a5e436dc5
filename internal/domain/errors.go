package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStatusConflict is returned when a conditional status update did not
	// apply because the row's status no longer matches the expected value.
	// For concurrent pipeline ticks this is the losing side of the race and
	// is benign: the winner already did the work.
	ErrStatusConflict = errors.New("status conflict: row already transitioned")

	// ErrJobNotEditable is returned when an edit targets a job that has left
	// the pending state. Edits must never resurrect an in_progress or
	// finished job.
	ErrJobNotEditable = errors.New("job is no longer editable")

	// ErrRecipientDecided is returned when a delivery-status write targets a
	// recipient already in a terminal state.
	ErrRecipientDecided = errors.New("recipient delivery already decided")
)
