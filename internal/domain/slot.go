package domain

import "time"

// Slot identifies one scheduling minute: a calendar date plus a time-of-day
// at minute granularity. Slots are what the finder matches jobs against.
type Slot struct {
	Date      time.Time // date only, midnight UTC
	TimeOfDay string    // "HH:MM"
}

// SlotAt derives the slot for a wall-clock instant.
func SlotAt(t time.Time) Slot {
	t = t.Truncate(time.Minute)
	return Slot{
		Date:      time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
		TimeOfDay: t.Format("15:04"),
	}
}

func (s Slot) String() string {
	return s.Date.Format("2006-01-02") + " " + s.TimeOfDay
}
