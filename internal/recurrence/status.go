package recurrence

import (
	"slices"
	"time"
)

type Status string

const (
	StatusCurrent Status = "current"
	StatusDueSoon Status = "due_soon"
	StatusOverdue Status = "overdue"
)

// Due-soon horizons used by the household item kinds.
const (
	EventHorizon       = 7 * 24 * time.Hour
	ChoreHorizon       = 7 * 24 * time.Hour
	VaccinationHorizon = 30 * 24 * time.Hour
	ReminderHorizon    = 24 * time.Hour
)

// Classify places due relative to now. Completed items are always current.
// The boundary now == due is due soon: overdue starts strictly after due.
func Classify(due, now time.Time, completed bool, horizon time.Duration) Status {
	if completed {
		return StatusCurrent
	}
	if now.After(due) {
		return StatusOverdue
	}
	if due.Sub(now) <= horizon {
		return StatusDueSoon
	}
	return StatusCurrent
}

// NotificationTimes returns the fire times for a reminder anchored at anchor:
// one per advance plus the anchor itself, ascending, with equal instants
// collapsed. The result is never empty.
func NotificationTimes(anchor time.Time, advances []Advance) []time.Time {
	times := make([]time.Time, 0, len(advances)+1)
	times = append(times, anchor)
	for _, a := range advances {
		times = append(times, a.Before(anchor))
	}
	slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(times, func(a, b time.Time) bool { return a.Equal(b) })
}
