package schedule

import (
	"time"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/recurrence"
)

// ItemWithStatus pairs an item with its classification at a point in time.
type ItemWithStatus struct {
	model.Item
	Status      recurrence.Status `json:"status"`
	Description string            `json:"description"`
}

// Summary groups a family's open items by status.
type Summary struct {
	Overdue []ItemWithStatus `json:"overdue"`
	DueSoon []ItemWithStatus `json:"due_soon"`
	Current []ItemWithStatus `json:"current"`
}

// HorizonFor returns the due-soon window for a kind of item.
func HorizonFor(kind model.Kind) time.Duration {
	switch kind {
	case model.KindEvent, model.KindChore, model.KindCleaning:
		return recurrence.EventHorizon
	case model.KindVaccination:
		return recurrence.VaccinationHorizon
	default:
		return recurrence.ReminderHorizon
	}
}

// StatusFor classifies item at now using its kind's horizon.
func StatusFor(item model.Item, now time.Time) ItemWithStatus {
	desc := "Does not repeat"
	if item.Rule != nil {
		desc = item.Rule.Describe()
	}
	return ItemWithStatus{
		Item:        item,
		Status:      recurrence.Classify(item.DueAt, now, item.Completed, HorizonFor(item.Kind)),
		Description: desc,
	}
}

// Summarize classifies every item and buckets the result. Input order is
// preserved within each bucket.
func Summarize(items []model.Item, now time.Time) Summary {
	var s Summary
	for _, item := range items {
		ws := StatusFor(item, now)
		switch ws.Status {
		case recurrence.StatusOverdue:
			s.Overdue = append(s.Overdue, ws)
		case recurrence.StatusDueSoon:
			s.DueSoon = append(s.DueSoon, ws)
		default:
			s.Current = append(s.Current, ws)
		}
	}
	return s
}

// DueOn reports whether item falls due on the calendar day containing date,
// in date's location.
func DueOn(item model.Item, date time.Time) bool {
	start := startOfDay(date)
	end := start.AddDate(0, 0, 1)
	due := item.DueAt.In(date.Location())
	return !due.Before(start) && due.Before(end)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
