package model

import (
	"time"

	"github.com/dukerupert/homebase/internal/recurrence"
)

// Kind identifies which household feature owns a scheduled item.
type Kind string

const (
	KindEvent       Kind = "event"
	KindChore       Kind = "chore"
	KindCleaning    Kind = "cleaning"
	KindGrocery     Kind = "grocery"
	KindMeal        Kind = "meal"
	KindReminder    Kind = "reminder"
	KindVaccination Kind = "vaccination"
)

func (k Kind) Valid() bool {
	switch k {
	case KindEvent, KindChore, KindCleaning, KindGrocery, KindMeal, KindReminder, KindVaccination:
		return true
	}
	return false
}

// Item is anything with a due time: a calendar event, a chore, a meal plan
// entry, a pet's next vaccination. Rule is nil for one-off items.
type Item struct {
	ID              int64                `json:"id"`
	FamilyID        string               `json:"family_id"`
	Kind            Kind                 `json:"kind"`
	Title           string               `json:"title"`
	AssignedTo      string               `json:"assigned_to,omitempty"`
	DueAt           time.Time            `json:"due_at"`
	Completed       bool                 `json:"completed"`
	LastCompletedAt *time.Time           `json:"last_completed_at,omitempty"`
	Rule            *recurrence.Rule     `json:"rule,omitempty"`
	Advances        []recurrence.Advance `json:"advances,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Recurring reports whether completing the item schedules another occurrence.
func (i Item) Recurring() bool {
	return i.Rule != nil && i.Rule.Enabled
}
