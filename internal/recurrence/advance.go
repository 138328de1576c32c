package recurrence

import (
	"fmt"
	"time"
)

// Advance is one early-warning offset before a reminder's anchor time.
type Advance struct {
	Value int
	Unit  Unit
}

func NewAdvance(value int, unit Unit) (Advance, error) {
	a := Advance{Value: value, Unit: unit}
	if err := a.Validate(); err != nil {
		return Advance{}, err
	}
	return a, nil
}

func (a Advance) Validate() error {
	if a.Value < 0 {
		return &ValidationError{Field: "advance", Reason: fmt.Sprintf("value must be >= 0, got %d", a.Value)}
	}
	if _, ok := unitNames[a.Unit]; !ok {
		return &ValidationError{Field: "advance", Reason: fmt.Sprintf("unknown unit %d", int(a.Unit))}
	}
	return nil
}

// Before returns the instant a fires for the given anchor. Days and weeks are
// calendar days in the anchor's location, so a "1 day" warning keeps its
// wall-clock time across DST changes.
func (a Advance) Before(anchor time.Time) time.Time {
	switch a.Unit {
	case Minutes:
		return anchor.Add(-time.Duration(a.Value) * time.Minute)
	case Hours:
		return anchor.Add(-time.Duration(a.Value) * time.Hour)
	case Days:
		return anchor.AddDate(0, 0, -a.Value)
	case Weeks:
		return anchor.AddDate(0, 0, -7*a.Value)
	}
	return anchor
}

func (a Advance) String() string {
	return fmt.Sprintf("%d %s", a.Value, a.Unit)
}
