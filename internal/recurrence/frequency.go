package recurrence

import (
	"fmt"
	"strings"
)

type Freq int

const (
	Daily Freq = iota + 1
	Weekly
	Biweekly
	Monthly
	Quarterly
	Yearly
)

var freqNames = map[Freq]string{
	Daily:     "daily",
	Weekly:    "weekly",
	Biweekly:  "biweekly",
	Monthly:   "monthly",
	Quarterly: "quarterly",
	Yearly:    "yearly",
}

var freqFromName = map[string]Freq{
	"daily":     Daily,
	"weekly":    Weekly,
	"biweekly":  Biweekly,
	"monthly":   Monthly,
	"quarterly": Quarterly,
	"yearly":    Yearly,
}

// ParseFreq parses one of the lowercase frequency tokens used in storage.
func ParseFreq(s string) (Freq, error) {
	f, ok := freqFromName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, &ValidationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", s)}
	}
	return f, nil
}

func (f Freq) String() string {
	if name, ok := freqNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Freq(%d)", int(f))
}

func (f Freq) valid() bool {
	_, ok := freqNames[f]
	return ok
}

func (f Freq) MarshalText() ([]byte, error) {
	if !f.valid() {
		return nil, &ValidationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %d", int(f))}
	}
	return []byte(freqNames[f]), nil
}

func (f *Freq) UnmarshalText(b []byte) error {
	parsed, err := ParseFreq(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Unit is the unit of a notification advance.
type Unit int

const (
	Minutes Unit = iota + 1
	Hours
	Days
	Weeks
)

var unitNames = map[Unit]string{
	Minutes: "minutes",
	Hours:   "hours",
	Days:    "days",
	Weeks:   "weeks",
}

var unitFromName = map[string]Unit{
	"minutes": Minutes,
	"hours":   Hours,
	"days":    Days,
	"weeks":   Weeks,
}

func ParseUnit(s string) (Unit, error) {
	u, ok := unitFromName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, &ValidationError{Field: "unit", Reason: fmt.Sprintf("unknown unit %q", s)}
	}
	return u, nil
}

func (u Unit) String() string {
	if name, ok := unitNames[u]; ok {
		return name
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

func (u Unit) MarshalText() ([]byte, error) {
	if _, ok := unitNames[u]; !ok {
		return nil, &ValidationError{Field: "unit", Reason: fmt.Sprintf("unknown unit %d", int(u))}
	}
	return []byte(unitNames[u]), nil
}

func (u *Unit) UnmarshalText(b []byte) error {
	parsed, err := ParseUnit(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
