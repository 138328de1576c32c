package recurrence

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Rule describes how an item repeats. Build one with NewRule; a Rule decoded
// from storage should be checked with Validate before use.
type Rule struct {
	Enabled    bool
	Freq       Freq
	Interval   int            // every N periods, >= 1
	DaysOfWeek []time.Weekday // weekly only: snap to one of these days
	DayOfMonth int            // monthly/quarterly: target day (0 = anchor's day)
	EndDate    *time.Time     // no occurrence strictly after this instant
}

type RuleOption func(*Rule)

func WithInterval(n int) RuleOption {
	return func(r *Rule) { r.Interval = n }
}

func OnWeekdays(days ...time.Weekday) RuleOption {
	return func(r *Rule) { r.DaysOfWeek = append([]time.Weekday(nil), days...) }
}

func OnDayOfMonth(day int) RuleOption {
	return func(r *Rule) { r.DayOfMonth = day }
}

func Until(t time.Time) RuleOption {
	return func(r *Rule) { r.EndDate = &t }
}

// Disabled produces a rule that never yields a next occurrence.
func Disabled() RuleOption {
	return func(r *Rule) { r.Enabled = false }
}

// NewRule builds an enabled rule with interval 1 and applies opts.
func NewRule(freq Freq, opts ...RuleOption) (Rule, error) {
	r := Rule{Enabled: true, Freq: freq, Interval: 1}
	for _, opt := range opts {
		opt(&r)
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate reports the first malformed field of r.
func (r Rule) Validate() error {
	if !r.Freq.valid() {
		return &ValidationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %d", int(r.Freq))}
	}
	if r.Interval < 1 {
		return &ValidationError{Field: "interval", Reason: fmt.Sprintf("must be >= 1, got %d", r.Interval)}
	}
	for _, d := range r.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return &ValidationError{Field: "days_of_week", Reason: fmt.Sprintf("weekday %d out of range 0..6", int(d))}
		}
	}
	if r.DayOfMonth < 0 || r.DayOfMonth > 31 {
		return &ValidationError{Field: "day_of_month", Reason: fmt.Sprintf("must be 1..31, got %d", r.DayOfMonth)}
	}
	return nil
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	if !r.Enabled {
		return "Does not repeat"
	}
	var desc string
	switch r.Freq {
	case Daily:
		desc = plural(r.Interval, "daily", "days")
	case Weekly:
		desc = plural(r.Interval, "weekly", "weeks")
		if len(r.DaysOfWeek) > 0 {
			days := slices.Clone(r.DaysOfWeek)
			slices.Sort(days)
			days = slices.Compact(days)
			var names []string
			for _, d := range days {
				names = append(names, d.String()[:3])
			}
			desc += " on " + strings.Join(names, ", ")
		}
	case Biweekly:
		desc = "every 2 weeks"
	case Monthly:
		desc = plural(r.Interval, "monthly", "months")
		if r.DayOfMonth > 0 {
			desc += fmt.Sprintf(" on day %d", r.DayOfMonth)
		}
	case Quarterly:
		desc = plural(r.Interval, "quarterly", "quarters")
	case Yearly:
		desc = plural(r.Interval, "yearly", "years")
	default:
		return ""
	}
	desc = "Repeats " + desc
	if r.EndDate != nil {
		desc += " until " + r.EndDate.Format("Jan 2, 2006")
	}
	return desc
}

func plural(n int, single, unit string) string {
	if n > 1 {
		return fmt.Sprintf("every %d %s", n, unit)
	}
	return single
}
