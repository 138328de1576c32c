package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"
)

// Safety cap for Occurrences when the caller passes no limit.
const maxOccurrences = 10000

// NextOccurrence returns the first occurrence strictly after anchor. It
// reports false when the rule is disabled or the candidate falls after the
// rule's end date. Calendar arithmetic is done in anchor's location.
func NextOccurrence(anchor time.Time, rule Rule) (time.Time, bool) {
	if !rule.Enabled || rule.Validate() != nil {
		return time.Time{}, false
	}

	var next time.Time
	switch rule.Freq {
	case Daily:
		next = anchor.AddDate(0, 0, rule.Interval)
	case Weekly:
		next = anchor.AddDate(0, 0, 7*rule.Interval)
		if len(rule.DaysOfWeek) > 0 {
			next = snapToWeekday(next, rule.DaysOfWeek)
		}
	case Biweekly:
		// Fixed fortnight; Interval does not scale it.
		next = anchor.AddDate(0, 0, 14)
	case Monthly:
		next = addMonths(anchor, rule.Interval, targetDay(anchor, rule))
	case Quarterly:
		next = addMonths(anchor, 3*rule.Interval, targetDay(anchor, rule))
	case Yearly:
		next = addMonths(anchor, 12*rule.Interval, anchor.Day())
	}

	if rule.EndDate != nil && next.After(*rule.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

// Occurrences returns up to limit successive occurrences after anchor,
// stopping early once the rule expires. A limit <= 0 uses the safety cap.
func Occurrences(anchor time.Time, rule Rule, limit int) []time.Time {
	if limit <= 0 || limit > maxOccurrences {
		limit = maxOccurrences
	}
	var out []time.Time
	cur := anchor
	for len(out) < limit {
		next, ok := NextOccurrence(cur, rule)
		if !ok {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

func targetDay(anchor time.Time, rule Rule) int {
	if rule.DayOfMonth > 0 {
		return rule.DayOfMonth
	}
	return anchor.Day()
}

// addMonths moves t forward by n calendar months and lands on day, clamped to
// the last day of the target month. Time of day and location are kept.
func addMonths(t time.Time, n, day int) time.Time {
	year, month, _ := t.Date()
	first := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// snapToWeekday returns the first instant on or after t whose weekday is in
// days, keeping t's wall-clock time.
func snapToWeekday(t time.Time, days []time.Weekday) time.Time {
	byDay := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		byDay = append(byDay, rruleWeekdays[d])
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.DAILY,
		Dtstart:   t,
		Byweekday: byDay,
		Count:     1,
	})
	if err != nil {
		return t
	}
	all := r.All()
	if len(all) == 0 {
		return t
	}
	y, m, d := all[0].In(t.Location()).Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
