package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/recurrence"
)

type ItemStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const itemCols = `id, family_id, kind, title, assigned_to, due_at, completed, last_completed_at,
	recur_enabled, frequency, interval_n, days_of_week, day_of_month, end_date, created_at, updated_at`

func scanItem(scanner interface{ Scan(...any) error }) (*model.Item, error) {
	var (
		item          model.Item
		assignedTo    sql.NullString
		lastCompleted sql.NullTime
		recurEnabled  bool
		freq          string
		interval      int
		days          string
		dayOfMonth    int
		endDate       sql.NullTime
	)
	err := scanner.Scan(&item.ID, &item.FamilyID, &item.Kind, &item.Title, &assignedTo, &item.DueAt,
		&item.Completed, &lastCompleted, &recurEnabled, &freq, &interval, &days, &dayOfMonth, &endDate,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.AssignedTo = assignedTo.String
	item.LastCompletedAt = timePtr(lastCompleted)

	if freq != "" {
		f, err := recurrence.ParseFreq(freq)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", item.ID, err)
		}
		weekdays, err := decodeWeekdays(days)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", item.ID, err)
		}
		item.Rule = &recurrence.Rule{
			Enabled:    recurEnabled,
			Freq:       f,
			Interval:   interval,
			DaysOfWeek: weekdays,
			DayOfMonth: dayOfMonth,
			EndDate:    timePtr(endDate),
		}
	}
	return &item, nil
}

// encodeWeekdays stores weekdays as a comma-separated list such as "1,3,5".
func encodeWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			return nil, &recurrence.ValidationError{Field: "days_of_week", Reason: fmt.Sprintf("bad weekday %q", p)}
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

// ruleColumns flattens an optional rule into its column values.
func ruleColumns(r *recurrence.Rule) (enabled bool, freq string, interval int, days string, dayOfMonth int, end sql.NullTime) {
	if r == nil {
		return false, "", 1, "", 0, sql.NullTime{}
	}
	return r.Enabled, r.Freq.String(), r.Interval, encodeWeekdays(r.DaysOfWeek), r.DayOfMonth, nullTimeFrom(r.EndDate)
}

func validateItem(item *model.Item) error {
	if !item.Kind.Valid() {
		return &recurrence.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", item.Kind)}
	}
	if strings.TrimSpace(item.Title) == "" {
		return &recurrence.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if item.Rule != nil {
		if err := item.Rule.Validate(); err != nil {
			return err
		}
	}
	for _, a := range item.Advances {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Create validates and inserts item with its notification advances.
func (s *ItemStore) Create(item *model.Item) (*model.Item, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	enabled, freq, interval, days, dom, end := ruleColumns(item.Rule)
	result, err := tx.Exec(
		`INSERT INTO schedule_items (family_id, kind, title, assigned_to, due_at, recur_enabled, frequency,
		 interval_n, days_of_week, day_of_month, end_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.FamilyID, string(item.Kind), item.Title, nullString(item.AssignedTo), item.DueAt.UTC(),
		enabled, freq, interval, days, dom, end, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if err := replaceAdvances(tx, id, item.Advances); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit item: %w", err)
	}
	return s.GetByID(id)
}

func replaceAdvances(q querier, itemID int64, advances []recurrence.Advance) error {
	if _, err := q.Exec(`DELETE FROM notification_advances WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("clear advances: %w", err)
	}
	for _, a := range advances {
		if _, err := q.Exec(
			`INSERT INTO notification_advances (item_id, value, unit) VALUES (?, ?, ?)`,
			itemID, a.Value, a.Unit.String(),
		); err != nil {
			return fmt.Errorf("insert advance: %w", err)
		}
	}
	return nil
}

func (s *ItemStore) loadAdvances(item *model.Item) error {
	rows, err := s.db.Query(
		`SELECT value, unit FROM notification_advances WHERE item_id = ? ORDER BY id ASC`, item.ID,
	)
	if err != nil {
		return fmt.Errorf("list advances: %w", err)
	}
	defer rows.Close()

	item.Advances = nil
	for rows.Next() {
		var (
			a    recurrence.Advance
			unit string
		)
		if err := rows.Scan(&a.Value, &unit); err != nil {
			return fmt.Errorf("scan advance: %w", err)
		}
		if a.Unit, err = recurrence.ParseUnit(unit); err != nil {
			return fmt.Errorf("item %d: %w", item.ID, err)
		}
		item.Advances = append(item.Advances, a)
	}
	return rows.Err()
}

func (s *ItemStore) GetByID(id int64) (*model.Item, error) {
	item, err := scanItem(s.db.QueryRow(`SELECT `+itemCols+` FROM schedule_items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if err := s.loadAdvances(item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListByFamily returns a family's items ordered by due time.
func (s *ItemStore) ListByFamily(familyID string) ([]model.Item, error) {
	return s.list(`SELECT `+itemCols+` FROM schedule_items WHERE family_id = ? ORDER BY due_at ASC, id ASC`, familyID)
}

// ListOpen returns every item not yet completed, across all families.
func (s *ItemStore) ListOpen() ([]model.Item, error) {
	return s.list(`SELECT ` + itemCols + ` FROM schedule_items WHERE completed = 0 ORDER BY due_at ASC, id ASC`)
}

func (s *ItemStore) list(query string, args ...any) ([]model.Item, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Advances are loaded after the cursor closes; the pool may hold a single
	// connection.
	for i := range items {
		if err := s.loadAdvances(&items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// Update rewrites an item's schedule fields and advances.
func (s *ItemStore) Update(item *model.Item) (*model.Item, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	enabled, freq, interval, days, dom, end := ruleColumns(item.Rule)
	res, err := tx.Exec(
		`UPDATE schedule_items SET kind = ?, title = ?, assigned_to = ?, due_at = ?, recur_enabled = ?,
		 frequency = ?, interval_n = ?, days_of_week = ?, day_of_month = ?, end_date = ?, updated_at = ?
		 WHERE id = ?`,
		string(item.Kind), item.Title, nullString(item.AssignedTo), item.DueAt.UTC(), enabled,
		freq, interval, days, dom, end, s.now(), item.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	if err := replaceAdvances(tx, item.ID, item.Advances); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit item: %w", err)
	}
	return s.GetByID(item.ID)
}

// Complete records a completion at the given time. A recurring item rolls
// its due time forward to the next occurrence and stays open; an item with
// no further occurrence is marked completed.
func (s *ItemStore) Complete(id int64, at time.Time) (*model.Item, error) {
	item, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}

	due := item.DueAt
	completed := true
	if item.Recurring() {
		if next, ok := recurrence.NextOccurrence(item.DueAt, *item.Rule); ok {
			due, completed = next, false
		}
	}

	_, err = s.db.Exec(
		`UPDATE schedule_items SET due_at = ?, completed = ?, last_completed_at = ?, updated_at = ? WHERE id = ?`,
		due.UTC(), completed, at.UTC(), s.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("complete item: %w", err)
	}
	return s.GetByID(id)
}

func (s *ItemStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM schedule_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
