package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const subscriptionCols = `id, family_id, user_id, endpoint, p256dh_key, auth_key, device_name, created_at`

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := scanner.Scan(&sub.ID, &sub.FamilyID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscription registers a device, refreshing keys when the endpoint
// is already known.
func (s *PushStore) CreateSubscription(familyID, userID, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (family_id, user_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET family_id = excluded.family_id, user_id = excluded.user_id,
		 p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
		familyID, userID, endpoint, p256dh, auth, deviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("create push subscription: %w", err)
	}
	// LastInsertId is unreliable after an upsert; look the row up by endpoint.
	return s.GetByEndpoint(endpoint)
}

func (s *PushStore) GetByEndpoint(endpoint string) (*model.PushSubscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByFamily(familyID string) ([]model.PushSubscription, error) {
	return s.list(`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE family_id = ? ORDER BY id ASC`, familyID)
}

func (s *PushStore) ListByUser(familyID, userID string) ([]model.PushSubscription, error) {
	return s.list(
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE family_id = ? AND user_id = ? ORDER BY id ASC`,
		familyID, userID,
	)
}

func (s *PushStore) list(query string, args ...any) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// RecordSent marks the notification for itemID at fireAt as delivered.
// Recording the same pair twice is a no-op.
func (s *PushStore) RecordSent(itemID int64, fireAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sent_notifications (item_id, fire_at, sent_at) VALUES (?, ?, ?)`,
		itemID, fireAt.Unix(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record sent notification: %w", err)
	}
	return nil
}

func (s *PushStore) WasSent(itemID int64, fireAt time.Time) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sent_notifications WHERE item_id = ? AND fire_at = ?`,
		itemID, fireAt.Unix(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sent notification: %w", err)
	}
	return count > 0, nil
}

// CleanupSent deletes dedup records whose fire time is before the cutoff.
func (s *PushStore) CleanupSent(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sent_notifications WHERE fire_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup sent notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
