package index

import (
	"context"
	"database/sql"
	"time"

	"nodebroker/pkg/models"
)

// AddNotification stores an admin notification and sets its id.
func (s *Store) AddNotification(ctx context.Context, notification *models.Notification) error {
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	level, err := notification.CriticalLevel.MarshalText()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (message, node_id, critical_level, created_at, resolved) VALUES (?, ?, ?, ?, FALSE)`,
		notification.Message, notification.NodeID, string(level), notification.CreatedAt,
	)
	if err != nil {
		return wrapDB(err)
	}

	notification.ID, err = result.LastInsertId()
	if err != nil {
		return wrapDB(err)
	}
	return nil
}

// ListNotifications returns notifications, newest first. Resolved entries
// are skipped unless includeResolved is set.
func (s *Store) ListNotifications(ctx context.Context, includeResolved bool) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, message, node_id, critical_level, created_at, resolved, resolved_at FROM notifications`
	if !includeResolved {
		query += ` WHERE resolved = FALSE`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer func() { _ = rows.Close() }()

	notifications := []models.Notification{}
	for rows.Next() {
		var (
			notification models.Notification
			level        string
			resolvedAt   sql.NullTime
		)
		err := rows.Scan(&notification.ID, &notification.Message, &notification.NodeID, &level,
			&notification.CreatedAt, &notification.Resolved, &resolvedAt)
		if err != nil {
			return nil, wrapDB(err)
		}
		if err := notification.CriticalLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, wrapDB(err)
		}
		if resolvedAt.Valid {
			at := resolvedAt.Time
			notification.ResolvedAt = &at
		}
		notifications = append(notifications, notification)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return notifications, nil
}

// ResolveNotification marks a notification as resolved.
func (s *Store) ResolveNotification(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.execOne(ctx, ErrNotificationNotFound,
		`UPDATE notifications SET resolved = TRUE, resolved_at = ? WHERE id = ?`, time.Now().UTC(), id)
}
