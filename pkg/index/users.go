package index

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"nodebroker/pkg/models"
)

// CreateUser creates a quota account. A non-positive allocation falls back
// to models.DefaultUserAllocation.
func (s *Store) CreateUser(ctx context.Context, userID string, allocated int64) (*models.User, error) {
	if allocated <= 0 {
		allocated = models.DefaultUserAllocation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, allocated_storage, used_storage, created_at) VALUES (?, ?, 0, ?)`,
		userID, allocated, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, wrapDB(err)
	}

	return &models.User{
		ID:               userID,
		AllocatedStorage: allocated,
		CreatedAt:        now,
	}, nil
}

// GetUser returns the quota account for userID.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user := &models.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, allocated_storage, used_storage, created_at FROM users WHERE id = ?`,
		userID,
	).Scan(&user.ID, &user.AllocatedStorage, &user.UsedStorage, &user.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, wrapDB(err)
	}
	return user, nil
}

// IncrementUsedStorage adds delta (which may be negative) to the user's used
// storage in a single UPDATE so concurrent uploads cannot lose updates.
func (s *Store) IncrementUsedStorage(ctx context.Context, userID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET used_storage = used_storage + ? WHERE id = ?`,
		delta, userID,
	)
	if err != nil {
		return wrapDB(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return wrapDB(err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}
