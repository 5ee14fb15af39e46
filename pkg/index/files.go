package index

import (
	"context"
	"strings"
	"time"

	"nodebroker/pkg/models"

	"github.com/google/uuid"
)

// shareSeparator joins share ids in GROUP_CONCAT results (ASCII unit separator).
const shareSeparator = "\x1f"

const selectFiles = `
SELECT f.id, f.user_id, f.filename, f.node_id, f.size, COALESCE(f.mime_type, ''), f.date_added,
       COALESCE(GROUP_CONCAT(sh.user_id, char(31)), '')
FROM files f
LEFT JOIN file_shares sh ON sh.file_id = f.id
`

// CreateFile inserts a file record. An empty ID is replaced with a generated
// one, which also becomes the remote object name.
func (s *Store) CreateFile(ctx context.Context, record *models.FileRecord) error {
	if strings.TrimSpace(record.Filename) == "" {
		return ErrInvalidFilename
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.DateAdded.IsZero() {
		record.DateAdded = time.Now().UTC()
	}
	if record.SharedWith == nil {
		record.SharedWith = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, user_id, filename, node_id, size, mime_type, date_added) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, record.Filename, record.NodeID, record.Size, record.MimeType, record.DateAdded,
	)
	if err != nil {
		return wrapDB(err)
	}
	return nil
}

// GetFile returns the file record with its share list.
func (s *Store) GetFile(ctx context.Context, fileID string) (*models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.queryFiles(ctx, selectFiles+`WHERE f.id = ? GROUP BY f.id`, fileID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrFileNotFound
	}
	return &records[0], nil
}

// ListByOwner returns the files owned by userID, newest first.
func (s *Store) ListByOwner(ctx context.Context, userID string) ([]models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryFiles(ctx, selectFiles+`WHERE f.user_id = ? GROUP BY f.id ORDER BY f.date_added DESC, f.id`, userID)
}

// ListSharedWith returns the files other users shared with userID.
func (s *Store) ListSharedWith(ctx context.Context, userID string) ([]models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryFiles(ctx, selectFiles+`
WHERE f.id IN (SELECT file_id FROM file_shares WHERE user_id = ?)
GROUP BY f.id ORDER BY f.date_added DESC, f.id`, userID)
}

// SearchFiles returns the user's files whose name contains query.
func (s *Store) SearchFiles(ctx context.Context, userID, query string) ([]models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryFiles(ctx, selectFiles+`
WHERE f.user_id = ? AND f.filename LIKE '%' || ? || '%' ESCAPE '\'
GROUP BY f.id ORDER BY f.filename, f.id`, userID, escapeLike(query))
}

// CountByNode returns how many file records are placed on nodeID.
func (s *Store) CountByNode(ctx context.Context, nodeID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE node_id = ?`, nodeID).Scan(&count); err != nil {
		return 0, wrapDB(err)
	}
	return count, nil
}

// DeleteFile removes the file record and its shares.
func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.execOne(ctx, ErrFileNotFound, `DELETE FROM files WHERE id = ?`, fileID)
}

// RenameFile changes the display name of a file.
func (s *Store) RenameFile(ctx context.Context, fileID, filename string) error {
	if strings.TrimSpace(filename) == "" {
		return ErrInvalidFilename
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.execOne(ctx, ErrFileNotFound, `UPDATE files SET filename = ? WHERE id = ?`, filename, fileID)
}

// ShareFile grants userID read access. Sharing twice is a no-op.
func (s *Store) ShareFile(ctx context.Context, fileID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM files WHERE id = ?)`, fileID).Scan(&exists)
	if err != nil {
		return wrapDB(err)
	}
	if !exists {
		return ErrFileNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_shares (file_id, user_id) VALUES (?, ?)`, fileID, userID,
	); err != nil {
		return wrapDB(err)
	}
	return nil
}

// RevokeShare removes userID from the file's share list.
func (s *Store) RevokeShare(ctx context.Context, fileID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.execOne(ctx, ErrNotShared, `DELETE FROM file_shares WHERE file_id = ? AND user_id = ?`, fileID, userID)
}

func (s *Store) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDB(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return wrapDB(err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func (s *Store) queryFiles(ctx context.Context, query string, args ...any) ([]models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer func() { _ = rows.Close() }()

	records := []models.FileRecord{}
	for rows.Next() {
		var (
			record models.FileRecord
			shares string
		)
		err := rows.Scan(&record.ID, &record.UserID, &record.Filename, &record.NodeID, &record.Size,
			&record.MimeType, &record.DateAdded, &shares)
		if err != nil {
			return nil, wrapDB(err)
		}

		record.SharedWith = []string{}
		if shares != "" {
			record.SharedWith = strings.Split(shares, shareSeparator)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return records, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
