package index

import "errors"

var (
	// ErrFileNotFound is returned when the requested file record does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrUserNotFound is returned when the requested user account does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when creating an account that already exists.
	ErrUserExists = errors.New("user already exists")

	// ErrNotShared is returned when revoking a share that does not exist.
	ErrNotShared = errors.New("file is not shared with user")

	// ErrNotificationNotFound is returned when the requested notification does not exist.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrInvalidFilename is returned for empty file names.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("database error")
)
