package registry

import "errors"

var (
	// ErrUserNotFound is returned when the owning user has no account.
	ErrUserNotFound = errors.New("user not found")
	// ErrNodeExists is returned when the owner already has a node with that name.
	ErrNodeExists = errors.New("node already exists")
	// ErrInvalidCredentials is returned for an unknown node name or wrong password.
	ErrInvalidCredentials = errors.New("invalid node name or password")
	// ErrInvalidRegistration is returned for incomplete registration data.
	ErrInvalidRegistration = errors.New("invalid registration")
)
