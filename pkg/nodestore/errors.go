package nodestore

import "errors"

var (
	// ErrNodeNotFound is returned when no node exists with the given id.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeExists is returned when creating a node whose id is already taken.
	ErrNodeExists = errors.New("node already exists")

	// ErrNodeNameTaken is returned when the owner already has a node with that name.
	ErrNodeNameTaken = errors.New("node name already taken")

	// ErrVersionConflict is returned by Put when the stored node changed since it was read.
	ErrVersionConflict = errors.New("node version conflict")

	// ErrHistoryTruncated is returned when a write would shrink the uptime or downtime log.
	ErrHistoryTruncated = errors.New("node history is append-only")

	// ErrDatabaseError wraps failures of the underlying database.
	ErrDatabaseError = errors.New("node database error")
)
