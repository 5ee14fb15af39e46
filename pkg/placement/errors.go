package placement

import "errors"

var (
	// ErrNotFound is returned for missing files, missing users and access
	// the caller is not entitled to.
	ErrNotFound = errors.New("not found")

	// ErrNodeUnavailable is returned when no node can serve the request.
	ErrNodeUnavailable = errors.New("no available nodes")

	// ErrCapacityExceeded is returned when node or user quota is insufficient.
	ErrCapacityExceeded = errors.New("not enough storage")

	// ErrTransferFailed is returned when the remote node operation failed.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrInvalidRequest is returned for malformed input such as empty names.
	ErrInvalidRequest = errors.New("invalid request")
)
