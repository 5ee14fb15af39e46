package storagenode

import "errors"

var (
	// ErrObjectNotFound is returned when no object is stored under the id.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidObjectID is returned for ids that are not safe file names.
	ErrInvalidObjectID = errors.New("invalid object id")
	// ErrLoginFailed is returned when the broker rejects the node login.
	ErrLoginFailed = errors.New("broker login failed")
)
