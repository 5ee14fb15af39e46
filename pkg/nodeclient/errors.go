package nodeclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
)

var (
	// ErrNotConfigured is returned when a node has no endpoint or token.
	ErrNotConfigured = errors.New("node endpoint or token not configured")

	// ErrObjectNotFound is returned when the node does not hold the requested object.
	ErrObjectNotFound = errors.New("object not found on node")

	// ErrUnauthorized is returned when the node rejects the bearer token.
	ErrUnauthorized = errors.New("node rejected credentials")

	// ErrMalformedResponse is returned when a node answers with an unparseable body.
	ErrMalformedResponse = errors.New("malformed node response")
)

// StatusError is an unexpected HTTP status returned by a node.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "node returned status " + strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
}

func statusToError(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusNotFound:
		return ErrObjectNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return &StatusError{StatusCode: code}
	}
}

// IsTransportError reports whether err means no HTTP response was received
// (timeout, refused connection, DNS failure, cancelled request).
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
