package server

import (
	"errors"
	"net/http"

	"nodebroker/pkg/index"
	"nodebroker/pkg/log"
	"nodebroker/pkg/nodestore"
	"nodebroker/pkg/placement"
	"nodebroker/pkg/registry"

	"github.com/labstack/echo/v4"
)

// ErrNodeInUse is returned when deleting a node that still stores files.
var ErrNodeInUse = errors.New("node still stores files")

var errorStatuses = []struct {
	err    error
	status int
}{
	{placement.ErrNotFound, http.StatusNotFound},
	{placement.ErrInvalidRequest, http.StatusBadRequest},
	{placement.ErrNodeUnavailable, http.StatusServiceUnavailable},
	{placement.ErrCapacityExceeded, http.StatusInsufficientStorage},
	{placement.ErrTransferFailed, http.StatusBadGateway},
	{registry.ErrUserNotFound, http.StatusNotFound},
	{registry.ErrNodeExists, http.StatusConflict},
	{registry.ErrInvalidCredentials, http.StatusUnauthorized},
	{registry.ErrInvalidRegistration, http.StatusBadRequest},
	{index.ErrUserExists, http.StatusConflict},
	{index.ErrUserNotFound, http.StatusNotFound},
	{index.ErrNotificationNotFound, http.StatusNotFound},
	{nodestore.ErrNodeNotFound, http.StatusNotFound},
	{ErrNodeInUse, http.StatusConflict},
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	for _, candidate := range errorStatuses {
		if errors.Is(err, candidate.err) {
			return candidate.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": ...}. Internal errors are logged and not
// echoed to the client.
func respondError(ctx echo.Context, err error) error {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", ctx.Request().URL.Path).Msg("Request failed")
		message = "internal server error"
	}

	return ctx.JSON(status, map[string]string{
		"error": message,
	})
}
