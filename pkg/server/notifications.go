package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// listNotifications returns open alerts, or all with ?all=true.
func (s *Server) listNotifications(ctx echo.Context) error {
	includeResolved, _ := strconv.ParseBool(ctx.QueryParam("all"))

	notifications, err := s.accounts.ListNotifications(ctx.Request().Context(), includeResolved)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, notifications)
}

func (s *Server) resolveNotification(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid notification id",
		})
	}

	if err := s.accounts.ResolveNotification(ctx.Request().Context(), id); err != nil {
		return respondError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}
