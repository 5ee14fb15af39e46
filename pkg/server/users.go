package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type createUserRequest struct {
	UserID           string `json:"user_id"`
	AllocatedStorage int64  `json:"allocated_storage"`
}

// createUser opens a quota account. A zero allocation selects the default.
func (s *Server) createUser(ctx echo.Context) error {
	var req createUserRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.AllocatedStorage < 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "user_id is required and allocated_storage must not be negative",
		})
	}

	user, err := s.accounts.CreateUser(ctx.Request().Context(), req.UserID, req.AllocatedStorage)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, user)
}
