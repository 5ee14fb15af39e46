package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type shareRequest struct {
	UserID string `json:"user_id"`
}

type renameRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) listFiles(ctx echo.Context) error {
	files, err := s.files.List(ctx.Request().Context(), userID(ctx))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, files)
}

func (s *Server) listSharedFiles(ctx echo.Context) error {
	files, err := s.files.ListShared(ctx.Request().Context(), userID(ctx))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, files)
}

func (s *Server) searchFiles(ctx echo.Context) error {
	files, err := s.files.Search(ctx.Request().Context(), userID(ctx), ctx.QueryParam("q"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, files)
}

func (s *Server) fileDetails(ctx echo.Context) error {
	record, err := s.files.Details(ctx.Request().Context(), userID(ctx), ctx.Param("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, record)
}

func (s *Server) deleteFile(ctx echo.Context) error {
	fileID := ctx.Param("id")
	if err := s.files.Delete(ctx.Request().Context(), userID(ctx), fileID); err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]string{
		"message": "file deleted",
		"file_id": fileID,
	})
}

func (s *Server) shareFile(ctx echo.Context) error {
	var req shareRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	if err := s.files.Share(ctx.Request().Context(), userID(ctx), ctx.Param("id"), req.UserID); err != nil {
		return respondError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) revokeShare(ctx echo.Context) error {
	err := s.files.Revoke(ctx.Request().Context(), userID(ctx), ctx.Param("id"), ctx.Param("userId"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) renameFile(ctx echo.Context) error {
	var req renameRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	if err := s.files.Rename(ctx.Request().Context(), userID(ctx), ctx.Param("id"), req.Filename); err != nil {
		return respondError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}
