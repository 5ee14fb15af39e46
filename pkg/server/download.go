package server

import (
	"mime"
	"net/http"

	"nodebroker/pkg/models"

	"github.com/labstack/echo/v4"
)

func (s *Server) viewFile(ctx echo.Context) error {
	content, err := s.files.View(ctx.Request().Context(), userID(ctx), ctx.Param("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return sendContent(ctx, content, "inline")
}

func (s *Server) downloadFile(ctx echo.Context) error {
	content, err := s.files.Download(ctx.Request().Context(), userID(ctx), ctx.Param("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return sendContent(ctx, content, "attachment")
}

func sendContent(ctx echo.Context, content *models.FileContent, disposition string) error {
	contentType := content.MimeType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}

	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType(disposition, map[string]string{"filename": content.Filename}))
	return ctx.Blob(http.StatusOK, contentType, content.Content)
}
