package server

import (
	"errors"
	"io"
	"net/http"

	"nodebroker/pkg/log"
	"nodebroker/pkg/models"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

func (s *Server) uploadFile(ctx echo.Context) error {
	request := ctx.Request()
	request.Body = http.MaxBytesReader(ctx.Response(), request.Body, s.maxUploadSize)

	file, err := ctx.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return ctx.JSON(http.StatusRequestEntityTooLarge, models.OperationResult{
				Message: "file exceeds " + humanize.IBytes(uint64(s.maxUploadSize)),
			})
		}
		return ctx.JSON(http.StatusBadRequest, models.OperationResult{
			Message: "file parameter is required",
		})
	}

	src, err := file.Open()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open uploaded file")
		return ctx.JSON(http.StatusInternalServerError, models.OperationResult{
			Message: "failed to open uploaded file",
		})
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close uploaded file")
		}
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read uploaded file")
		return ctx.JSON(http.StatusInternalServerError, models.OperationResult{
			Message: "failed to read uploaded file",
		})
	}

	filename := ctx.FormValue("filename")
	if filename == "" {
		filename = file.Filename
	}

	result, err := s.files.Upload(request.Context(), userID(ctx), filename, data)
	if err != nil {
		return ctx.JSON(statusFor(err), result)
	}
	return ctx.JSON(http.StatusCreated, result)
}
