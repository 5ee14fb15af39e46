package storagenode

import (
	"errors"
	"net/http"

	"nodebroker/pkg/log"
	"nodebroker/pkg/models"

	"github.com/labstack/echo/v4"
)

func (s *Server) upload(ctx echo.Context) error {
	request := ctx.Request()
	request.Body = http.MaxBytesReader(ctx.Response(), request.Body, s.maxBodySize)

	file, err := ctx.FormFile("file")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "file parameter is required",
		})
	}

	objectID := ctx.FormValue("filename")
	if objectID == "" {
		objectID = file.Filename
	}

	src, err := file.Open()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open uploaded file")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to open uploaded file",
		})
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close uploaded file")
		}
	}()

	written, err := s.objects.Put(objectID, src)
	if err != nil {
		return objectError(ctx, objectID, err)
	}

	log.Info().Str("object_id", objectID).Int64("size", written).Msg("Object stored")
	return ctx.JSON(http.StatusOK, map[string]any{
		"object_id": objectID,
		"size":      written,
	})
}

func (s *Server) download(ctx echo.Context) error {
	objectID := ctx.Param("id")

	path, err := s.objects.Path(objectID)
	if err != nil {
		return objectError(ctx, objectID, err)
	}
	return ctx.File(path)
}

func (s *Server) delete(ctx echo.Context) error {
	objectID := ctx.Param("id")

	if err := s.objects.Delete(objectID); err != nil {
		return objectError(ctx, objectID, err)
	}

	log.Info().Str("object_id", objectID).Msg("Object deleted")
	return ctx.JSON(http.StatusOK, map[string]string{
		"message":   "object deleted",
		"object_id": objectID,
	})
}

func (s *Server) resourceUsage(ctx echo.Context) error {
	usage, err := s.usage()
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect resource usage")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to collect resource usage",
		})
	}
	return ctx.JSON(http.StatusOK, usage)
}

func (s *Server) authAttempts(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, models.AuthAttempts{
		FailedAttempts: int(s.failedAuth.Load()),
	})
}

func objectError(ctx echo.Context, objectID string, err error) error {
	switch {
	case errors.Is(err, ErrObjectNotFound):
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "object not found",
		})
	case errors.Is(err, ErrInvalidObjectID):
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid object id",
		})
	default:
		log.Error().Err(err).Str("object_id", objectID).Msg("Object operation failed")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}
