// Package storagenode is a reference storage node that speaks the broker's
// node protocol. Objects are stored as plain files in a data directory.
package storagenode

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nodebroker/pkg/log"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxBodySize     = 2 << 30
	bearerPrefix           = "Bearer "
)

// Server is the storage node HTTP server.
type Server struct {
	echo        *echo.Echo
	objects     *ObjectStore
	usage       UsageSource
	maxBodySize int64

	tokenMu sync.RWMutex
	token   string

	failedAuth atomic.Int64
}

// New creates a node server storing objects under dataDir. A nil usage
// source reads /proc.
func New(dataDir, token string, maxBodySize int64, usage UsageSource) (*Server, error) {
	objects, err := NewObjectStore(filepath.Join(dataDir, "objects"))
	if err != nil {
		return nil, err
	}
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	if usage == nil {
		usage = ProcUsage
	}

	server := &Server{
		echo:        echo.New(),
		objects:     objects,
		usage:       usage,
		maxBodySize: maxBodySize,
		token:       token,
	}
	server.setupRoutes()
	return server, nil
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// SetToken replaces the bearer token, e.g. after a broker login.
func (s *Server) SetToken(token string) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	s.token = token
}

// FailedAttempts returns the number of rejected requests.
func (s *Server) FailedAttempts() int64 {
	return s.failedAuth.Load()
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Str("max_body_size", humanize.IBytes(uint64(s.maxBodySize))).
			Msg("Starting storage node")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down storage node...")

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.requireToken)

	s.echo.GET("/health", s.health)
	s.echo.POST("/storage/upload", s.upload)
	s.echo.GET("/storage/download/:id", s.download)
	s.echo.DELETE("/storage/delete/:id", s.delete)
	s.echo.GET("/status/resource-usage", s.resourceUsage)
	s.echo.GET("/status/auth-attempts", s.authAttempts)
}

// requireToken rejects requests without the current bearer token and
// counts each rejection.
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		s.tokenMu.RLock()
		expected := s.token
		s.tokenMu.RUnlock()

		header := ctx.Request().Header.Get(echo.HeaderAuthorization)
		presented, found := strings.CutPrefix(header, bearerPrefix)
		if expected == "" || !found || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
			attempts := s.failedAuth.Add(1)
			log.Warn().
				Str("remote_ip", ctx.RealIP()).
				Int64("failed_attempts", attempts).
				Msg("Rejected request with invalid token")
			return ctx.JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid token",
			})
		}

		return next(ctx)
	}
}

func (s *Server) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
