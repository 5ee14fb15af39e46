// Package server exposes the broker HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nodebroker/pkg/log"
	"nodebroker/pkg/models"
	"nodebroker/pkg/registry"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	defaultMaxUploadSize   = 1 << 30

	// UserHeader carries the caller identity. Authentication happens in front of the broker.
	UserHeader = "X-User-ID"
)

// FileService is the placement orchestrator.
type FileService interface {
	Upload(ctx context.Context, userID, filename string, data []byte) (models.OperationResult, error)
	Delete(ctx context.Context, userID, fileID string) error
	View(ctx context.Context, userID, fileID string) (*models.FileContent, error)
	Download(ctx context.Context, userID, fileID string) (*models.FileContent, error)
	Details(ctx context.Context, userID, fileID string) (*models.FileRecord, error)
	List(ctx context.Context, userID string) ([]models.FileRecord, error)
	ListShared(ctx context.Context, userID string) ([]models.FileRecord, error)
	Search(ctx context.Context, userID, query string) ([]models.FileRecord, error)
	Share(ctx context.Context, userID, fileID, targetUserID string) error
	Revoke(ctx context.Context, userID, fileID, targetUserID string) error
	Rename(ctx context.Context, userID, fileID, filename string) error
}

// NodeRegistry registers nodes and logs them in.
type NodeRegistry interface {
	Register(ctx context.Context, reg registry.Registration) (*models.Node, error)
	Login(ctx context.Context, login registry.Login) (*models.Node, error)
}

// NodeStore reads and removes nodes.
type NodeStore interface {
	Get(ctx context.Context, id string) (*models.Node, error)
	ListAll(ctx context.Context) ([]*models.Node, error)
	ListByOwner(ctx context.Context, userID string) ([]*models.Node, error)
	Delete(ctx context.Context, id string) error
}

// AccountStore manages user accounts, node file counts and notifications.
type AccountStore interface {
	CreateUser(ctx context.Context, userID string, allocated int64) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	CountByNode(ctx context.Context, nodeID string) (int64, error)
	ListNotifications(ctx context.Context, includeResolved bool) ([]models.Notification, error)
	ResolveNotification(ctx context.Context, id int64) error
}

// NodeHealth checks node reachability on demand.
type NodeHealth interface {
	EnsureOnline(ctx context.Context, nodeID string) bool
}

// Services groups the API backends.
type Services struct {
	Files    FileService
	Registry NodeRegistry
	Nodes    NodeStore
	Accounts AccountStore
	Health   NodeHealth
}

// Options tunes the HTTP server.
type Options struct {
	ShutdownTimeout time.Duration
	MaxUploadSize   int64
}

// Server is the broker HTTP server.
type Server struct {
	echo            *echo.Echo
	files           FileService
	registry        NodeRegistry
	nodes           NodeStore
	accounts        AccountStore
	health          NodeHealth
	shutdownTimeout time.Duration
	maxUploadSize   int64
}

// New creates the broker server with all routes registered.
func New(services Services, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = defaultMaxUploadSize
	}

	server := &Server{
		echo:            echo.New(),
		files:           services.Files,
		registry:        services.Registry,
		nodes:           services.Nodes,
		accounts:        services.Accounts,
		health:          services.Health,
		shutdownTimeout: opts.ShutdownTimeout,
		maxUploadSize:   opts.MaxUploadSize,
	}
	server.setupRoutes()
	return server
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting broker API")
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

// Shutdown waits for in-flight requests up to the shutdown timeout.
func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	log.Info().Msg("Server gracefully stopped")
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.POST("/users", s.createUser)
	s.echo.POST("/nodes/login", s.loginNode)
	s.echo.GET("/nodes", s.listNodes)
	s.echo.GET("/notifications", s.listNotifications)
	s.echo.POST("/notifications/:id/resolve", s.resolveNotification)

	s.echo.POST("/nodes/register", s.registerNode, requireUser)
	s.echo.GET("/nodes/mine", s.listMyNodes, requireUser)
	s.echo.GET("/nodes/:id", s.getNode, requireUser)
	s.echo.GET("/nodes/:id/ping", s.pingNode, requireUser)
	s.echo.DELETE("/nodes/:id", s.deleteNode, requireUser)

	s.echo.POST("/files/upload", s.uploadFile, requireUser)
	s.echo.GET("/files", s.listFiles, requireUser)
	s.echo.GET("/files/shared", s.listSharedFiles, requireUser)
	s.echo.GET("/files/search", s.searchFiles, requireUser)
	s.echo.GET("/files/:id", s.fileDetails, requireUser)
	s.echo.GET("/files/:id/view", s.viewFile, requireUser)
	s.echo.GET("/files/:id/download", s.downloadFile, requireUser)
	s.echo.DELETE("/files/:id", s.deleteFile, requireUser)
	s.echo.POST("/files/:id/share", s.shareFile, requireUser)
	s.echo.DELETE("/files/:id/share/:userId", s.revokeShare, requireUser)
	s.echo.PUT("/files/:id/name", s.renameFile, requireUser)
}

// requireUser rejects requests without an identity header.
func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if ctx.Request().Header.Get(UserHeader) == "" {
			return ctx.JSON(http.StatusUnauthorized, map[string]string{
				"error": "missing " + UserHeader + " header",
			})
		}
		return next(ctx)
	}
}

func userID(ctx echo.Context) string {
	return ctx.Request().Header.Get(UserHeader)
}
