package server

import (
	"fmt"
	"net/http"

	"nodebroker/pkg/log"
	"nodebroker/pkg/models"
	"nodebroker/pkg/nodestore"
	"nodebroker/pkg/registry"

	"github.com/labstack/echo/v4"
)

type loginResponse struct {
	NodeID string `json:"node_id"`
	Token  string `json:"token"`
}

func (s *Server) registerNode(ctx echo.Context) error {
	var reg registry.Registration
	if err := ctx.Bind(&reg); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	reg.UserID = userID(ctx)

	node, err := s.registry.Register(ctx.Request().Context(), reg)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, node.View())
}

func (s *Server) loginNode(ctx echo.Context) error {
	var login registry.Login
	if err := ctx.Bind(&login); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	node, err := s.registry.Login(ctx.Request().Context(), login)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, loginResponse{NodeID: node.ID, Token: node.Token})
}

func (s *Server) listNodes(ctx echo.Context) error {
	nodes, err := s.nodes.ListAll(ctx.Request().Context())
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, views(nodes))
}

func (s *Server) listMyNodes(ctx echo.Context) error {
	nodes, err := s.nodes.ListByOwner(ctx.Request().Context(), userID(ctx))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, views(nodes))
}

func (s *Server) getNode(ctx echo.Context) error {
	node, err := s.nodes.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, node.View())
}

type pingResponse struct {
	NodeID   string `json:"node_id"`
	IsOnline bool   `json:"is_online"`
}

// pingNode runs an on-demand health check and reports the outcome.
func (s *Server) pingNode(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	node, err := s.nodes.Get(reqCtx, ctx.Param("id"))
	if err != nil {
		return respondError(ctx, err)
	}

	online := s.health.EnsureOnline(reqCtx, node.ID)
	return ctx.JSON(http.StatusOK, pingResponse{NodeID: node.ID, IsOnline: online})
}

// deleteNode removes the caller's node. Nodes that still hold files are kept.
func (s *Server) deleteNode(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	nodeID := ctx.Param("id")

	node, err := s.nodes.Get(reqCtx, nodeID)
	if err != nil {
		return respondError(ctx, err)
	}
	if node.UserID != userID(ctx) {
		return respondError(ctx, nodestore.ErrNodeNotFound)
	}

	count, err := s.accounts.CountByNode(reqCtx, nodeID)
	if err != nil {
		return respondError(ctx, err)
	}
	if count > 0 {
		return respondError(ctx, fmt.Errorf("%w: %d files", ErrNodeInUse, count))
	}

	if err := s.nodes.Delete(reqCtx, nodeID); err != nil {
		return respondError(ctx, err)
	}

	log.Info().Str("node_id", nodeID).Msg("Node deleted")
	return ctx.JSON(http.StatusOK, map[string]string{
		"message": "node deleted",
		"node_id": nodeID,
	})
}

func views(nodes []*models.Node) []models.NodeView {
	result := make([]models.NodeView, 0, len(nodes))
	for _, node := range nodes {
		result = append(result, node.View())
	}
	return result
}
