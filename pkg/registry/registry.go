// Package registry registers storage nodes and handles node login.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nodebroker/pkg/index"
	"nodebroker/pkg/log"
	"nodebroker/pkg/models"
	"nodebroker/pkg/nodestore"
	"nodebroker/pkg/region"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const bytesPerGiB int64 = 1 << 30

// NodeStore is the node persistence used by the registry.
type NodeStore interface {
	Create(ctx context.Context, node *models.Node) error
	ListByOwner(ctx context.Context, userID string) ([]*models.Node, error)
	Mutate(ctx context.Context, id string, fn func(node *models.Node) error) (*models.Node, error)
}

// UserStore resolves node owners.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// Registration is the data a node operator submits.
type Registration struct {
	UserID      string `json:"user_id"`
	Name        string `json:"node_name"`
	Password    string `json:"password"`
	CapacityGiB int64  `json:"storage"`
	Country     string `json:"country"`
	City        string `json:"city"`
}

// Login is the data a node presents when it comes up.
type Login struct {
	UserID   string `json:"user_id"`
	Name     string `json:"node_name"`
	Password string `json:"password"`
	Endpoint string `json:"endpoint"`
}

// Registry registers nodes and issues node tokens.
type Registry struct {
	nodes NodeStore
	users UserStore
	cost  int
	now   func() time.Time
}

// New creates a registry using the default bcrypt cost.
func New(nodes NodeStore, users UserStore) *Registry {
	return &Registry{nodes: nodes, users: users, cost: bcrypt.DefaultCost, now: time.Now}
}

// Register creates a node. Capacity is split evenly between file storage
// and deployment storage.
func (r *Registry) Register(ctx context.Context, reg Registration) (*models.Node, error) {
	reg.Name = strings.TrimSpace(reg.Name)
	if reg.Name == "" || reg.Password == "" || reg.CapacityGiB <= 0 {
		return nil, fmt.Errorf("%w: node name, password and positive storage are required", ErrInvalidRegistration)
	}

	if _, err := r.users.GetUser(ctx, reg.UserID); err != nil {
		if errors.Is(err, index.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	existing, err := r.findByName(ctx, reg.UserID, reg.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrNodeExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), r.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	capacity := reg.CapacityGiB * bytesPerGiB
	half := capacity / 2

	node := &models.Node{
		UserID:                     reg.UserID,
		Name:                       reg.Name,
		PasswordHash:               string(hash),
		Capacity:                   capacity,
		AllocatedFileStorage:       models.StorageAllocation{Available: half},
		AllocatedDeploymentStorage: models.StorageAllocation{Available: half},
		Availability:               models.AvailabilityRecord{Level: models.CriticalNone, Reason: models.ReasonAvailable},
		Country:                    reg.Country,
		City:                       reg.City,
		Region:                     region.Determine(reg.Country, reg.City),
		Uptime:                     []time.Time{},
		Downtime:                   []models.AvailabilityRecord{},
		CreatedAt:                  r.now().UTC(),
	}

	if err := r.nodes.Create(ctx, node); err != nil {
		if errors.Is(err, nodestore.ErrNodeNameTaken) {
			return nil, ErrNodeExists
		}
		return nil, err
	}

	log.Info().
		Str("node_id", node.ID).
		Str("user_id", node.UserID).
		Str("region", node.Region).
		Str("capacity", humanize.IBytes(uint64(capacity))).
		Msg("Node registered")
	return node, nil
}

// Login verifies the node password, issues a fresh token and records the
// node endpoint. The node is marked online with a new uptime entry.
func (r *Registry) Login(ctx context.Context, login Login) (*models.Node, error) {
	node, err := r.findByName(ctx, login.UserID, strings.TrimSpace(login.Name))
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(node.PasswordHash), []byte(login.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	endpoint := strings.TrimRight(strings.TrimSpace(login.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidRegistration)
	}

	token := uuid.NewString()
	now := r.now().UTC()
	updated, err := r.nodes.Mutate(ctx, node.ID, func(current *models.Node) error {
		current.Token = token
		current.Endpoint = endpoint
		current.IsOnline = true
		current.Uptime = append(current.Uptime, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("node_id", updated.ID).Str("endpoint", endpoint).Msg("Node logged in")
	return updated, nil
}

func (r *Registry) findByName(ctx context.Context, userID, name string) (*models.Node, error) {
	nodes, err := r.nodes.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if node.Name == name {
			return node, nil
		}
	}
	return nil, nil
}
