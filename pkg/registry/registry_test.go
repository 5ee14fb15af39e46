package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"nodebroker/pkg/index"
	"nodebroker/pkg/models"
	"nodebroker/pkg/nodestore"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

// RegistryTestSuite tests node registration and login.
type RegistryTestSuite struct {
	suite.Suite
	ctx      context.Context
	nodes    *nodestore.Store
	index    *index.Store
	registry *Registry
}

func (s *RegistryTestSuite) SetupTest() {
	s.ctx = context.Background()
	dir := s.T().TempDir()

	var err error
	s.nodes, err = nodestore.Open(filepath.Join(dir, "nodes.db"))
	s.Require().NoError(err)
	s.index, err = index.Open(filepath.Join(dir, "index.db"))
	s.Require().NoError(err)

	_, err = s.index.CreateUser(s.ctx, "operator", 0)
	s.Require().NoError(err)

	s.registry = New(s.nodes, s.index)
	s.registry.cost = bcrypt.MinCost
}

func (s *RegistryTestSuite) TearDownTest() {
	s.nodes.Close()
	s.index.Close()
}

func (s *RegistryTestSuite) register(name string) *models.Node {
	node, err := s.registry.Register(s.ctx, Registration{
		UserID:      "operator",
		Name:        name,
		Password:    "hunter2",
		CapacityGiB: 10,
		Country:     "Germany",
		City:        "Berlin",
	})
	s.Require().NoError(err)
	return node
}

func (s *RegistryTestSuite) TestRegisterSplitsCapacity() {
	node := s.register("node-a")

	s.NotEmpty(node.ID)
	s.Equal(int64(10<<30), node.Capacity)
	s.Equal(int64(5<<30), node.AllocatedFileStorage.Available)
	s.Equal(int64(5<<30), node.AllocatedDeploymentStorage.Available)
	s.Zero(node.StorageStats().Used)
	s.Equal(int64(10<<30), node.StorageStats().Available)
	s.False(node.IsOnline)
	s.Empty(node.Token)
	s.NotEqual("hunter2", node.PasswordHash)
	s.Equal("eu-central-1", node.Region)

	stored, err := s.nodes.Get(s.ctx, node.ID)
	s.Require().NoError(err)
	s.Equal(node.Name, stored.Name)
}

func (s *RegistryTestSuite) TestRegisterRejectsDuplicateName() {
	s.register("node-a")

	_, err := s.registry.Register(s.ctx, Registration{UserID: "operator", Name: "node-a", Password: "x", CapacityGiB: 1})
	s.ErrorIs(err, ErrNodeExists)
}

func (s *RegistryTestSuite) TestConcurrentRegisterSameName() {
	const workers = 6
	errs := make([]error, workers)

	var waitGroup sync.WaitGroup
	for i := range errs {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, errs[i] = s.registry.Register(s.ctx, Registration{
				UserID:      "operator",
				Name:        "node-a",
				Password:    "hunter2",
				CapacityGiB: 1,
			})
		}()
	}
	waitGroup.Wait()

	registered := 0
	for _, err := range errs {
		if err == nil {
			registered++
			continue
		}
		s.ErrorIs(err, ErrNodeExists)
	}
	s.Equal(1, registered)

	nodes, err := s.nodes.ListByOwner(s.ctx, "operator")
	s.Require().NoError(err)
	s.Len(nodes, 1)
}

func (s *RegistryTestSuite) TestRegisterSameNameOtherOwner() {
	s.register("node-a")
	_, err := s.index.CreateUser(s.ctx, "other", 0)
	s.Require().NoError(err)

	_, err = s.registry.Register(s.ctx, Registration{UserID: "other", Name: "node-a", Password: "x", CapacityGiB: 1})
	s.NoError(err)
}

func (s *RegistryTestSuite) TestRegisterValidation() {
	_, err := s.registry.Register(s.ctx, Registration{UserID: "operator", Name: "", Password: "x", CapacityGiB: 1})
	s.ErrorIs(err, ErrInvalidRegistration)

	_, err = s.registry.Register(s.ctx, Registration{UserID: "operator", Name: "n", Password: "x", CapacityGiB: 0})
	s.ErrorIs(err, ErrInvalidRegistration)

	_, err = s.registry.Register(s.ctx, Registration{UserID: "ghost", Name: "n", Password: "x", CapacityGiB: 1})
	s.ErrorIs(err, ErrUserNotFound)
}

func (s *RegistryTestSuite) TestLoginIssuesToken() {
	registered := s.register("node-a")

	node, err := s.registry.Login(s.ctx, Login{
		UserID:   "operator",
		Name:     "node-a",
		Password: "hunter2",
		Endpoint: "https://node-a.example/",
	})
	s.Require().NoError(err)
	s.Equal(registered.ID, node.ID)
	s.NotEmpty(node.Token)
	s.Equal("https://node-a.example", node.Endpoint)
	s.True(node.IsOnline)
	s.Len(node.Uptime, 1)

	again, err := s.registry.Login(s.ctx, Login{
		UserID:   "operator",
		Name:     "node-a",
		Password: "hunter2",
		Endpoint: "https://node-a.example",
	})
	s.Require().NoError(err)
	s.NotEqual(node.Token, again.Token)
	s.Len(again.Uptime, 2)
}

func (s *RegistryTestSuite) TestLoginRejectsBadCredentials() {
	s.register("node-a")

	_, err := s.registry.Login(s.ctx, Login{UserID: "operator", Name: "node-a", Password: "wrong", Endpoint: "https://a"})
	s.ErrorIs(err, ErrInvalidCredentials)

	_, err = s.registry.Login(s.ctx, Login{UserID: "operator", Name: "node-b", Password: "hunter2", Endpoint: "https://a"})
	s.ErrorIs(err, ErrInvalidCredentials)

	_, err = s.registry.Login(s.ctx, Login{UserID: "operator", Name: "node-a", Password: "hunter2"})
	s.ErrorIs(err, ErrInvalidRegistration)
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
