package health

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"nodebroker/pkg/models"

	"github.com/stretchr/testify/suite"
)

type memoryStore struct {
	mu    sync.Mutex
	nodes map[string]*models.Node
}

func (m *memoryStore) Get(_ context.Context, id string) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[id]
	if !ok {
		return nil, errors.New("node not found")
	}
	return node.Clone(), nil
}

func (m *memoryStore) Mutate(_ context.Context, id string, fn func(*models.Node) error) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[id]
	if !ok {
		return nil, errors.New("node not found")
	}
	working := node.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Version++
	m.nodes[id] = working
	return working.Clone(), nil
}

type probeResponse struct {
	ok      bool
	latency time.Duration
	err     error
}

type scriptedClient struct {
	mu        sync.Mutex
	responses []probeResponse
	calls     int
	usage     *models.ResourceUsage
	usageErr  error
	attempts  *models.AuthAttempts
	authErr   error
}

func (c *scriptedClient) HealthCheck(_ context.Context, _, _ string) (bool, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	response := c.responses[len(c.responses)-1]
	if c.calls < len(c.responses) {
		response = c.responses[c.calls]
	}
	c.calls++
	return response.ok, response.latency, response.err
}

func (c *scriptedClient) ResourceUsage(context.Context, string, string) (*models.ResourceUsage, error) {
	return c.usage, c.usageErr
}

func (c *scriptedClient) AuthAttempts(context.Context, string, string) (*models.AuthAttempts, error) {
	return c.attempts, c.authErr
}

type alert struct {
	message string
	nodeID  string
	level   models.CriticalLevel
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert
}

func (n *recordingNotifier) Notify(message, nodeID string, level models.CriticalLevel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert{message: message, nodeID: nodeID, level: level})
}

// ServiceTestSuite tests probing and monitoring against in-memory fakes.
type ServiceTestSuite struct {
	suite.Suite
	store    *memoryStore
	client   *scriptedClient
	notifier *recordingNotifier
	service  *Service
	now      time.Time
	ctx      context.Context
}

func (s *ServiceTestSuite) SetupTest() {
	s.now = baseTime
	s.store = &memoryStore{nodes: map[string]*models.Node{"node-1": onlineNode()}}
	s.client = &scriptedClient{}
	s.notifier = &recordingNotifier{}
	s.service = NewService(s.store, s.client, s.notifier, Config{
		ProbeTimeout: time.Second,
		Now:          func() time.Time { return s.now },
	})
	s.ctx = context.Background()
}

func (s *ServiceTestSuite) node() *models.Node {
	node, err := s.store.Get(s.ctx, "node-1")
	s.Require().NoError(err)
	return node
}

func (s *ServiceTestSuite) TestEnsureOnlineFirstProbeSucceeds() {
	s.client.responses = []probeResponse{{ok: true, latency: 20 * time.Millisecond}}

	s.True(s.service.EnsureOnline(s.ctx, "node-1"))
	s.Equal(1, s.client.calls)
	s.Equal(models.CriticalNone, s.node().Availability.Level)
	s.Empty(s.node().Downtime)
}

func (s *ServiceTestSuite) TestEnsureOnlineRecoversAfterFailures() {
	s.client.responses = []probeResponse{
		{ok: false, latency: 10 * time.Millisecond},
		{ok: true, latency: 10 * time.Millisecond},
	}

	s.True(s.service.EnsureOnline(s.ctx, "node-1"))
	s.Equal(2, s.client.calls)
	s.Empty(s.node().Downtime)
}

func (s *ServiceTestSuite) TestEnsureOnlineThreeFailuresMarksUnavailable() {
	s.client.responses = []probeResponse{{ok: false, latency: 50 * time.Millisecond}}

	s.False(s.service.EnsureOnline(s.ctx, "node-1"))
	s.Equal(3, s.client.calls)

	node := s.node()
	s.Equal(models.CriticalMedium, node.Availability.Level)
	s.Equal(models.ReasonUnavailable, node.Availability.Reason)
	s.Equal(s.now, node.Availability.Timestamp)
	s.Len(node.Downtime, 1)
	s.True(node.IsOnline)
	s.Empty(s.notifier.alerts)
}

func (s *ServiceTestSuite) TestEnsureOnlineTransportErrorsAreFailures() {
	s.client.responses = []probeResponse{{latency: 5 * time.Second, err: &net.OpError{Op: "dial", Err: errors.New("refused")}}}

	s.False(s.service.EnsureOnline(s.ctx, "node-1"))
	s.Equal(3, s.client.calls)
	s.Equal(models.ReasonUnavailable, s.node().Availability.Reason)
}

func (s *ServiceTestSuite) TestEnsureOnlineSlowResponseShortCircuits() {
	s.client.responses = []probeResponse{{ok: true, latency: 350 * time.Millisecond}}

	s.False(s.service.EnsureOnline(s.ctx, "node-1"))
	s.Equal(1, s.client.calls)

	node := s.node()
	s.Equal(models.CriticalMedium, node.Availability.Level)
	s.Equal(models.ReasonExcessiveLatency, node.Availability.Reason)
	s.Len(node.Downtime, 1)
}

func (s *ServiceTestSuite) TestEnsureOnlineStaysUnavailableWithinAnHour() {
	s.client.responses = []probeResponse{{ok: false, latency: 10 * time.Millisecond}}
	s.False(s.service.EnsureOnline(s.ctx, "node-1"))

	s.now = s.now.Add(30 * time.Minute)
	s.False(s.service.EnsureOnline(s.ctx, "node-1"))

	node := s.node()
	s.Equal(models.ReasonUnavailable, node.Availability.Reason)
	s.Equal(baseTime, node.Availability.Timestamp)
	s.Len(node.Downtime, 1)
	s.True(node.IsOnline)
}

func (s *ServiceTestSuite) TestEnsureOnlineGoesOfflineAfterAnHour() {
	s.client.responses = []probeResponse{{ok: false, latency: 10 * time.Millisecond}}
	s.False(s.service.EnsureOnline(s.ctx, "node-1"))

	s.now = s.now.Add(time.Hour)
	s.False(s.service.EnsureOnline(s.ctx, "node-1"))

	node := s.node()
	s.False(node.IsOnline)
	s.Equal(models.CriticalHigh, node.Availability.Level)
	s.Equal(models.ReasonOffline, node.Availability.Reason)
	s.Len(node.Downtime, 2)

	s.Require().Len(s.notifier.alerts, 1)
	s.Equal("node-1", s.notifier.alerts[0].nodeID)
	s.Equal(models.CriticalHigh, s.notifier.alerts[0].level)
}

func (s *ServiceTestSuite) TestEnsureOnlineBringsOfflineNodeBack() {
	s.store.nodes["node-1"].IsOnline = false
	s.store.nodes["node-1"].Availability = models.AvailabilityRecord{Level: models.CriticalHigh, Reason: models.ReasonOffline}
	s.client.responses = []probeResponse{{ok: true, latency: 10 * time.Millisecond}}

	s.True(s.service.EnsureOnline(s.ctx, "node-1"))

	node := s.node()
	s.True(node.IsOnline)
	s.Len(node.Uptime, 1)
	s.Equal(models.CriticalNone, node.Availability.Level)
}

func (s *ServiceTestSuite) TestEnsureOnlineUnconfiguredNodeFailsWithoutCalls() {
	s.store.nodes["node-1"].Endpoint = ""
	s.client.responses = []probeResponse{{ok: true}}

	s.False(s.service.EnsureOnline(s.ctx, "node-1"))
	s.Zero(s.client.calls)
	s.Equal(models.ReasonUnavailable, s.node().Availability.Reason)
}

func (s *ServiceTestSuite) TestEnsureOnlineUnknownNode() {
	s.False(s.service.EnsureOnline(s.ctx, "ghost"))
}

func (s *ServiceTestSuite) TestEnsureOnlineCancelledLeavesStateUntouched() {
	s.client.responses = []probeResponse{{ok: false}}
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	s.False(s.service.EnsureOnline(ctx, "node-1"))
	s.Equal(models.ReasonAvailable, s.node().Availability.Reason)
	s.Empty(s.node().Downtime)
}

func (s *ServiceTestSuite) TestMonitorNodeHealthy() {
	s.client.usage = &models.ResourceUsage{CPUPercent: 20, MemoryUsed: 2, MemoryTotal: 10}
	s.client.attempts = &models.AuthAttempts{FailedAttempts: 0}

	s.NoError(s.service.MonitorNode(s.ctx, "node-1"))
	s.Empty(s.node().Downtime)
	s.Empty(s.notifier.alerts)
}

func (s *ServiceTestSuite) TestMonitorNodeHighResourceUsageNotifies() {
	s.client.usage = &models.ResourceUsage{CPUPercent: 97, MemoryUsed: 2, MemoryTotal: 10}
	s.client.attempts = &models.AuthAttempts{}

	s.NoError(s.service.MonitorNode(s.ctx, "node-1"))

	node := s.node()
	s.Equal(models.ReasonHighResourceUsage, node.Availability.Reason)
	s.True(node.IsOnline)
	s.Require().Len(s.notifier.alerts, 1)
	s.Equal(models.CriticalMedium, s.notifier.alerts[0].level)
}

func (s *ServiceTestSuite) TestMonitorNodeFailedAuthTakesNodeOffline() {
	s.client.usage = &models.ResourceUsage{CPUPercent: 5}
	s.client.attempts = &models.AuthAttempts{FailedAttempts: 4}

	s.NoError(s.service.MonitorNode(s.ctx, "node-1"))

	node := s.node()
	s.False(node.IsOnline)
	s.Equal(models.ReasonFailedAuth, node.Availability.Reason)
	s.Require().Len(s.notifier.alerts, 1)
	s.Equal(models.CriticalHigh, s.notifier.alerts[0].level)
}

func (s *ServiceTestSuite) TestMonitorNodeReportsFetchErrors() {
	s.client.usageErr = errors.New("boom")
	s.client.attempts = &models.AuthAttempts{FailedAttempts: 5}

	err := s.service.MonitorNode(s.ctx, "node-1")
	s.ErrorIs(err, ErrMonitorFailed)
	// The auth report is still applied.
	s.Equal(models.ReasonFailedAuth, s.node().Availability.Reason)
}

func (s *ServiceTestSuite) TestMonitorNodeSkipsUnreachableNode() {
	s.store.nodes["node-1"].IsOnline = false

	s.ErrorIs(s.service.MonitorNode(s.ctx, "node-1"), ErrNodeNotReachable)
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
