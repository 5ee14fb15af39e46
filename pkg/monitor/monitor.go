// Package monitor runs the periodic node health sweeps.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nodebroker/pkg/log"
	"nodebroker/pkg/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPingInterval     = 10 * time.Minute
	defaultResourceInterval = 5 * time.Minute
	defaultConcurrency      = 8
	defaultNodeTimeout      = 45 * time.Second
)

// NodeLister lists every registered node.
type NodeLister interface {
	ListAll(ctx context.Context) ([]*models.Node, error)
}

// HealthService runs the per-node checks.
type HealthService interface {
	EnsureOnline(ctx context.Context, nodeID string) bool
	MonitorNode(ctx context.Context, nodeID string) error
}

// Config sets the sweep cadence and fan-out.
type Config struct {
	PingInterval     time.Duration
	ResourceInterval time.Duration
	Concurrency      int
	// NodeTimeout bounds the checks for one node within a sweep.
	NodeTimeout time.Duration
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked int
	Healthy int
	Failed  int
	Skipped int
}

// Monitor probes every node on a fixed interval. Each node is checked on
// its own goroutine with its own timeout, so one dead node cannot stall
// the sweep.
type Monitor struct {
	nodes  NodeLister
	health HealthService
	cfg    Config
	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. Zero config fields take defaults.
func New(nodes NodeLister, health HealthService, cfg Config) *Monitor {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ResourceInterval <= 0 {
		cfg.ResourceInterval = defaultResourceInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = defaultNodeTimeout
	}

	return &Monitor{nodes: nodes, health: health, cfg: cfg, logger: log.Component("monitor")}
}

// Start launches the ping and resource loops. They stop when ctx is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go m.loop(ctx, "ping", m.cfg.PingInterval, m.PingSweep)
	go m.loop(ctx, "resource", m.cfg.ResourceInterval, m.ResourceSweep)

	m.logger.Info().
		Dur("ping_interval", m.cfg.PingInterval).
		Dur("resource_interval", m.cfg.ResourceInterval).
		Int("concurrency", m.cfg.Concurrency).
		Msg("Node monitor started")
}

// Stop cancels in-flight checks and waits for the loops to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info().Msg("Node monitor stopped")
}

// PingSweep runs EnsureOnline for every node with an endpoint.
func (m *Monitor) PingSweep(ctx context.Context) SweepResult {
	return m.sweep(ctx, func(node *models.Node) bool {
		return node.Endpoint != ""
	}, func(nodeCtx context.Context, node *models.Node) bool {
		online := m.health.EnsureOnline(nodeCtx, node.ID)
		if !online {
			m.logger.Warn().Str("node_id", node.ID).Str("node_name", node.Name).Msg("Node failed health check")
		}
		return online
	})
}

// ResourceSweep runs MonitorNode for every reachable node.
func (m *Monitor) ResourceSweep(ctx context.Context) SweepResult {
	return m.sweep(ctx, func(node *models.Node) bool {
		return node.Reachable()
	}, func(nodeCtx context.Context, node *models.Node) bool {
		if err := m.health.MonitorNode(nodeCtx, node.ID); err != nil {
			m.logger.Warn().Err(err).Str("node_id", node.ID).Str("node_name", node.Name).Msg("Node monitoring failed")
			return false
		}
		return true
	})
}

func (m *Monitor) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) SweepResult) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result := sweep(ctx)
		m.logger.Debug().
			Str("sweep", name).
			Int("checked", result.Checked).
			Int("healthy", result.Healthy).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Msg("Sweep finished")

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) sweep(ctx context.Context, eligible func(*models.Node) bool, check func(context.Context, *models.Node) bool) SweepResult {
	nodes, err := m.nodes.ListAll(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list nodes for sweep")
		return SweepResult{}
	}

	var checked, healthy, failed, skipped atomic.Int64
	var group errgroup.Group
	group.SetLimit(m.cfg.Concurrency)

	for _, node := range nodes {
		if ctx.Err() != nil {
			break
		}
		if !eligible(node) {
			skipped.Add(1)
			continue
		}

		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			nodeCtx, cancel := context.WithTimeout(ctx, m.cfg.NodeTimeout)
			defer cancel()

			checked.Add(1)
			if check(nodeCtx, node) {
				healthy.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()

	return SweepResult{
		Checked: int(checked.Load()),
		Healthy: int(healthy.Load()),
		Failed:  int(failed.Load()),
		Skipped: int(skipped.Load()),
	}
}
