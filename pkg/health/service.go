package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nodebroker/pkg/log"
	"nodebroker/pkg/models"
)

// DefaultProbeAttempts is the number of sequential probes before a node is
// considered unavailable.
const DefaultProbeAttempts = 3

// NodeStore is the subset of the node store the service needs.
type NodeStore interface {
	Get(ctx context.Context, id string) (*models.Node, error)
	Mutate(ctx context.Context, id string, fn func(node *models.Node) error) (*models.Node, error)
}

// NodeClient fetches liveness and status reports from nodes.
type NodeClient interface {
	Checker
	ResourceUsage(ctx context.Context, endpoint, token string) (*models.ResourceUsage, error)
	AuthAttempts(ctx context.Context, endpoint, token string) (*models.AuthAttempts, error)
}

// Notifier receives admin alerts. Implementations must not block.
type Notifier interface {
	Notify(message, nodeID string, level models.CriticalLevel)
}

// Config tunes the health service.
type Config struct {
	ProbeTimeout  time.Duration
	ProbeAttempts int
	Classifier    Classifier
	Now           func() time.Time
}

// Service runs probes and monitoring checks and persists classifier results.
type Service struct {
	store      NodeStore
	client     NodeClient
	notifier   Notifier
	prober     *Prober
	classifier Classifier
	attempts   int
	now        func() time.Time
}

// NewService creates a health service. Zero config fields take defaults.
func NewService(store NodeStore, client NodeClient, notifier Notifier, cfg Config) *Service {
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = DefaultProbeAttempts
	}
	if cfg.Classifier == (Classifier{}) {
		cfg.Classifier = NewClassifier()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		store:      store,
		client:     client,
		notifier:   notifier,
		prober:     NewProber(client, cfg.ProbeTimeout),
		classifier: cfg.Classifier,
		attempts:   cfg.ProbeAttempts,
		now:        cfg.Now,
	}
}

// EnsureOnline probes the node up to the configured number of attempts and
// records the outcome. It returns true only when a probe succeeded within
// the latency threshold.
func (s *Service) EnsureOnline(ctx context.Context, nodeID string) bool {
	node, err := s.store.Get(ctx, nodeID)
	if err != nil {
		log.Warn().Err(err).Str("node_id", nodeID).Msg("Cannot load node for health check")
		return false
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		result := s.prober.Probe(ctx, node)
		if ctx.Err() != nil {
			return false
		}

		log.Debug().
			Str("node_id", nodeID).
			Int("attempt", attempt).
			Bool("success", result.Success).
			Int64("latency_ms", result.Latency.Milliseconds()).
			Msg("Probe finished")

		if result.Responded && s.classifier.ExceedsLatency(result.Latency) {
			s.apply(ctx, node, func(n *models.Node, now time.Time) Transition {
				return s.classifier.RecordExcessiveLatency(n, now)
			})
			return false
		}

		if result.Success {
			s.apply(ctx, node, func(n *models.Node, now time.Time) Transition {
				return s.classifier.RecordAvailable(n, now)
			})
			return true
		}
	}

	s.apply(ctx, node, func(n *models.Node, now time.Time) Transition {
		previous := n.Availability
		transition := s.classifier.RecordUnavailable(n, now)
		if s.classifier.ShouldGoOffline(previous, now) {
			transition = s.classifier.RecordOffline(n, now)
		}
		return transition
	})
	return false
}

// MonitorNode fetches resource usage and failed authentication counts from
// the node and records any degradation. Both reports are attempted even if
// one of them fails.
func (s *Service) MonitorNode(ctx context.Context, nodeID string) error {
	node, err := s.store.Get(ctx, nodeID)
	if err != nil {
		return err
	}
	if !node.Reachable() || node.Token == "" {
		return fmt.Errorf("%w: %s", ErrNodeNotReachable, nodeID)
	}

	var errs []error

	usage, err := s.client.ResourceUsage(ctx, node.Endpoint, node.Token)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: resource usage: %w", ErrMonitorFailed, err))
	} else {
		var healthy bool
		transition := s.apply(ctx, node, func(n *models.Node, now time.Time) Transition {
			var t Transition
			healthy, t = s.classifier.CheckResourceUsage(n, *usage, now)
			return t
		})
		if !healthy && transition.Changed && !transition.Escalated() {
			s.notify(node, transition.Record)
		}
	}

	attempts, err := s.client.AuthAttempts(ctx, node.Endpoint, node.Token)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: auth attempts: %w", ErrMonitorFailed, err))
	} else {
		s.apply(ctx, node, func(n *models.Node, now time.Time) Transition {
			_, t := s.classifier.CheckFailedAuth(n, attempts.FailedAttempts, now)
			return t
		})
	}

	return errors.Join(errs...)
}

// apply runs an event against the stored node inside a single store
// mutation and notifies on escalation to High.
func (s *Service) apply(ctx context.Context, node *models.Node, event func(*models.Node, time.Time) Transition) Transition {
	var transition Transition
	now := s.now()

	_, err := s.store.Mutate(context.WithoutCancel(ctx), node.ID, func(current *models.Node) error {
		transition = event(current, now)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("node_id", node.ID).Msg("Failed to persist node availability")
		return Transition{}
	}

	if transition.Changed {
		log.Info().
			Str("node_id", node.ID).
			Str("critical_level", transition.Record.Level.String()).
			Str("reason", string(transition.Record.Reason)).
			Msg("Node availability changed")
	}
	if transition.Escalated() {
		s.notify(node, transition.Record)
	}
	return transition
}

func (s *Service) notify(node *models.Node, record models.AvailabilityRecord) {
	if s.notifier == nil {
		return
	}
	message := fmt.Sprintf("Node %s (%s): %s", node.Name, node.ID, record.Reason)
	s.notifier.Notify(message, node.ID, record.Level)
}
