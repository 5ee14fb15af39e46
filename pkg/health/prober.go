package health

import (
	"context"
	"time"

	"nodebroker/pkg/models"
)

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 10 * time.Second

// Checker performs one health round trip against a node.
type Checker interface {
	HealthCheck(ctx context.Context, endpoint, token string) (bool, time.Duration, error)
}

// ProbeResult is the outcome of one probe. Responded is false when no HTTP
// response was received at all.
type ProbeResult struct {
	Success   bool
	Responded bool
	Latency   time.Duration
}

// Prober issues liveness probes with a bounded timeout.
type Prober struct {
	checker Checker
	timeout time.Duration
}

// NewProber creates a prober. A non-positive timeout selects DefaultProbeTimeout.
func NewProber(checker Checker, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{checker: checker, timeout: timeout}
}

// Probe checks the node once. A node without endpoint or token fails
// immediately with zero latency and no network call.
func (p *Prober) Probe(ctx context.Context, node *models.Node) ProbeResult {
	if node == nil || node.Endpoint == "" || node.Token == "" {
		return ProbeResult{}
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ok, latency, err := p.checker.HealthCheck(probeCtx, node.Endpoint, node.Token)
	if err != nil {
		return ProbeResult{Latency: latency}
	}
	return ProbeResult{Success: ok, Responded: true, Latency: latency}
}
