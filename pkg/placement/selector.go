package placement

import (
	"math/rand/v2"

	"nodebroker/pkg/models"
)

// Selector picks a placement target uniformly at random among reachable nodes.
type Selector struct {
	intN func(n int) int
}

// NewSelector returns a selector backed by the global random source.
func NewSelector() *Selector {
	return &Selector{intN: rand.IntN}
}

// NewSelectorWithSource returns a selector with a deterministic source.
func NewSelectorWithSource(intN func(n int) int) *Selector {
	return &Selector{intN: intN}
}

// Select returns nil when no node is online with an endpoint.
func (s *Selector) Select(nodes []*models.Node) *models.Node {
	live := make([]*models.Node, 0, len(nodes))
	for _, node := range nodes {
		if node != nil && node.Reachable() {
			live = append(live, node)
		}
	}

	if len(live) == 0 {
		return nil
	}
	return live[s.intN(len(live))]
}
