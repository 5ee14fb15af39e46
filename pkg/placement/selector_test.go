package placement

import (
	"testing"

	"nodebroker/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectEmptyLiveSet(t *testing.T) {
	selector := NewSelector()

	assert.Nil(t, selector.Select(nil))
	assert.Nil(t, selector.Select([]*models.Node{
		{ID: "offline", Endpoint: "https://a", IsOnline: false},
		{ID: "no-endpoint", IsOnline: true},
		nil,
	}))
}

func TestSelectOnlyReachableNodes(t *testing.T) {
	selector := NewSelector()
	nodes := []*models.Node{
		{ID: "offline", Endpoint: "https://a", IsOnline: false},
		{ID: "live-1", Endpoint: "https://b", IsOnline: true},
		{ID: "no-endpoint", IsOnline: true},
		{ID: "live-2", Endpoint: "https://c", IsOnline: true},
	}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		picked := selector.Select(nodes)
		require.NotNil(t, picked)
		assert.True(t, picked.Reachable())
		seen[picked.ID] = true
	}
	assert.Len(t, seen, 2)
}

func TestSelectUsesSource(t *testing.T) {
	selector := NewSelectorWithSource(func(n int) int { return n - 1 })
	nodes := []*models.Node{
		{ID: "live-1", Endpoint: "https://b", IsOnline: true},
		{ID: "live-2", Endpoint: "https://c", IsOnline: true},
	}

	assert.Equal(t, "live-2", selector.Select(nodes).ID)
}
