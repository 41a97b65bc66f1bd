package leafindex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
)

func newLeafNetwork(t *testing.T) (*network.Network, *network.Node, *network.Node) {
	t.Helper()
	n := network.New()
	producer := n.CreateNode(&network.Node{Name: "producer", Outputs: []network.OutputSpec{{Name: "out", Type: "any"}}})
	leaf := n.CreateNode(network.NewLeafNode(0, "leaf"))
	return n, producer, leaf
}

func TestIndexAssignsAndReusesIndices(t *testing.T) {
	n, producer, leaf := newLeafNetwork(t)
	ix := New()

	src := network.OutputRef{NodeIndex: producer.ID.Index(), OutputIndex: 0}
	tgt := network.InputRef{NodeIndex: leaf.ID.Index(), InputIndex: 0}
	c, err := n.Connect(src, tgt, mask.All(4))
	require.NoError(t, err)

	ix.DidConnect(n, c)
	idx, ok := ix.GetIndex(leaf.ID)
	require.True(t, ok)
	assert.Equal(t, int32(0), idx)

	gotNode, ok := ix.GetNode(idx)
	require.True(t, ok)
	assert.Equal(t, leaf.ID, gotNode)

	gotOut, ok := ix.GetSourceOutput(idx)
	require.True(t, ok)
	assert.Equal(t, src, gotOut)

	ix.WillDeleteConnection(n, c)
	require.NoError(t, n.Disconnect(c))
	_, ok = ix.GetIndex(leaf.ID)
	assert.False(t, ok)

	// reconnecting reuses the freed slot
	c2, err := n.Connect(src, tgt, mask.All(4))
	require.NoError(t, err)
	ix.DidConnect(n, c2)
	idx2, ok := ix.GetIndex(leaf.ID)
	require.True(t, ok)
	assert.Equal(t, int32(0), idx2)
	assert.Equal(t, 1, ix.Capacity())
}

func TestIndexIgnoresNonLeafTargets(t *testing.T) {
	n := network.New()
	producer := n.CreateNode(&network.Node{Name: "producer", Outputs: []network.OutputSpec{{Name: "out", Type: "any"}}})
	consumer := n.CreateNode(&network.Node{Name: "consumer", Inputs: []network.InputSpec{{Name: "in", Type: "any", Mode: network.ReadOnly}}})
	ix := New()

	src := network.OutputRef{NodeIndex: producer.ID.Index(), OutputIndex: 0}
	tgt := network.InputRef{NodeIndex: consumer.ID.Index(), InputIndex: 0}
	c, err := n.Connect(src, tgt, mask.All(1))
	require.NoError(t, err)

	ix.DidConnect(n, c)
	assert.Equal(t, 0, ix.Capacity())
}

func TestIndexConcurrentConnectsOfDistinctLeaves(t *testing.T) {
	n := network.New()
	producer := n.CreateNode(&network.Node{Name: "producer", Outputs: []network.OutputSpec{{Name: "out", Type: "any"}}})
	ix := New()

	const numLeaves = 200
	leaves := make([]*network.Node, numLeaves)
	for i := range leaves {
		leaves[i] = n.CreateNode(network.NewLeafNode(0, "leaf"))
	}

	src := network.OutputRef{NodeIndex: producer.ID.Index(), OutputIndex: 0}

	var wg sync.WaitGroup
	for _, leaf := range leaves {
		leaf := leaf
		wg.Add(1)
		go func() {
			defer wg.Done()
			tgt := network.InputRef{NodeIndex: leaf.ID.Index(), InputIndex: 0}
			c, err := n.Connect(src, tgt, mask.All(1))
			if err != nil {
				return
			}
			ix.DidConnect(n, c)
		}()
	}
	wg.Wait()

	assert.Equal(t, numLeaves, ix.Capacity())
	for _, leaf := range leaves {
		_, ok := ix.GetIndex(leaf.ID)
		assert.True(t, ok)
	}
}

func TestIndexInvalidateWipesState(t *testing.T) {
	n, producer, leaf := newLeafNetwork(t)
	ix := New()
	src := network.OutputRef{NodeIndex: producer.ID.Index(), OutputIndex: 0}
	tgt := network.InputRef{NodeIndex: leaf.ID.Index(), InputIndex: 0}
	c, err := n.Connect(src, tgt, mask.All(1))
	require.NoError(t, err)
	ix.DidConnect(n, c)

	ix.Invalidate()
	assert.Equal(t, 0, ix.Capacity())
	_, ok := ix.GetIndex(leaf.ID)
	assert.False(t, ok)
}
