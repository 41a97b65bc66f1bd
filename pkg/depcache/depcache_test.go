package depcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
)

// chain builds root -> mid -> leaf, each connection carrying the full
// mask, and returns the three nodes plus the network.
func chain(t *testing.T) (*network.Network, *network.Node, *network.Node, *network.Node) {
	t.Helper()
	n := network.New()
	root := n.CreateNode(&network.Node{Name: "root", Outputs: []network.OutputSpec{{Name: "out", Type: "any"}}})
	mid := n.CreateNode(&network.Node{
		Name:    "mid",
		Inputs:  []network.InputSpec{{Name: "in", Type: "any", Mode: network.ReadOnly}},
		Outputs: []network.OutputSpec{{Name: "out", Type: "any"}},
	})
	leaf := n.CreateNode(network.NewLeafNode(0, "leaf"))

	_, err := n.Connect(
		network.OutputRef{NodeIndex: root.ID.Index(), OutputIndex: 0},
		network.InputRef{NodeIndex: mid.ID.Index(), InputIndex: 0},
		mask.All(4),
	)
	require.NoError(t, err)
	_, err = n.Connect(
		network.OutputRef{NodeIndex: mid.ID.Index(), OutputIndex: 0},
		network.InputRef{NodeIndex: leaf.ID.Index(), InputIndex: 0},
		mask.All(4),
	)
	require.NoError(t, err)
	return n, root, mid, leaf
}

// terminalOnlyAtLeaf continues traversal through every node except
// leaves, which it records as terminal dependencies.
func terminalOnlyAtLeaf(n *network.Node, outputDeps *mask.MaskedOutputVector, nodeDeps *[]network.NodeID) bool {
	if n.IsLeaf() {
		*nodeDeps = append(*nodeDeps, n.ID)
		return false
	}
	return true
}

func TestFindNodesFindsLeafThroughChain(t *testing.T) {
	n, root, _, leaf := chain(t)
	c := New(n)

	req := mask.MaskedOutputVector{{Output: network.OutputRef{NodeIndex: root.ID.Index(), OutputIndex: 0}, Mask: mask.All(4)}}
	nodes := c.FindNodes(req, false, terminalOnlyAtLeaf)
	require.Len(t, nodes, 1)
	assert.Equal(t, leaf.ID, nodes[0])
}

func TestWillDeleteConnectionInvalidatesNonIncrementalEntry(t *testing.T) {
	n, root, mid, _ := chain(t)
	c := New(n)

	req := mask.MaskedOutputVector{{Output: network.OutputRef{NodeIndex: root.ID.Index(), OutputIndex: 0}, Mask: mask.All(4)}}
	nodes := c.FindNodes(req, false, terminalOnlyAtLeaf)
	require.Len(t, nodes, 1)

	rootOut := network.OutputRef{NodeIndex: root.ID.Index(), OutputIndex: 0}
	midIn := network.InputRef{NodeIndex: mid.ID.Index(), InputIndex: 0}
	conn, ok := n.FindConnection(rootOut, midIn)
	require.True(t, ok)

	c.WillDeleteConnection(conn)
	require.NoError(t, n.Disconnect(conn))

	e := c.lookup(req)
	require.NotNil(t, e)
	assert.False(t, e.valid)

	// a subsequent query rebuilds from scratch and finds nothing now
	// that root is disconnected from mid.
	nodes = c.FindNodes(req, false, terminalOnlyAtLeaf)
	assert.Empty(t, nodes)
}

func TestIncrementalEntryRepairsOnNewConnection(t *testing.T) {
	n, root, _, _ := chain(t)
	c := New(n)

	req := mask.MaskedOutputVector{{Output: network.OutputRef{NodeIndex: root.ID.Index(), OutputIndex: 0}, Mask: mask.All(4)}}
	nodes := c.FindNodes(req, true, terminalOnlyAtLeaf)
	require.Len(t, nodes, 1)

	// add a second leaf hanging directly off root.
	leaf2 := n.CreateNode(network.NewLeafNode(0, "leaf2"))
	conn, err := n.Connect(
		network.OutputRef{NodeIndex: root.ID.Index(), OutputIndex: 0},
		network.InputRef{NodeIndex: leaf2.ID.Index(), InputIndex: 0},
		mask.All(4),
	)
	require.NoError(t, err)
	c.DidConnect(conn)

	e := c.lookup(req)
	require.NotNil(t, e)
	assert.True(t, e.valid)
	require.Len(t, e.newConnections, 1)

	nodes = c.FindNodes(req, true, terminalOnlyAtLeaf)
	assert.Len(t, nodes, 2)
	assert.Empty(t, e.newConnections)
}

func TestIncrementalEntryRepairsOnGainedOutput(t *testing.T) {
	n, root, _, _ := chain(t)
	c := New(n)

	req := mask.MaskedOutputVector{{Output: network.OutputRef{NodeIndex: root.ID.Index(), OutputIndex: 0}, Mask: mask.All(4)}}
	nodes := c.FindNodes(req, true, terminalOnlyAtLeaf)
	require.Len(t, nodes, 1)

	// root gains a second output after the traversal already ran, and a
	// new leaf hangs directly off that new output — never off output 0,
	// so outputRefs alone can't discover this connection.
	root.Outputs = append(root.Outputs, network.OutputSpec{Name: "out2", Type: "any"})
	leaf2 := n.CreateNode(network.NewLeafNode(0, "leaf2"))
	conn, err := n.Connect(
		network.OutputRef{NodeIndex: root.ID.Index(), OutputIndex: 1},
		network.InputRef{NodeIndex: leaf2.ID.Index(), InputIndex: 0},
		mask.All(4),
	)
	require.NoError(t, err)
	c.DidConnect(conn)

	e := c.lookup(req)
	require.NotNil(t, e)
	assert.True(t, e.valid)
	require.Len(t, e.newConnections, 1, "a connection sourced from a newly gained output must be queued for repair")

	nodes = c.FindNodes(req, true, terminalOnlyAtLeaf)
	assert.Len(t, nodes, 2)
	assert.Empty(t, e.newConnections)
}

func TestInvalidateWipesEntries(t *testing.T) {
	n, root, _, _ := chain(t)
	c := New(n)
	req := mask.MaskedOutputVector{{Output: network.OutputRef{NodeIndex: root.ID.Index(), OutputIndex: 0}, Mask: mask.All(4)}}
	c.FindNodes(req, false, terminalOnlyAtLeaf)

	c.Invalidate()
	assert.Nil(t, c.lookup(req))
}
