package leafcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/dagcore/pkg/depcache"
	"github.com/flowmesh/dagcore/pkg/leafindex"
	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
)

type wired struct {
	net *network.Network
	ix  *leafindex.Index
	dep *depcache.Cache
	lc  *Cache
}

func setup() *wired {
	net := network.New()
	ix := leafindex.New()
	dep := depcache.New(net)
	lc := New(net, ix, dep)
	net.AddMonitor(editForwarder{lc})
	return &wired{net: net, ix: ix, dep: dep, lc: lc}
}

type editForwarder struct{ lc *Cache }

func (f editForwarder) WillDeleteNode(*network.Node)       {}
func (f editForwarder) DidAddNode(*network.Node)           {}
func (f editForwarder) WillClear()                         {}
func (f editForwarder) DidConnect(c network.Connection)    { f.lc.DidConnect(c) }
func (f editForwarder) WillDeleteConnection(c network.Connection) { f.lc.WillDeleteConnection(c) }

func twoRootsTwoLeaves(t *testing.T, w *wired) (root1, root2 *network.Node, leaf1, leaf2 *network.Node) {
	t.Helper()
	root1 = w.net.CreateNode(&network.Node{Name: "root1", Outputs: []network.OutputSpec{{Name: "out"}}})
	root2 = w.net.CreateNode(&network.Node{Name: "root2", Outputs: []network.OutputSpec{{Name: "out"}}})
	leaf1 = w.net.CreateNode(network.NewLeafNode(0, "leaf1"))
	leaf2 = w.net.CreateNode(network.NewLeafNode(0, "leaf2"))

	_, err := w.net.Connect(
		network.OutputRef{NodeIndex: root1.ID.Index()},
		network.InputRef{NodeIndex: leaf1.ID.Index()},
		mask.All(4))
	require.NoError(t, err)
	_, err = w.net.Connect(
		network.OutputRef{NodeIndex: root2.ID.Index()},
		network.InputRef{NodeIndex: leaf2.ID.Index()},
		mask.All(4))
	require.NoError(t, err)
	return
}

func TestFindNodesForMaskUnionsSelectedOutputs(t *testing.T) {
	w := setup()
	root1, root2, leaf1, leaf2 := twoRootsTwoLeaves(t, w)

	req := mask.MaskedOutputVector{
		{Output: network.OutputRef{NodeIndex: root1.ID.Index()}, Mask: mask.All(4)},
		{Output: network.OutputRef{NodeIndex: root2.ID.Index()}, Mask: mask.All(4)},
	}

	both := mask.New(2)
	both.Set(0)
	both.Set(1)
	nodes, err := w.lc.FindNodesForMask(req, both)
	require.NoError(t, err)
	assert.ElementsMatch(t, []network.NodeID{leaf1.ID, leaf2.ID}, nodes)

	onlyFirst := mask.New(2)
	onlyFirst.Set(0)
	nodes, err = w.lc.FindNodesForMask(req, onlyFirst)
	require.NoError(t, err)
	assert.Equal(t, []network.NodeID{leaf1.ID}, nodes)
}

func TestVersionBumpsOnStructuralEdit(t *testing.T) {
	w := setup()
	root1, _, leaf1, _ := twoRootsTwoLeaves(t, w)
	v0 := w.lc.Version()

	conn, ok := w.net.FindConnection(
		network.OutputRef{NodeIndex: root1.ID.Index()},
		network.InputRef{NodeIndex: leaf1.ID.Index()})
	require.True(t, ok)
	require.NoError(t, w.net.Disconnect(conn))

	assert.Greater(t, w.lc.Version(), v0)
}

func TestClearWipesEverything(t *testing.T) {
	w := setup()
	root1, root2, _, _ := twoRootsTwoLeaves(t, w)
	req := mask.MaskedOutputVector{
		{Output: network.OutputRef{NodeIndex: root1.ID.Index()}, Mask: mask.All(4)},
		{Output: network.OutputRef{NodeIndex: root2.ID.Index()}, Mask: mask.All(4)},
	}
	w.lc.FindNodes(req, false)
	v0 := w.lc.Version()

	w.lc.Clear()
	assert.Greater(t, w.lc.Version(), v0)
	assert.Equal(t, 0, w.ix.Capacity())
}
