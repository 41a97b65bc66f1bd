package network

import (
	"testing"

	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMonitor struct {
	NopMonitor
	connected []Connection
	deleted   []Connection
}

func (r *recordingMonitor) DidConnect(c Connection)           { r.connected = append(r.connected, c) }
func (r *recordingMonitor) WillDeleteConnection(c Connection) { r.deleted = append(r.deleted, c) }

func newProducer(name string) *Node {
	return &Node{Name: name, Outputs: []OutputSpec{{Name: "out", Type: "any"}}}
}

func newConsumer(name string) *Node {
	return &Node{Name: name, Inputs: []InputSpec{{Name: "in", Type: "any", Mode: ReadOnly}}}
}

func TestNetworkConnectAndFind(t *testing.T) {
	n := New()
	mon := &recordingMonitor{}
	n.AddMonitor(mon)

	a := n.CreateNode(newProducer("a"))
	b := n.CreateNode(newConsumer("b"))

	src := OutputRef{NodeIndex: a.ID.Index(), OutputIndex: 0}
	tgt := InputRef{NodeIndex: b.ID.Index(), InputIndex: 0}

	c, err := n.Connect(src, tgt, mask.All(4))
	require.NoError(t, err)
	require.Len(t, mon.connected, 1)

	got, ok := n.FindConnection(src, tgt)
	require.True(t, ok)
	assert.Equal(t, c.ID, got.ID)
}

func TestNetworkReadWriteInputRejectsSecondConnection(t *testing.T) {
	n := New()
	a := n.CreateNode(newProducer("a"))
	b := n.CreateNode(newProducer("b"))
	c := n.CreateNode(&Node{
		Name:    "c",
		Inputs:  []InputSpec{{Name: "buf", Type: "any", Mode: ReadWrite, AssociatedOutput: "buf"}},
		Outputs: []OutputSpec{{Name: "buf", Type: "any", AssociatedInput: "buf"}},
	})

	tgt := InputRef{NodeIndex: c.ID.Index(), InputIndex: 0}
	srcA := OutputRef{NodeIndex: a.ID.Index(), OutputIndex: 0}
	srcB := OutputRef{NodeIndex: b.ID.Index(), OutputIndex: 0}

	_, err := n.Connect(srcA, tgt, mask.All(1))
	require.NoError(t, err)

	_, err = n.Connect(srcB, tgt, mask.All(1))
	assert.Error(t, err)
}

func TestNetworkDeleteNodeCascadesConnections(t *testing.T) {
	n := New()
	mon := &recordingMonitor{}
	n.AddMonitor(mon)

	a := n.CreateNode(newProducer("a"))
	b := n.CreateNode(newConsumer("b"))
	src := OutputRef{NodeIndex: a.ID.Index(), OutputIndex: 0}
	tgt := InputRef{NodeIndex: b.ID.Index(), InputIndex: 0}
	_, err := n.Connect(src, tgt, mask.All(1))
	require.NoError(t, err)

	require.NoError(t, n.DeleteNode(a.ID))
	assert.Len(t, mon.deleted, 1)

	_, ok := n.FindConnection(src, tgt)
	assert.False(t, ok)

	_, ok = n.NodeByID(a.ID)
	assert.False(t, ok)
}

func TestNetworkIndexReuseBumpsEpoch(t *testing.T) {
	n := New()
	a := n.CreateNode(newProducer("a"))
	idx := a.ID.Index()
	require.NoError(t, n.DeleteNode(a.ID))

	b := n.CreateNode(newProducer("b"))
	assert.Equal(t, idx, b.ID.Index())
	assert.NotEqual(t, a.ID, b.ID)

	_, ok := n.NodeByID(a.ID)
	assert.False(t, ok)
}

func TestDescriptorResolveSurvivesReindexing(t *testing.T) {
	n := New()
	a := n.CreateNode(newProducer("a"))
	b := n.CreateNode(newConsumer("b"))
	src := OutputRef{NodeIndex: a.ID.Index(), OutputIndex: 0}
	tgt := InputRef{NodeIndex: b.ID.Index(), InputIndex: 0}
	c, err := n.Connect(src, tgt, mask.All(1))
	require.NoError(t, err)

	desc, ok := c.Describe(n)
	require.True(t, ok)
	assert.Equal(t, "a", func() string { node, _ := n.NodeByID(desc.SrcNodeID); return node.Name }())

	resolved, ok := desc.Resolve(n)
	require.True(t, ok)
	assert.Equal(t, c.ID, resolved.ID)
}

func TestPoolChainOrdersReadWriteChain(t *testing.T) {
	n := New()
	producer := n.CreateNode(newProducer("producer"))
	mid := n.CreateNode(&Node{
		Name:    "mid",
		Inputs:  []InputSpec{{Name: "buf", Type: "any", Mode: ReadWrite, AssociatedOutput: "buf"}},
		Outputs: []OutputSpec{{Name: "buf", Type: "any", AssociatedInput: "buf"}},
	})
	sink := n.CreateNode(&Node{
		Name:    "sink",
		Inputs:  []InputSpec{{Name: "buf", Type: "any", Mode: ReadWrite, AssociatedOutput: "buf"}},
		Outputs: []OutputSpec{{Name: "buf", Type: "any", AssociatedInput: "buf"}},
	})

	producerOut := OutputRef{NodeIndex: producer.ID.Index(), OutputIndex: 0}
	midIn := InputRef{NodeIndex: mid.ID.Index(), InputIndex: 0}
	midOut := OutputRef{NodeIndex: mid.ID.Index(), OutputIndex: 0}
	sinkIn := InputRef{NodeIndex: sink.ID.Index(), InputIndex: 0}
	sinkOut := OutputRef{NodeIndex: sink.ID.Index(), OutputIndex: 0}

	_, err := n.Connect(producerOut, midIn, mask.All(1))
	require.NoError(t, err)
	_, err = n.Connect(midOut, sinkIn, mask.All(1))
	require.NoError(t, err)

	midIdx, ok := n.PoolChainIndex(midOut)
	require.True(t, ok)
	sinkIdx, ok := n.PoolChainIndex(sinkOut)
	require.True(t, ok)
	assert.Less(t, midIdx, sinkIdx)
}
