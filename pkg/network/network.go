package network

import (
	"fmt"
	"sync"

	"github.com/flowmesh/dagcore/pkg/mask"
)

// EditMonitor receives structural-edit notifications so downstream
// caches (the leaf-node indexer, dependency cache, leaf-node cache) can
// stay current without polling the network. Any combination of methods
// may be left as no-ops by embedding NopMonitor.
type EditMonitor interface {
	WillDeleteNode(n *Node)
	WillDeleteConnection(c Connection)
	DidAddNode(n *Node)
	DidConnect(c Connection)
	WillClear()
}

// NopMonitor implements EditMonitor with no-op methods; embed it to
// only override the callbacks a particular monitor cares about.
type NopMonitor struct{}

func (NopMonitor) WillDeleteNode(*Node)            {}
func (NopMonitor) WillDeleteConnection(Connection) {}
func (NopMonitor) DidAddNode(*Node)                {}
func (NopMonitor) DidConnect(Connection)           {}
func (NopMonitor) WillClear()                      {}

// Network is a mutable DAG of Nodes connected by masked Connections.
// Structural edits are expected to be externally serialized against
// evaluation (spec §5: "the network is effectively immutable during
// evaluation"); Network itself only guards its own bookkeeping with a
// mutex so concurrent edit-monitor fan-out and lookups stay consistent.
type Network struct {
	mu sync.RWMutex

	byIndex []*Node // nil slots are free (deleted or never allocated)
	epoch   []uint32
	byID    map[NodeID]*Node
	free    []uint32

	incoming map[InputRef][]Connection
	outgoing map[OutputRef][]Connection
	nextConn uint64

	monitors []EditMonitor

	poolIndex map[OutputRef]int
	poolDirty bool
}

// New returns an empty network.
func New() *Network {
	return &Network{
		byID:      make(map[NodeID]*Node),
		incoming:  make(map[InputRef][]Connection),
		outgoing:  make(map[OutputRef][]Connection),
		poolIndex: make(map[OutputRef]int),
	}
}

// AddMonitor registers an edit monitor. Not safe to call concurrently
// with structural edits.
func (n *Network) AddMonitor(m EditMonitor) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.monitors = append(n.monitors, m)
}

func (n *Network) notifyDidAddNode(node *Node) {
	for _, m := range n.monitors {
		m.DidAddNode(node)
	}
}
func (n *Network) notifyWillDeleteNode(node *Node) {
	for _, m := range n.monitors {
		m.WillDeleteNode(node)
	}
}
func (n *Network) notifyWillDeleteConnection(c Connection) {
	for _, m := range n.monitors {
		m.WillDeleteConnection(c)
	}
}
func (n *Network) notifyDidConnect(c Connection) {
	for _, m := range n.monitors {
		m.DidConnect(c)
	}
}
func (n *Network) notifyWillClear() {
	for _, m := range n.monitors {
		m.WillClear()
	}
}

// CreateNode allocates a node index (reusing a deleted one if
// available, bumping its epoch) and inserts node into the network.
// node.ID is overwritten with the allocated id.
func (n *Network) CreateNode(node *Node) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()

	var idx uint32
	if k := len(n.free); k > 0 {
		idx = n.free[k-1]
		n.free = n.free[:k-1]
	} else {
		idx = uint32(len(n.byIndex))
		n.byIndex = append(n.byIndex, nil)
		n.epoch = append(n.epoch, 0)
	}

	ep := n.epoch[idx]
	node.ID = MakeNodeID(ep, idx)
	n.byIndex[idx] = node
	n.byID[node.ID] = node

	n.notifyDidAddNode(node)
	return node
}

// DeleteNode removes a node and every connection touching it. The
// node's index is pushed onto the free list with its epoch bumped so a
// future reused index never collides with a stale NodeID held by a
// caller.
func (n *Network) DeleteNode(id NodeID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.byID[id]
	if !ok {
		return fmt.Errorf("network: node %d not found", id)
	}

	n.notifyWillDeleteNode(node)

	idx := id.Index()
	for oi := range node.Outputs {
		ref := OutputRef{NodeIndex: idx, OutputIndex: uint16(oi)}
		for _, c := range n.outgoing[ref] {
			n.notifyWillDeleteConnection(c)
			n.removeConnectionLocked(c)
		}
	}
	for ii := range node.Inputs {
		ref := InputRef{NodeIndex: idx, InputIndex: uint16(ii)}
		for _, c := range n.incoming[ref] {
			n.notifyWillDeleteConnection(c)
			n.removeConnectionLocked(c)
		}
	}

	delete(n.byID, id)
	n.byIndex[idx] = nil
	n.epoch[idx]++
	n.free = append(n.free, idx)
	n.poolDirty = true
	return nil
}

// Connect creates a connection from src to tgt carrying m. A read/write
// input may have at most one incoming connection at a time (spec
// invariant); connecting a second one is rejected.
func (n *Network) Connect(src OutputRef, tgt InputRef, m mask.Mask) (Connection, error) {
	n.mu.Lock()
	locked := true
	defer func() {
		if locked {
			n.mu.Unlock()
		}
	}()

	if int(src.NodeIndex) >= len(n.byIndex) || n.byIndex[src.NodeIndex] == nil {
		return Connection{}, fmt.Errorf("network: source node %d not found", src.NodeIndex)
	}
	srcNode := n.byIndex[src.NodeIndex]
	if int(src.OutputIndex) >= len(srcNode.Outputs) {
		return Connection{}, fmt.Errorf("network: source output out of range")
	}
	if int(tgt.NodeIndex) >= len(n.byIndex) || n.byIndex[tgt.NodeIndex] == nil {
		return Connection{}, fmt.Errorf("network: target node %d not found", tgt.NodeIndex)
	}
	tgtNode := n.byIndex[tgt.NodeIndex]
	if int(tgt.InputIndex) >= len(tgtNode.Inputs) {
		return Connection{}, fmt.Errorf("network: target input out of range")
	}
	if tgtNode.Inputs[tgt.InputIndex].Mode == ReadWrite && len(n.incoming[tgt]) > 0 {
		return Connection{}, fmt.Errorf("network: read/write input already connected")
	}

	n.nextConn++
	c := Connection{ID: n.nextConn, Source: src, Target: tgt, Mask: m}

	n.incoming[tgt] = append(n.incoming[tgt], c)
	n.outgoing[src] = append(n.outgoing[src], c)

	if tgtNode.Inputs[tgt.InputIndex].Mode == ReadWrite {
		n.poolDirty = true
	}

	// Monitors are called without the lock held: they read the network
	// back (NodeByIndex, Describe), which would block on a held write lock.
	n.mu.Unlock()
	locked = false
	n.notifyDidConnect(c)
	return c, nil
}

// Disconnect removes a connection. Callers that need to observe the
// removal before it happens (e.g. the dependency cache's
// willDeleteConnection hook) should have already registered as an
// EditMonitor; this method fires WillDeleteConnection for consistency
// even when called directly.
func (n *Network) Disconnect(c Connection) error {
	n.mu.RLock()
	found := n.hasConnectionLocked(c)
	n.mu.RUnlock()
	if !found {
		return fmt.Errorf("network: connection %d not found", c.ID)
	}
	// Monitors are called without the lock held, as in Connect.
	n.notifyWillDeleteConnection(c)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.removeConnectionLocked(c)
	return nil
}

func (n *Network) hasConnectionLocked(c Connection) bool {
	for _, e := range n.incoming[c.Target] {
		if e.ID == c.ID {
			return true
		}
	}
	return false
}

func (n *Network) removeConnectionLocked(c Connection) {
	n.incoming[c.Target] = removeByID(n.incoming[c.Target], c.ID)
	n.outgoing[c.Source] = removeByID(n.outgoing[c.Source], c.ID)
	n.poolDirty = true
}

func removeByID(list []Connection, id uint64) []Connection {
	for i, c := range list {
		if c.ID == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Clear removes every node and connection.
func (n *Network) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifyWillClear()
	n.byIndex = nil
	n.epoch = nil
	n.byID = make(map[NodeID]*Node)
	n.free = nil
	n.incoming = make(map[InputRef][]Connection)
	n.outgoing = make(map[OutputRef][]Connection)
	n.poolIndex = make(map[OutputRef]int)
	n.poolDirty = false
}

// NodeByID looks a node up by stable id.
func (n *Network) NodeByID(id NodeID) (*Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.byID[id]
	return node, ok
}

// NodeByIndex looks a node up by its dense index, ignoring epoch. Used
// by OutputRef/InputRef resolution where only the index is carried.
func (n *Network) NodeByIndex(idx uint32) (*Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if int(idx) >= len(n.byIndex) || n.byIndex[idx] == nil {
		return nil, false
	}
	return n.byIndex[idx], true
}

// Capacity returns the high-water mark of node indices ever allocated.
func (n *Network) Capacity() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.byIndex)
}

// Nodes returns a snapshot slice of every live node. Order is by
// ascending index.
func (n *Network) Nodes() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, 0, len(n.byIndex))
	for _, node := range n.byIndex {
		if node != nil {
			out = append(out, node)
		}
	}
	return out
}

// IncomingConnections returns the insertion-ordered list of connections
// feeding the given input.
func (n *Network) IncomingConnections(in InputRef) []Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	src := n.incoming[in]
	out := make([]Connection, len(src))
	copy(out, src)
	return out
}

// OutgoingConnections returns the connections fed by the given output.
func (n *Network) OutgoingConnections(out OutputRef) []Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	src := n.outgoing[out]
	res := make([]Connection, len(src))
	copy(res, src)
	return res
}

// FindConnection returns the connection between src and tgt, if any.
func (n *Network) FindConnection(src OutputRef, tgt InputRef) (Connection, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.incoming[tgt] {
		if c.Source == src {
			return c, true
		}
	}
	return Connection{}, false
}

// PoolChainIndex returns out's position in the pool-chain ordering,
// recomputing it first if the network has changed since the last call.
// The ordering guarantees poolIndex(u) < poolIndex(v) for every
// read/write edge u -> v: a node that reads one buffer and writes it
// back downstream is always scheduled after the node that last held it.
func (n *Network) PoolChainIndex(out OutputRef) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.poolDirty {
		n.recomputePoolChainLocked()
	}
	idx, ok := n.poolIndex[out]
	return idx, ok
}

// recomputePoolChainLocked rebuilds the pool-chain order from scratch by
// topologically sorting the subgraph of read/write edges. Full rebuild
// on every structural edit touching a read/write input is O(edges); the
// pool-chain graph is expected to be a small fraction of the network so
// this trades simplicity for the incremental-update complexity an
// edge-weighted topo-order would otherwise need.
func (n *Network) recomputePoolChainLocked() {
	n.poolIndex = make(map[OutputRef]int)

	type edge struct{ from, to OutputRef }
	var edges []edge
	nodesInChain := map[OutputRef]bool{}

	for _, node := range n.byIndex {
		if node == nil {
			continue
		}
		for ii, in := range node.Inputs {
			if in.Mode != ReadWrite {
				continue
			}
			tgt := InputRef{NodeIndex: node.ID.Index(), InputIndex: uint16(ii)}
			oi := node.OutputIndex(in.AssociatedOutput)
			if oi < 0 {
				continue
			}
			selfOut := OutputRef{NodeIndex: node.ID.Index(), OutputIndex: uint16(oi)}
			nodesInChain[selfOut] = true
			for _, c := range n.incoming[tgt] {
				edges = append(edges, edge{from: c.Source, to: selfOut})
				nodesInChain[c.Source] = true
			}
		}
	}

	indeg := map[OutputRef]int{}
	adj := map[OutputRef][]OutputRef{}
	for out := range nodesInChain {
		indeg[out] = 0
	}
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e.to)
		indeg[e.to]++
	}

	var queue []OutputRef
	for out, d := range indeg {
		if d == 0 {
			queue = append(queue, out)
		}
	}

	order := 0
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		n.poolIndex[next] = order
		order++
		for _, to := range adj[next] {
			indeg[to]--
			if indeg[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	n.poolDirty = false
}
