// Package leafindex implements the leaf-node indexer (C3): a dense,
// concurrently-maintained index space over leaf nodes so downstream
// caches can work with bit sets over leaves instead of over every node
// in the network — typically a 10-100x compression of the relevant
// index space.
//
// The indexer is not itself a network.EditMonitor: pkg/leafcache
// forwards the DidConnect/WillDeleteConnection notifications it
// receives, passing the network alongside each connection. Only
// connections whose target is a leaf node matter; everything else is
// ignored.
package leafindex

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
)

// InvalidIndex marks a leaf index slot as reserved but unassigned, or
// an indices-map entry as "not currently a connected leaf".
const InvalidIndex int32 = -1

// entry is one published leaf-index row. Once published it is never
// mutated in place except by a future reuse of the same slot after a
// disconnect, matching the spec's "read-only post-publish" contract.
type entry struct {
	leafNode network.NodeID
	srcOut   network.OutputRef
	srcMask  mask.Mask
}

// Index maintains the dense leaf-index space. Safe for concurrent use:
// DidConnect and WillDeleteConnection may run concurrently with each
// other and with readers, provided no single (source-output,
// target-input) pair is concurrently connected and deleted.
type Index struct {
	indices *xsync.MapOf[network.NodeID, int32] // leaf node id -> leaf index

	mu    sync.RWMutex // guards nodes append/overwrite and freeList
	nodes []entry
	free  []int32

	capacity int64 // high-water mark, atomic
}

// New returns an empty leaf index.
func New() *Index {
	return &Index{indices: xsync.NewMapOf[network.NodeID, int32]()}
}

// DidConnect implements the network.EditMonitor hook this index cares
// about: if c's target is a leaf node, it allocates or reuses a leaf
// index and publishes {leafNode, srcOutput, srcMask} atomically.
func (ix *Index) DidConnect(n *network.Network, c network.Connection) {
	tgtNode, ok := n.NodeByIndex(c.Target.NodeIndex)
	if !ok || !tgtNode.IsLeaf() {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	var idx int32
	if k := len(ix.free); k > 0 {
		idx = ix.free[k-1]
		ix.free = ix.free[:k-1]
		ix.nodes[idx] = entry{leafNode: tgtNode.ID, srcOut: c.Source, srcMask: c.Mask}
	} else {
		idx = int32(len(ix.nodes))
		ix.nodes = append(ix.nodes, entry{leafNode: tgtNode.ID, srcOut: c.Source, srcMask: c.Mask})
	}

	ix.indices.Store(tgtNode.ID, idx)
	ix.bumpCapacity(int64(len(ix.nodes)))
}

// WillDeleteConnection marks the leaf's entry InvalidIndex and pushes
// the index onto the free list, if the target was a leaf. The backing
// nodes slot is left in place — untouched until a future reuse
// overwrites it — so any reader mid-traversal with a copy of the index
// never observes a torn entry.
func (ix *Index) WillDeleteConnection(n *network.Network, c network.Connection) {
	tgtNode, ok := n.NodeByIndex(c.Target.NodeIndex)
	if !ok || !tgtNode.IsLeaf() {
		return
	}

	idx, ok := ix.indices.Load(tgtNode.ID)
	if !ok || idx == InvalidIndex {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.indices.Store(tgtNode.ID, InvalidIndex)
	ix.free = append(ix.free, idx)
}

// Invalidate wipes all state. Not safe to call concurrently with
// DidConnect/WillDeleteConnection/readers.
func (ix *Index) Invalidate() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.indices = xsync.NewMapOf[network.NodeID, int32]()
	ix.nodes = nil
	ix.free = nil
	atomic.StoreInt64(&ix.capacity, 0)
}

// GetIndex returns the current leaf index for a node, or (InvalidIndex,
// false) if it is not a currently-connected leaf.
func (ix *Index) GetIndex(node network.NodeID) (int32, bool) {
	idx, ok := ix.indices.Load(node)
	if !ok || idx == InvalidIndex {
		return InvalidIndex, false
	}
	return idx, true
}

// GetNode returns the leaf node id stored at leaf index i.
func (ix *Index) GetNode(i int32) (network.NodeID, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if i < 0 || int(i) >= len(ix.nodes) {
		return 0, false
	}
	return ix.nodes[i].leafNode, true
}

// GetSourceOutput returns the source output feeding leaf index i.
func (ix *Index) GetSourceOutput(i int32) (network.OutputRef, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if i < 0 || int(i) >= len(ix.nodes) {
		return network.OutputRef{}, false
	}
	return ix.nodes[i].srcOut, true
}

// GetSourceMask returns the mask recorded for leaf index i at the time
// it was last (re)connected.
func (ix *Index) GetSourceMask(i int32) (mask.Mask, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if i < 0 || int(i) >= len(ix.nodes) {
		return mask.Mask{}, false
	}
	return ix.nodes[i].srcMask, true
}

// Capacity returns the high-water mark of leaf indices ever allocated.
// Readers may use this to size temporary bit sets without locking.
func (ix *Index) Capacity() int {
	return int(atomic.LoadInt64(&ix.capacity))
}

func (ix *Index) bumpCapacity(n int64) {
	for {
		cur := atomic.LoadInt64(&ix.capacity)
		if n <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&ix.capacity, cur, n) {
			return
		}
	}
}
