// Package leafcache implements the leaf-node cache (C5): a thin layer
// atop the dependency cache (C4) and the leaf-node indexer (C3) adding
// a vectorized cache (per-request-output leaf-index bit sets) and a
// sparse cache (leaf nodes reached by a sub-request selected via an
// outputsMask).
package leafcache

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/flowmesh/dagcore/pkg/depcache"
	"github.com/flowmesh/dagcore/pkg/leafindex"
	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
)

// LeafPredicate is the canonical depcache.Predicate used throughout
// this cache: traversal continues until it reaches a leaf node, which
// is recorded as terminal.
func LeafPredicate(n *network.Node, outputDeps *mask.MaskedOutputVector, nodeDeps *[]network.NodeID) bool {
	if n.IsLeaf() {
		*nodeDeps = append(*nodeDeps, n.ID)
		return false
	}
	return true
}

type vectorizedEntry struct {
	mu       sync.Mutex
	leafMask []mask.Mask       // per request-output i, bit set of leaf indices reached
	combined map[uint64]mask.Mask // outputsMask.FastHash() -> combined leaf-index bit set
}

type sparseEntry struct {
	nodes   []network.NodeID
	outputs map[network.OutputRef]mask.Mask
}

// Cache is the vectorized+sparse layer. Its own structural-edit
// handling forwards to the indexer and dependency cache then applies a
// coarser wipe-on-edit policy to its own caches, since vectorized and
// sparse entries are too costly to repair incrementally (spec §4.3).
type Cache struct {
	net     *network.Network
	indexer *leafindex.Index
	dep     *depcache.Cache

	mu         sync.Mutex
	vectorized map[mask.Key]*vectorizedEntry
	sparse     map[mask.Key]*sparseEntry

	version int64
}

// New returns a leaf cache layered over indexer and dep, both bound to
// the same network.
func New(net *network.Network, indexer *leafindex.Index, dep *depcache.Cache) *Cache {
	return &Cache{
		net:        net,
		indexer:    indexer,
		dep:        dep,
		vectorized: make(map[mask.Key]*vectorizedEntry),
		sparse:     make(map[mask.Key]*sparseEntry),
	}
}

// Version returns the monotonic counter bumped by Clear,
// WillDeleteConnection and DidConnect. Two observers comparing equal
// versions may assume no leaf-dependency-affecting change has
// occurred.
func (c *Cache) Version() int64 { return atomic.LoadInt64(&c.version) }

// FindNodes checks the sparse cache for req, delegating to the
// dependency cache on a miss.
func (c *Cache) FindNodes(req mask.MaskedOutputVector, incremental bool) []network.NodeID {
	c.mu.Lock()
	key := req.MakeKey()
	if e, ok := c.sparse[key]; ok {
		c.mu.Unlock()
		return e.nodes
	}
	c.mu.Unlock()

	nodes := c.dep.FindNodes(req, incremental, LeafPredicate)

	c.mu.Lock()
	c.sparse[key] = &sparseEntry{nodes: nodes}
	c.mu.Unlock()
	return nodes
}

// FindOutputs delegates directly to the dependency cache; unlike
// FindNodes it neither consults nor fills the sparse cache.
func (c *Cache) FindOutputs(req mask.MaskedOutputVector, incremental bool) mask.MaskedOutputVector {
	return c.dep.FindOutputs(req, incremental, LeafPredicate)
}

// FindNodesForMask answers "which leaf nodes does the sub-request
// selected by outputsMask reach", building the vectorized entry for req
// first if necessary, then deriving the sparse sub-entry from it.
func (c *Cache) FindNodesForMask(req mask.MaskedOutputVector, outputsMask mask.Mask) ([]network.NodeID, error) {
	ve := c.vectorizedEntry(req)

	combined, err := c.combinedLeafSet(ve, req, outputsMask)
	if err != nil {
		return nil, err
	}

	subReq := selectSubRequest(req, outputsMask)
	subKey := subReq.MakeKey()

	c.mu.Lock()
	if e, ok := c.sparse[subKey]; ok {
		c.mu.Unlock()
		return e.nodes, nil
	}
	c.mu.Unlock()

	nodes := make([]network.NodeID, 0, combined.Count())
	combined.ForEachSet(func(leafIdx int) bool {
		if id, ok := c.indexer.GetNode(int32(leafIdx)); ok {
			nodes = append(nodes, id)
		}
		return true
	})

	c.mu.Lock()
	c.sparse[subKey] = &sparseEntry{nodes: nodes}
	c.mu.Unlock()
	return nodes, nil
}

func (c *Cache) vectorizedEntry(req mask.MaskedOutputVector) *vectorizedEntry {
	key := req.MakeKey()

	c.mu.Lock()
	if e, ok := c.vectorized[key]; ok {
		c.mu.Unlock()
		return e
	}
	c.mu.Unlock()

	e := &vectorizedEntry{combined: make(map[uint64]mask.Mask)}
	e.leafMask = make([]mask.Mask, len(req))
	for i, out := range req {
		single := mask.MaskedOutputVector{out}
		leafNodes := c.dep.FindNodes(single, false, LeafPredicate)
		capN := c.indexer.Capacity()
		if capN == 0 {
			capN = 1
		}
		m := mask.New(capN)
		for _, id := range leafNodes {
			if idx, ok := c.indexer.GetIndex(id); ok && int(idx) < capN {
				m.Set(int(idx))
			}
		}
		e.leafMask[i] = m
	}

	c.mu.Lock()
	c.vectorized[key] = e
	c.mu.Unlock()
	return e
}

// combinedLeafSet returns the union of e.leafMask[i] for every i set in
// outputsMask, computing it with four goroutines over a fixed stride
// split (worker w unions every fourth selected entry starting at w; no
// work is rebalanced between workers) into per-worker accumulators, and
// caching the result keyed by the mask's fast hash.
func (c *Cache) combinedLeafSet(e *vectorizedEntry, req mask.MaskedOutputVector, outputsMask mask.Mask) (mask.Mask, error) {
	h := outputsMask.FastHash()

	e.mu.Lock()
	if m, ok := e.combined[h]; ok {
		e.mu.Unlock()
		return m, nil
	}
	e.mu.Unlock()

	var selected []int
	outputsMask.ForEachSet(func(i int) bool {
		if i < len(e.leafMask) {
			selected = append(selected, i)
		}
		return true
	})

	const workers = 4
	partials := make([]mask.Mask, workers)
	capHint := c.indexer.Capacity()
	if capHint == 0 {
		capHint = 1
	}
	for i := range partials {
		partials[i] = mask.New(capHint)
	}

	g := new(errgroup.Group)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			acc := partials[w]
			for i := w; i < len(selected); i += workers {
				acc = mask.Union(acc, e.leafMask[selected[i]])
			}
			partials[w] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return mask.Mask{}, err
	}

	combined := mask.New(capHint)
	for _, p := range partials {
		combined = mask.Union(combined, p)
	}

	e.mu.Lock()
	e.combined[h] = combined
	e.mu.Unlock()
	return combined, nil
}

func selectSubRequest(req mask.MaskedOutputVector, outputsMask mask.Mask) mask.MaskedOutputVector {
	var sub mask.MaskedOutputVector
	outputsMask.ForEachSet(func(i int) bool {
		if i < len(req) {
			sub = append(sub, req[i])
		}
		return true
	})
	return sub
}

// Clear wipes the indexer, dependency cache, and this cache's own
// vectorized/sparse caches, then bumps the version.
func (c *Cache) Clear() {
	c.indexer.Invalidate()
	c.dep.Invalidate()
	c.mu.Lock()
	c.vectorized = make(map[mask.Key]*vectorizedEntry)
	c.sparse = make(map[mask.Key]*sparseEntry)
	c.mu.Unlock()
	atomic.AddInt64(&c.version, 1)
}

// WillDeleteConnection bumps the version, forwards to the indexer and
// dependency cache, and wipes the vectorized/sparse caches if non-empty
// (they are too costly to incrementally repair).
func (c *Cache) WillDeleteConnection(conn network.Connection) {
	c.indexer.WillDeleteConnection(c.net, conn)
	c.dep.WillDeleteConnection(conn)
	c.wipeCoarseCaches()
	atomic.AddInt64(&c.version, 1)
}

// DidConnect bumps the version, forwards to the indexer and dependency
// cache, and wipes the vectorized/sparse caches if non-empty.
func (c *Cache) DidConnect(conn network.Connection) {
	c.indexer.DidConnect(c.net, conn)
	c.dep.DidConnect(conn)
	c.wipeCoarseCaches()
	atomic.AddInt64(&c.version, 1)
}

func (c *Cache) wipeCoarseCaches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.vectorized) > 0 {
		c.vectorized = make(map[mask.Key]*vectorizedEntry)
	}
	if len(c.sparse) > 0 {
		c.sparse = make(map[mask.Key]*sparseEntry)
	}
}
