// Package depcache implements the dependency cache (C4): given a
// request (a mask.MaskedOutputVector), produces the set of reachable
// leaf outputs/nodes via a user-supplied predicate-driven forward
// traversal, with optional incremental repair on network edits instead
// of a full re-traversal.
package depcache

import (
	"sync"

	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
)

// Predicate decides, for a visited node, whether traversal continues
// past it. Returning false stops traversal down that branch — the
// visited node/output is recorded as a terminal dependency. Returning
// true continues traversal to the node's dependent outputs.
type Predicate func(n *network.Node, outputDeps *mask.MaskedOutputVector, nodeDeps *[]network.NodeID) bool

// entry is one cached (request -> result) row.
type entry struct {
	request mask.MaskedOutputVector

	outputDeps mask.MaskedOutputVector
	nodeDeps   []network.NodeID

	// outputRefs/nodeRefs record every output/node touched during the
	// traversal that produced this entry, for edit-policy matching —
	// distinct from outputDeps/nodeDeps, which record only the
	// terminal dependencies returned to the caller.
	outputRefs map[network.OutputRef]mask.Mask
	nodeRefs   map[network.NodeID]int // node id -> numOutputs observed

	incremental    bool
	newConnections []network.Descriptor
	valid          bool
}

// Cache is the dependency cache. Not safe for concurrent mutating
// queries against the same entry (per spec §4.2); willDeleteConnection
// and didConnect are safe against each other under the "no same
// endpoint pair concurrently added and removed" rule, matching the
// leaf-node indexer's contract.
type Cache struct {
	mu      sync.Mutex
	net     *network.Network
	entries map[mask.Key][]*entry // hash bucket, linear-scan on Equal within bucket
}

// New returns an empty dependency cache bound to net.
func New(net *network.Network) *Cache {
	return &Cache{net: net, entries: make(map[mask.Key][]*entry)}
}

func (c *Cache) lookup(req mask.MaskedOutputVector) *entry {
	for _, e := range c.entries[req.MakeKey()] {
		if e.request.Equal(req) {
			return e
		}
	}
	return nil
}

func (c *Cache) store(e *entry) {
	k := e.request.MakeKey()
	c.entries[k] = append(c.entries[k], e)
}

// FindOutputs returns the outputDeps for req, building (or repairing)
// the entry as needed. pred drives the traversal on a miss or full
// rebuild.
func (c *Cache) FindOutputs(req mask.MaskedOutputVector, incremental bool, pred Predicate) mask.MaskedOutputVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.resolve(req, incremental, pred)
	return e.outputDeps
}

// FindNodes returns the nodeDeps for req, building (or repairing) the
// entry as needed.
func (c *Cache) FindNodes(req mask.MaskedOutputVector, incremental bool, pred Predicate) []network.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.resolve(req, incremental, pred)
	return e.nodeDeps
}

func (c *Cache) resolve(req mask.MaskedOutputVector, incremental bool, pred Predicate) *entry {
	e := c.lookup(req)
	if e == nil || !e.valid {
		e = c.traverse(req, incremental, pred)
		c.store(e)
		return e
	}
	if e.incremental && len(e.newConnections) > 0 {
		c.repair(e, pred)
	}
	return e
}

// traverse runs a full forward traversal of req against pred, starting
// from req's own outputs.
func (c *Cache) traverse(req mask.MaskedOutputVector, incremental bool, pred Predicate) *entry {
	e := &entry{
		request:     req,
		outputRefs:  make(map[network.OutputRef]mask.Mask),
		nodeRefs:    make(map[network.NodeID]int),
		incremental: incremental,
		valid:       true,
	}

	visited := make(map[network.OutputRef]bool)
	var walk func(out mask.MaskedOutput)
	walk = func(out mask.MaskedOutput) {
		if visited[out.Output] {
			return
		}
		visited[out.Output] = true
		e.recordOutput(out)
		if srcNode, ok := c.net.NodeByIndex(out.Output.NodeIndex); ok {
			e.recordNode(srcNode)
		}

		for _, conn := range c.net.OutgoingConnections(out.Output) {
			if !mask.Intersects(conn.Mask, out.Mask) {
				continue
			}
			tgtNode, ok := c.net.NodeByIndex(conn.Target.NodeIndex)
			if !ok {
				continue
			}
			e.recordNode(tgtNode)

			carried := mask.Intersect(conn.Mask, out.Mask)
			if !pred(tgtNode, &e.outputDeps, &e.nodeDeps) {
				continue
			}
			for oi := range tgtNode.Outputs {
				nextOut := network.OutputRef{NodeIndex: tgtNode.ID.Index(), OutputIndex: uint16(oi)}
				walk(mask.MaskedOutput{Output: nextOut, Mask: carried})
			}
		}
	}

	for _, out := range req {
		walk(out)
	}
	return e
}

func (e *entry) recordOutput(out mask.MaskedOutput) {
	if existing, ok := e.outputRefs[out.Output]; ok {
		e.outputRefs[out.Output] = mask.Union(existing, out.Mask)
		return
	}
	e.outputRefs[out.Output] = out.Mask
}

func (e *entry) recordNode(n *network.Node) {
	e.nodeRefs[n.ID] = len(n.Outputs)
}

// WillDeleteConnection applies the edit-handling policy from spec
// §4.2's table for a connection about to be removed.
func (c *Cache) WillDeleteConnection(conn network.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, bucket := range c.entries {
		for _, e := range bucket {
			if !e.valid {
				continue
			}
			recorded, ok := e.outputRefs[conn.Source]
			if !ok {
				continue
			}
			if e.incremental {
				if mask.Intersects(recorded, conn.Mask) {
					e.valid = false
				}
				continue
			}
			e.valid = false
		}
	}
}

// DidConnect applies the edit-handling policy from spec §4.2's table
// for a newly added connection.
func (c *Cache) DidConnect(conn network.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tgtNode, ok := c.net.NodeByIndex(conn.Target.NodeIndex)
	if !ok {
		return
	}
	desc, _ := conn.Describe(c.net)

	for _, bucket := range c.entries {
		for _, e := range bucket {
			if !e.valid {
				continue
			}
			if e.incremental {
				_, touched := e.outputRefs[conn.Source]
				gainedOutput := false
				if srcNode, ok := c.net.NodeByIndex(conn.Source.NodeIndex); ok {
					if seenNumOutputs, known := e.nodeRefs[srcNode.ID]; known && int(conn.Source.OutputIndex) >= seenNumOutputs {
						gainedOutput = true
					}
				}
				if touched || gainedOutput {
					e.newConnections = append(e.newConnections, desc)
				}
				continue
			}
			if _, touched := e.outputRefs[conn.Source]; touched {
				e.valid = false
				continue
			}
			if seenNumOutputs, ok := e.nodeRefs[tgtNode.ID]; ok && len(tgtNode.Outputs) > seenNumOutputs {
				e.valid = false
			}
		}
	}
}

// repair applies the partial-traversal algorithm (spec §4.2) for an
// incremental entry with pending newConnections. A connection sourced
// from an output that didn't exist at the original traversal (the
// node gained outputs since then, step 3 of the algorithm) has no
// recorded mask to carry forward; it is traversed with an empty mask,
// signifying the carried mask couldn't be inferred.
func (c *Cache) repair(e *entry, pred Predicate) {
	pending := e.newConnections
	e.newConnections = nil

	for _, desc := range pending {
		conn, ok := desc.Resolve(c.net)
		if !ok {
			continue
		}
		carried, known := e.outputRefs[conn.Source]
		if !known {
			srcNode, ok := c.net.NodeByIndex(conn.Source.NodeIndex)
			if !ok {
				continue
			}
			if _, seen := e.nodeRefs[srcNode.ID]; !seen {
				continue
			}
			carried = mask.Mask{}
			e.recordOutput(mask.MaskedOutput{Output: conn.Source, Mask: carried})
		}
		tgtNode, ok := c.net.NodeByIndex(conn.Target.NodeIndex)
		if !ok {
			continue
		}
		e.recordNode(tgtNode)
		merged := mask.Intersect(conn.Mask, carried)
		if !pred(tgtNode, &e.outputDeps, &e.nodeDeps) {
			continue
		}
		for oi := range tgtNode.Outputs {
			next := network.OutputRef{NodeIndex: tgtNode.ID.Index(), OutputIndex: uint16(oi)}
			e.recordOutput(mask.MaskedOutput{Output: next, Mask: merged})
		}
	}
}

// Invalidate wipes all entries. Not safe to call concurrently with
// queries or edit handlers.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[mask.Key][]*entry)
}
