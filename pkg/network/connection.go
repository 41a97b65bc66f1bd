package network

import "github.com/flowmesh/dagcore/pkg/mask"

// OutputRef uniquely identifies an Output within a Network.
type OutputRef = mask.OutputRef

// InputRef uniquely identifies an Input within a Network.
type InputRef struct {
	NodeIndex  uint32
	InputIndex uint16
}

// Connection carries a source output, a target input and the mask of
// elements it delivers.
type Connection struct {
	ID     uint64
	Source OutputRef
	Target InputRef
	Mask   mask.Mask
}

// Descriptor is a name-based, pointer-free description of a connection.
// Dependency-cache entries store descriptors instead of pointers so
// that a recorded connection can still be resolved (or found to have
// been deleted) after structural edits, per spec §4.2's "stale pointers
// are never dereferenced" rule.
type Descriptor struct {
	SrcNodeID   NodeID
	SrcOutput   string
	TgtNodeID   NodeID
	TgtInput    string
}

// Describe builds the pointer-free descriptor for c, resolving node ids
// and names from the network.
func (c Connection) Describe(n *Network) (Descriptor, bool) {
	srcNode, ok := n.NodeByIndex(c.Source.NodeIndex)
	if !ok || int(c.Source.OutputIndex) >= len(srcNode.Outputs) {
		return Descriptor{}, false
	}
	tgtNode, ok := n.NodeByIndex(c.Target.NodeIndex)
	if !ok || int(c.Target.InputIndex) >= len(tgtNode.Inputs) {
		return Descriptor{}, false
	}
	return Descriptor{
		SrcNodeID: srcNode.ID,
		SrcOutput: srcNode.Outputs[c.Source.OutputIndex].Name,
		TgtNodeID: tgtNode.ID,
		TgtInput:  tgtNode.Inputs[c.Target.InputIndex].Name,
	}, true
}

// Resolve looks a descriptor back up against the live network,
// returning the connection currently occupying that (id,name) pair, if
// any. Used by partial-traversal repair to avoid dereferencing stale
// pointers.
func (d Descriptor) Resolve(n *Network) (Connection, bool) {
	srcNode, ok := n.NodeByID(d.SrcNodeID)
	if !ok {
		return Connection{}, false
	}
	oi := srcNode.OutputIndex(d.SrcOutput)
	if oi < 0 {
		return Connection{}, false
	}
	tgtNode, ok := n.NodeByID(d.TgtNodeID)
	if !ok {
		return Connection{}, false
	}
	ii := tgtNode.InputIndex(d.TgtInput)
	if ii < 0 {
		return Connection{}, false
	}
	src := OutputRef{NodeIndex: srcNode.ID.Index(), OutputIndex: uint16(oi)}
	tgt := InputRef{NodeIndex: tgtNode.ID.Index(), InputIndex: uint16(ii)}
	return n.FindConnection(src, tgt)
}
