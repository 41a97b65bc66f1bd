// Package network implements the mutable computation DAG (C2): nodes
// connected by typed, masked edges, with stable ids, an edit-monitor
// hook for downstream caches, and a pool-chain index over read/write
// outputs.
package network

import "github.com/flowmesh/dagcore/pkg/mask"

// NodeID is a stable identifier composed of a version epoch (to detect
// stale references after index reuse) and a dense 32-bit index.
type NodeID uint64

// MakeNodeID packs an epoch and an index into a NodeID.
func MakeNodeID(epoch uint32, index uint32) NodeID {
	return NodeID(uint64(epoch)<<32 | uint64(index))
}

// Index returns the dense node index encoded in the id.
func (id NodeID) Index() uint32 { return uint32(id) }

// Epoch returns the version epoch encoded in the id.
func (id NodeID) Epoch() uint32 { return uint32(id >> 32) }

// InputMode distinguishes read-only from read/write inputs.
type InputMode int

const (
	// ReadOnly inputs only consume the connected output's value.
	ReadOnly InputMode = iota
	// ReadWrite inputs are paired with exactly one associated output
	// that receives the input's (possibly mutated) buffer: the
	// pool-chain linkage.
	ReadWrite
)

// InputSpec describes one named input slot on a node.
type InputSpec struct {
	Name         string
	Type         string
	Mode         InputMode
	Prerequisite bool
	// AssociatedOutput names the output that receives this input's
	// buffer when Mode is ReadWrite. Empty for ReadOnly inputs.
	AssociatedOutput string
}

// OutputSpec describes one named output slot on a node.
type OutputSpec struct {
	Name string
	Type string
	// AssociatedInput names the read/write input this output is paired
	// with, or "" if this output is not part of a pool chain.
	AssociatedInput string
}

// RequiredInputsKind is the result of a node's RequiredInputsPredicate.
type RequiredInputsKind int

const (
	// NoReads means the node needs no optional reads at all.
	NoReads RequiredInputsKind = iota
	// AllReads means every optional input of the node is required.
	AllReads
	// OneRead means only the named optional input is required; all
	// others may be skipped (task inversion in the inputs-task state
	// machine).
	OneRead
)

// RequiredInputs is the decision returned by a node's
// RequiredInputsPredicate: a Kind plus, for OneRead, the input name.
type RequiredInputs struct {
	Kind  RequiredInputsKind
	Input string
}

// ComputeContext is the interface a node's compute callback uses to
// read inputs, read per-invocation indices, and write outputs. It is
// implemented by the executor engine (C8); the network package only
// defines the contract node authors program against.
type ComputeContext interface {
	// Input returns the current value of a named input.
	Input(name string) (any, bool)
	// InvocationIndex returns which scheduled invocation of this node
	// is currently running (0 for single-invocation nodes).
	InvocationIndex() int
	// SetOutput writes a value for a named output of this invocation.
	SetOutput(name string, value any, written mask.Mask)
	// Context returns additional evaluation state (deadline, logger,
	// etc.); collaborators decide what, if anything, lives behind it.
	Context() any
}

// ComputeFunc is the user-supplied callback that computes a node's
// outputs from its inputs. What it computes is deliberately out of
// dagcore's scope (spec Non-goals): this is the seam collaborators
// implement against.
type ComputeFunc func(ctx ComputeContext) error

// RequiredInputsPredicate lets a node decide, at evaluation time, which
// of its optional inputs are actually needed. Returning a zero value
// (NoReads) is always safe; it just means no optional input is read.
type RequiredInputsPredicate func(ctx ComputeContext) RequiredInputs

// Node is one vertex of the network. Nodes are never subclassed; node
// "kind" differences live entirely in the Compute callback and specs,
// avoiding a virtual hierarchy (design note: polymorphic Node with a
// sum type per category would be over-engineering here — every node is
// the same Go struct with different callback behavior).
type Node struct {
	ID      NodeID
	Name    string
	Inputs  []InputSpec
	Outputs []OutputSpec
	Compute ComputeFunc

	// RequiredInputsPredicate may be nil, meaning AllReads.
	RequiredInputsPredicate RequiredInputsPredicate
}

// IsLeaf reports whether n is a leaf node: zero outputs and exactly one
// read input named "in". Leaf nodes exist solely as invalidation sinks;
// their Compute, if any, is never invoked.
func (n *Node) IsLeaf() bool {
	if len(n.Outputs) != 0 || len(n.Inputs) != 1 {
		return false
	}
	in := n.Inputs[0]
	return in.Name == "in" && in.Mode == ReadOnly
}

// NewLeafNode builds a leaf node with the canonical single "in" input.
func NewLeafNode(id NodeID, name string) *Node {
	return &Node{
		ID:      id,
		Name:    name,
		Inputs:  []InputSpec{{Name: "in", Type: "any", Mode: ReadOnly}},
		Outputs: nil,
	}
}

// InputIndex returns the index of the named input, or -1.
func (n *Node) InputIndex(name string) int {
	for i, in := range n.Inputs {
		if in.Name == name {
			return i
		}
	}
	return -1
}

// OutputIndex returns the index of the named output, or -1.
func (n *Node) OutputIndex(name string) int {
	for i, out := range n.Outputs {
		if out.Name == name {
			return i
		}
	}
	return -1
}

// EvaluateRequiredInputs invokes the node's predicate, defaulting to
// AllReads when none is set.
func (n *Node) EvaluateRequiredInputs(ctx ComputeContext) RequiredInputs {
	if n.RequiredInputsPredicate == nil {
		return RequiredInputs{Kind: AllReads}
	}
	return n.RequiredInputsPredicate(ctx)
}
