// Package schedule defines the Schedule contract (C6): the input the
// parallel executor engine (C8) consumes. dagcore does not decide what
// gets scheduled — that is a collaborator concern (spec §6 names the
// scheduler as "given") — it only defines the surface C8 queries and
// ships a straightforward in-memory reference implementation good
// enough to drive the engine in tests and simple embeddings.
package schedule

import "github.com/flowmesh/dagcore/pkg/mask"

// OutputID identifies one scheduled output invocation.
type OutputID struct {
	Output mask.OutputRef
	TaskID int
}

// ComputeTaskID, InputsTaskID, PrepTaskID and KeepTaskID are distinct
// integer namespaces; the Schedule implementation owns their encoding.
type ComputeTaskID int
type InputsTaskID int
type PrepTaskID int
type KeepTaskID int

const (
	// NoTask marks the absence of an optional task (no inputs/prep/keep
	// task for this node or compute task).
	NoTask = -1
)

// DependencyKind distinguishes what a dependency index resolves to.
type DependencyKind int

const (
	DependencyCompute DependencyKind = iota
	DependencyKeep
)

// Schedule is the surface the parallel executor engine queries. It
// never mutates the schedule; all methods are pure lookups.
type Schedule interface {
	// ScheduledOutputsOf enumerates the outputs scheduled for node,
	// across every invocation.
	ScheduledOutputsOf(node mask.OutputRef) []OutputID

	RequestMask(o OutputID) mask.Mask
	KeepMask(o OutputID) mask.Mask
	AffectsMask(o OutputID) mask.Mask
	FromBufferOutput(o OutputID) (mask.OutputRef, bool)
	PassToOutput(o OutputID) (mask.OutputRef, bool)

	ComputeTaskIDs(o OutputID) []ComputeTaskID
	KeepTaskIndex(node mask.OutputRef) (KeepTaskID, bool)
	InputsTaskIndex(c ComputeTaskID) (InputsTaskID, bool)
	PrepTaskIndex(c ComputeTaskID) (PrepTaskID, bool)

	GetPrereqInputDependencies(i InputsTaskID) []int
	GetOptionalInputDependencies(i InputsTaskID) []int
	GetRequiredInputDependencies(c ComputeTaskID) []int

	// DependencyTask resolves a dependency index (as returned by the
	// Get*InputDependencies methods) to the task that must complete to
	// satisfy it: a compute task in the common case, or a keep task when
	// the dependency is satisfied by a node's accumulated keep buffer.
	// This is dagcore's own wiring glue — spec §6 enumerates the
	// dependency-index surface but leaves "which task does index i
	// actually name" to the scheduler implementation, so the engine
	// needs a way to ask.
	DependencyTask(depIndex int) (kind DependencyKind, computeID ComputeTaskID, keepID KeepTaskID)

	// ComputeTaskOutput and KeepTaskNode are the reverse lookups the
	// engine needs to actually spawn a task named only by id (e.g. from
	// DependencyTask): which scheduled output a compute task produces,
	// and which node a keep task belongs to.
	ComputeTaskOutput(c ComputeTaskID) (OutputID, bool)
	KeepTaskNode(k KeepTaskID) (mask.OutputRef, bool)

	// UniqueIndex returns o's unique input-dependency index in
	// [0, NumUniqueInputDependencies()).
	UniqueIndex(o OutputID) int
	NumUniqueInputDependencies() int

	// HasSMBL hints whether sparse mung-buffer-locking is available for
	// this schedule. No engine in this module reads it.
	HasSMBL() bool

	// Affective reports whether a scheduled output's compute invocation
	// should actually run the node's callback (true) or merely
	// pass-through (false) — spec §4.5.3's EvaluateNode distinction.
	Affective(o OutputID) bool

	// IsMultiInvocation reports whether node has more than one scheduled
	// invocation, used to decide whether post-compute merges into
	// scratch or may publish directly.
	IsMultiInvocation(node mask.OutputRef) bool
}
