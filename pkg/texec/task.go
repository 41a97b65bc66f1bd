package texec

import (
	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/schedule"
)

// taskKind distinguishes the five task families spec §4.5 enumerates:
// the request-level leaf fan-in, and the compute/inputs/prep/keep task
// state machines a schedule wires together.
type taskKind int

const (
	taskLeaf taskKind = iota
	taskCompute
	taskInputs
	taskPrep
	taskKeep
)

// Stages. Each kind owns its own small int space; process dispatches on
// kind first, then switches on stage.
const (
	leafSpawnRequested = iota
	leafFinalize
)

const (
	computeClaimed = iota
	computePrepAwaited
	computeEvaluate
)

const (
	inputsClaimed = iota
	inputsDepsAwaited
	inputsFinalize
)

const (
	prepClaimed = iota
)

const (
	keepClaimed = iota
)

// task is a small immutable value carrying everything a step needs.
// Continuation is modeled by producing an updated copy of the task at
// its next stage and re-enqueueing it, rather than recursive spawning —
// design note 4's replacement for recycle_as_safe_continuation.
type task struct {
	kind  taskKind
	stage int

	// node is the node-level key (OutputIndex always 0 by convention)
	// used for Schedule queries that key on a node rather than a
	// specific scheduled output: ScheduledOutputsOf, KeepTaskIndex,
	// IsMultiInvocation.
	node mask.OutputRef

	// reqOut/requestIdx/remaining are taskLeaf-only: the exact
	// requested output+mask, its position in the request vector (for
	// the completion callback), and a fan-in counter shared by every
	// continuation spawned for that leaf's compute tasks.
	reqOut     mask.MaskedOutput
	requestIdx int
	remaining  *int64

	computeID schedule.ComputeTaskID
	inputsID  schedule.InputsTaskID
	prepID    schedule.PrepTaskID
	keepID    schedule.KeepTaskID

	// outputID is resolved once a compute task's claim succeeds, and
	// threaded through its later stages.
	outputID schedule.OutputID

	// depIndex identifies which unique input dependency an inputs
	// task's current claim/wait step concerns.
	depIndex int
}
