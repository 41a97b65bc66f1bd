package schedule

import "github.com/flowmesh/dagcore/pkg/mask"

// outputEntry is one scheduled-output row in a MemSchedule.
type outputEntry struct {
	id          OutputID
	requestMask mask.Mask
	keepMask    mask.Mask
	affectsMask mask.Mask
	fromBuffer  *mask.OutputRef
	passTo      *mask.OutputRef
	computeTask []ComputeTaskID
	affective   bool
	uniqueIndex int
}

// MemSchedule is a straightforward, builder-populated in-memory
// Schedule. It mirrors the teacher's DAG/DAGIndex split
// (smilemakc-mbflow/backend/pkg/engine/dag_utils.go: a builder pass
// followed by O(1) indexed lookups) rather than recomputing anything
// query-side.
type MemSchedule struct {
	byNode    map[mask.OutputRef][]OutputID
	outputs   map[OutputID]*outputEntry
	keepTask  map[mask.OutputRef]KeepTaskID
	inputsIdx map[ComputeTaskID]InputsTaskID
	prepIdx   map[ComputeTaskID]PrepTaskID

	prereqs   map[InputsTaskID][]int
	optionals map[InputsTaskID][]int
	required  map[ComputeTaskID][]int

	multiInvocation map[mask.OutputRef]bool

	numUnique int
	smbl      bool

	depKind    map[int]DependencyKind
	depCompute map[int]ComputeTaskID
	depKeep    map[int]KeepTaskID

	computeTaskOutput map[ComputeTaskID]OutputID
	keepTaskNode      map[KeepTaskID]mask.OutputRef
}

// NewMemSchedule returns an empty, buildable schedule.
func NewMemSchedule() *MemSchedule {
	return &MemSchedule{
		byNode:          make(map[mask.OutputRef][]OutputID),
		outputs:         make(map[OutputID]*outputEntry),
		keepTask:        make(map[mask.OutputRef]KeepTaskID),
		inputsIdx:       make(map[ComputeTaskID]InputsTaskID),
		prepIdx:         make(map[ComputeTaskID]PrepTaskID),
		prereqs:         make(map[InputsTaskID][]int),
		optionals:       make(map[InputsTaskID][]int),
		required:        make(map[ComputeTaskID][]int),
		multiInvocation: make(map[mask.OutputRef]bool),
		depKind:         make(map[int]DependencyKind),
		depCompute:      make(map[int]ComputeTaskID),
		depKeep:         make(map[int]KeepTaskID),

		computeTaskOutput: make(map[ComputeTaskID]OutputID),
		keepTaskNode:      make(map[KeepTaskID]mask.OutputRef),
	}
}

// SetDependencyComputeTask maps dependency index depIndex to a compute
// task.
func (s *MemSchedule) SetDependencyComputeTask(depIndex int, c ComputeTaskID) {
	s.depKind[depIndex] = DependencyCompute
	s.depCompute[depIndex] = c
}

// SetDependencyKeepTask maps dependency index depIndex to a keep task.
func (s *MemSchedule) SetDependencyKeepTask(depIndex int, k KeepTaskID) {
	s.depKind[depIndex] = DependencyKeep
	s.depKeep[depIndex] = k
}

func (s *MemSchedule) DependencyTask(depIndex int) (DependencyKind, ComputeTaskID, KeepTaskID) {
	return s.depKind[depIndex], s.depCompute[depIndex], s.depKeep[depIndex]
}

func (s *MemSchedule) ComputeTaskOutput(c ComputeTaskID) (OutputID, bool) {
	o, ok := s.computeTaskOutput[c]
	return o, ok
}

func (s *MemSchedule) KeepTaskNode(k KeepTaskID) (mask.OutputRef, bool) {
	node, ok := s.keepTaskNode[k]
	return node, ok
}

// AddOutput registers a scheduled output invocation and returns its
// OutputID for use wiring compute/inputs/prep/keep task indices.
func (s *MemSchedule) AddOutput(node mask.OutputRef, taskID int, requestMask, keepMask, affectsMask mask.Mask, affective bool) OutputID {
	id := OutputID{Output: node, TaskID: taskID}
	e := &outputEntry{
		id:          id,
		requestMask: requestMask,
		keepMask:    keepMask,
		affectsMask: affectsMask,
		affective:   affective,
		uniqueIndex: s.numUnique,
	}
	s.numUnique++
	s.outputs[id] = e
	s.byNode[node] = append(s.byNode[node], id)
	return id
}

// SetFromBuffer records o's from-buffer source output.
func (s *MemSchedule) SetFromBuffer(o OutputID, src mask.OutputRef) { s.outputs[o].fromBuffer = &src }

// SetPassTo records o's pass-to destination output.
func (s *MemSchedule) SetPassTo(o OutputID, dst mask.OutputRef) { s.outputs[o].passTo = &dst }

// SetComputeTasks records the compute task ids that produce o.
func (s *MemSchedule) SetComputeTasks(o OutputID, ids ...ComputeTaskID) {
	s.outputs[o].computeTask = ids
	for _, c := range ids {
		s.computeTaskOutput[c] = o
	}
}

// SetKeepTask records node's keep task id.
func (s *MemSchedule) SetKeepTask(node mask.OutputRef, id KeepTaskID) {
	s.keepTask[node] = id
	s.keepTaskNode[id] = node
}

// SetInputsTask records the inputs task for a compute task.
func (s *MemSchedule) SetInputsTask(c ComputeTaskID, id InputsTaskID) { s.inputsIdx[c] = id }

// SetPrepTask records the prep task for a compute task.
func (s *MemSchedule) SetPrepTask(c ComputeTaskID, id PrepTaskID) { s.prepIdx[c] = id }

// SetPrereqs/SetOptionals/SetRequired record the dependency-index lists
// consumed by the inputs- and compute-task state machines.
func (s *MemSchedule) SetPrereqs(i InputsTaskID, deps ...int)   { s.prereqs[i] = deps }
func (s *MemSchedule) SetOptionals(i InputsTaskID, deps ...int) { s.optionals[i] = deps }
func (s *MemSchedule) SetRequired(c ComputeTaskID, deps ...int) { s.required[c] = deps }

// SetMultiInvocation marks node as having more than one scheduled
// invocation.
func (s *MemSchedule) SetMultiInvocation(node mask.OutputRef, multi bool) {
	s.multiInvocation[node] = multi
}

// SetHasSMBL toggles the sparse mung-buffer-locking hint.
func (s *MemSchedule) SetHasSMBL(v bool) { s.smbl = v }

func (s *MemSchedule) ScheduledOutputsOf(node mask.OutputRef) []OutputID { return s.byNode[node] }

func (s *MemSchedule) RequestMask(o OutputID) mask.Mask { return s.outputs[o].requestMask }
func (s *MemSchedule) KeepMask(o OutputID) mask.Mask    { return s.outputs[o].keepMask }
func (s *MemSchedule) AffectsMask(o OutputID) mask.Mask { return s.outputs[o].affectsMask }

func (s *MemSchedule) FromBufferOutput(o OutputID) (mask.OutputRef, bool) {
	e := s.outputs[o]
	if e.fromBuffer == nil {
		return mask.OutputRef{}, false
	}
	return *e.fromBuffer, true
}

func (s *MemSchedule) PassToOutput(o OutputID) (mask.OutputRef, bool) {
	e := s.outputs[o]
	if e.passTo == nil {
		return mask.OutputRef{}, false
	}
	return *e.passTo, true
}

func (s *MemSchedule) ComputeTaskIDs(o OutputID) []ComputeTaskID { return s.outputs[o].computeTask }

func (s *MemSchedule) KeepTaskIndex(node mask.OutputRef) (KeepTaskID, bool) {
	id, ok := s.keepTask[node]
	return id, ok
}

func (s *MemSchedule) InputsTaskIndex(c ComputeTaskID) (InputsTaskID, bool) {
	id, ok := s.inputsIdx[c]
	return id, ok
}

func (s *MemSchedule) PrepTaskIndex(c ComputeTaskID) (PrepTaskID, bool) {
	id, ok := s.prepIdx[c]
	return id, ok
}

func (s *MemSchedule) GetPrereqInputDependencies(i InputsTaskID) []int    { return s.prereqs[i] }
func (s *MemSchedule) GetOptionalInputDependencies(i InputsTaskID) []int  { return s.optionals[i] }
func (s *MemSchedule) GetRequiredInputDependencies(c ComputeTaskID) []int { return s.required[c] }

func (s *MemSchedule) UniqueIndex(o OutputID) int      { return s.outputs[o].uniqueIndex }
func (s *MemSchedule) NumUniqueInputDependencies() int { return s.numUnique }
func (s *MemSchedule) HasSMBL() bool                   { return s.smbl }
func (s *MemSchedule) Affective(o OutputID) bool       { return s.outputs[o].affective }
func (s *MemSchedule) IsMultiInvocation(node mask.OutputRef) bool {
	return s.multiInvocation[node]
}
