// Package speculation implements the speculation sub-executor (C9): a
// stack-based pull evaluator that recursively resolves a sub-request,
// re-using whatever the parent executor has already published, and
// writing newly computed values back to the parent at the end of each
// node's evaluation — unless the node was itself flagged speculated
// because its evaluation would have re-entered the very node that
// spawned this sub-executor (a true data cycle, spec §4.6).
//
// It is grounded on the teacher's recursive sub-workflow fan-out
// (smilemakc-mbflow/backend/pkg/engine/sub_workflow.go's
// executeSubWorkflowItem, which recurses into a cloned child workflow
// and folds results back into the parent's ExecutionState) generalized
// from "clone and run a child workflow" to "pull-evaluate one output at
// a time against the shared network", since dagcore's speculation
// re-enters the *same* network rather than a cloned one.
package speculation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowmesh/dagcore/pkg/databuffer"
	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
	"github.com/flowmesh/dagcore/pkg/schedule"
	"github.com/flowmesh/dagcore/pkg/stats"
)

// WriteBackTarget is the parent executor's buffer surface: the only
// capability the sub-executor needs from whatever spawned it. Both
// *texec.Engine and another *SubExecutor satisfy it, so speculation can
// nest.
type WriteBackTarget interface {
	Buffer(out mask.OutputRef) *databuffer.Buffer
}

// InvalidationTimestamps is an optional extension a Schedule may
// implement to support the write-back mung-buffer-lock check (spec
// §4.6: "unless invalidation timestamps between this output and its
// pass-to output mismatch"). When a schedule doesn't implement it,
// every output is treated as having an equal timestamp to its pass-to
// partner — the conservative choice DESIGN.md's Open Question 2
// settles on, since "no newer information available" is the safe
// default under concurrent mutation on the main executor.
type InvalidationTimestamps interface {
	InvalidationTimestamp(o schedule.OutputID) int64
}

// SubExecutor runs one speculative sub-evaluation. It is not safe for
// concurrent Resolve calls; spawn one per speculative request, exactly
// as the parallel executor engine reserves one task arena per run.
type SubExecutor struct {
	net       *network.Network
	sched     schedule.Schedule
	writeBack WriteBackTarget
	bufferCap int

	// seedNode is the node whose evaluation spawned this sub-executor.
	// Traversal reaching it again is the cycle spec §4.6 describes.
	seedNode network.NodeID

	local       sync.Map // mask.OutputRef -> *databuffer.Buffer
	speculated  sync.Map // mask.OutputRef -> bool
	interrupted atomic.Bool

	recorder *stats.Recorder
}

// Option configures a SubExecutor.
type Option func(*SubExecutor)

// WithStatsRecorder attaches an Execution Stats (C11) recorder to this
// sub-executor. The natural way to obtain one is
// parentRecorder.NewSubRecorder(1, seedNode): the original
// VdfExecutionStats pushes exactly such a child stats object
// (AddSubStat) whenever evaluation recurses into a nested
// sub-evaluation, so the parent's Aggregate walks this sub-executor's
// events as part of the same hierarchy rather than losing them.
func WithStatsRecorder(r *stats.Recorder) Option {
	return func(se *SubExecutor) { se.recorder = r }
}

// New returns a sub-executor over net/sched that falls through to
// writeBack for already-published values and publishes newly computed
// ones back to it. seedNode identifies the node whose own evaluation
// triggered this speculation, for cycle detection.
func New(net *network.Network, sched schedule.Schedule, writeBack WriteBackTarget, bufferCap int, seedNode network.NodeID, opts ...Option) *SubExecutor {
	se := &SubExecutor{net: net, sched: sched, writeBack: writeBack, bufferCap: bufferCap, seedNode: seedNode}
	for _, o := range opts {
		o(se)
	}
	return se
}

// record appends an event to the attached recorder, if any. A
// sub-executor is single-threaded (see the SubExecutor doc comment),
// so every event is recorded against worker 0.
func (se *SubExecutor) record(kind stats.EventKind, node network.NodeID) {
	se.recordWithDuration(kind, node, 0)
}

func (se *SubExecutor) recordWithDuration(kind stats.EventKind, node network.NodeID, d time.Duration) {
	if se.recorder == nil {
		return
	}
	se.recorder.Record(0, stats.Event{Kind: kind, Node: node, Duration: d, Timestamp: time.Now()})
}

// Buffer exposes this sub-executor's local buffer for out, so a nested
// SubExecutor can use this one as its own WriteBackTarget.
func (se *SubExecutor) Buffer(out mask.OutputRef) *databuffer.Buffer {
	if v, ok := se.local.Load(out); ok {
		return v.(*databuffer.Buffer)
	}
	b := databuffer.New(se.bufferCap)
	actual, _ := se.local.LoadOrStore(out, b)
	return actual.(*databuffer.Buffer)
}

// Interrupt marks this sub-evaluation (and anything it is currently
// resolving) as interrupted; in-flight resolutions bail without
// publishing, exactly as the parallel executor engine's isInterrupted
// flag does for the main run.
func (se *SubExecutor) Interrupt() { se.interrupted.Store(true) }

// Speculated reports whether out was flagged speculated during the
// last Resolve — traversal looped back to the seed node, so no real
// value was ever computed for it.
func (se *SubExecutor) Speculated(out mask.OutputRef) bool {
	v, _ := se.speculated.Load(out)
	b, _ := v.(bool)
	return b
}

// Resolve evaluates every entry of req, returning the resolved
// (possibly empty, for speculated outputs) masked values in request
// order. Each node touched is fully resolved — including its
// write-back to the parent, per node, as its Compute stage completes —
// before Resolve returns to its caller.
func (se *SubExecutor) Resolve(ctx context.Context, req mask.MaskedOutputVector) []mask.MaskedOutput {
	out := make([]mask.MaskedOutput, len(req))
	path := make(map[uint32]bool)
	for i, want := range req {
		val, _ := se.resolveOutput(ctx, want, path)
		out[i] = val
	}
	return out
}

// resolveOutput is one stack entry's worth of work, expressed
// recursively: Start (cache/cycle check) -> PreRequisitesDone /
// ReadsDone (resolve every connected input) -> Compute -> write-back.
// The boolean return is "this output's value is speculated" which
// propagates up the call stack exactly as spec §4.6 describes ("a
// parallel bit propagates the inputsSpeculate flag up the stack via
// per-entry return values").
func (se *SubExecutor) resolveOutput(ctx context.Context, want mask.MaskedOutput, path map[uint32]bool) (mask.MaskedOutput, bool) {
	nodeIdx := want.Output.NodeIndex

	node, ok := se.net.NodeByIndex(nodeIdx)
	if !ok {
		return mask.MaskedOutput{Output: want.Output, Mask: mask.Mask{}}, false
	}

	// Start: a cycle back to the seed node (directly, or via any node
	// already on this resolution path) means this value cannot be
	// computed without infinite recursion — flag it speculated instead.
	if node.ID == se.seedNode || path[nodeIdx] {
		se.speculated.Store(want.Output, true)
		return mask.MaskedOutput{Output: want.Output, Mask: mask.Mask{}}, true
	}

	// Start: fall through to whatever the parent has already published
	// before doing any work of our own.
	parentPub := se.writeBack.Buffer(want.Output).ReadPublic()
	if !parentPub.Valid.IsEmpty() && mask.Intersect(parentPub.Valid, want.Mask).Count() == want.Mask.Count() {
		return mask.MaskedOutput{Output: want.Output, Mask: mask.Intersect(parentPub.Valid, want.Mask)}, false
	}

	if se.interrupted.Load() {
		se.record(stats.EventInterrupted, node.ID)
		return mask.MaskedOutput{Output: want.Output, Mask: mask.Mask{}}, false
	}

	path[nodeIdx] = true
	defer delete(path, nodeIdx)

	// PreRequisitesDone / ReadsDone: resolve every connected input,
	// propagating a speculated result from any of them.
	inputVals := make(map[string]any, len(node.Inputs))
	anySpeculated := false
	for i, in := range node.Inputs {
		conns := se.net.IncomingConnections(network.InputRef{NodeIndex: nodeIdx, InputIndex: uint16(i)})
		if len(conns) == 0 {
			continue
		}
		srcWant := mask.MaskedOutput{Output: conns[0].Source, Mask: conns[0].Mask}
		val, speculated := se.resolveOutput(ctx, srcWant, path)
		if speculated {
			anySpeculated = true
			continue
		}
		// Prefer this sub-executor's own local copy (freshly computed
		// or carried over from a prior resolveOutput in this same
		// Resolve call); fall back to the parent's published value for
		// outputs this sub-executor never touched.
		pub := se.Buffer(conns[0].Source).ReadPublic()
		if pub.Valid.IsEmpty() {
			pub = se.writeBack.Buffer(conns[0].Source).ReadPublic()
		}
		if v, ok := firstValue(val, pub); ok {
			inputVals[in.Name] = v
		}
	}

	// Any speculated input makes this node's own output speculated and
	// uncomputed: "any node consuming a speculated value is itself
	// marked speculated and skipped (not computed), and no write-back
	// occurs for skipped nodes."
	if anySpeculated {
		se.speculated.Store(want.Output, true)
		return mask.MaskedOutput{Output: want.Output, Mask: mask.Mask{}}, true
	}

	if se.interrupted.Load() {
		se.record(stats.EventInterrupted, node.ID)
		return mask.MaskedOutput{Output: want.Output, Mask: mask.Mask{}}, false
	}

	// Compute.
	octx := &evalContext{inputVals: inputVals, outSlots: make(map[string]databuffer.Slot, len(node.Outputs))}
	if node.Compute != nil {
		start := time.Now()
		_ = node.Compute(octx) // diagnostics flow through errlog at the parent layer; speculation never surfaces them itself
		se.recordWithDuration(stats.EventCompute, node.ID, time.Since(start))
	}

	for _, outSpec := range node.Outputs {
		slot, ok := octx.outSlots[outSpec.Name]
		if !ok {
			continue
		}
		outRef := mask.OutputRef{NodeIndex: nodeIdx, OutputIndex: uint16(node.OutputIndex(outSpec.Name))}
		buf := se.Buffer(outRef)
		buf.SetPrivate(slot)
		buf.PublishPrivate(se.bufferCap)
		se.writeBackOutput(outRef)
	}

	// writeBackOutput may have discarded the local buffer entirely (the
	// does-not-pass-through branch), in which case the just-written value
	// now lives only in the parent: fall through exactly as Start does.
	result := se.Buffer(want.Output).ReadPublic()
	if result.Valid.IsEmpty() {
		result = se.writeBack.Buffer(want.Output).ReadPublic()
	}
	return mask.MaskedOutput{Output: want.Output, Mask: mask.Intersect(result.Valid, want.Mask)}, false
}

// writeBackOutput applies spec §4.6's write-back policy for a single
// scheduled output of the node that was just computed.
func (se *SubExecutor) writeBackOutput(outRef mask.OutputRef) {
	local := se.Buffer(outRef)
	pub := local.ReadPublic()

	oid := schedule.OutputID{Output: outRef}
	passTo, passes := se.sched.PassToOutput(oid)

	target := se.writeBack.Buffer(outRef)
	if !passes {
		// Does not pass its data: write the full computed mask, then
		// discard the local buffer so later lookups in this
		// sub-executor fall through to the parent (guards against a
		// client callback mutating values after compute).
		target.SetPrivate(pub)
		target.PublishPrivate(se.bufferCap)
		se.local.Delete(outRef)
		return
	}

	keepMask := se.sched.KeepMask(oid)
	writeMask := keepMask
	if ts, ok := se.sched.(InvalidationTimestamps); ok {
		srcTS := ts.InvalidationTimestamp(oid)
		dstTS := ts.InvalidationTimestamp(schedule.OutputID{Output: passTo})
		if srcTS != dstTS {
			writeMask = pub.Valid
		}
	}

	slot := databuffer.Slot{Values: pub.Values, Valid: mask.Intersect(pub.Valid, writeMask)}
	target.SetPrivate(slot)
	target.PublishPrivate(se.bufferCap)
}

func firstValue(mo mask.MaskedOutput, pub databuffer.Slot) (any, bool) {
	if mo.Mask.IsEmpty() || len(pub.Values) == 0 {
		return nil, false
	}
	idx := mo.Mask.First()
	if idx < 0 || idx >= len(pub.Values) {
		return nil, false
	}
	return pub.Values[idx], true
}

// evalContext is the speculation sub-executor's ComputeContext
// implementation, mirroring texec's but scoped to a single pull-style
// invocation (InvocationIndex is always 0: speculation never schedules
// multiple invocations of the same node).
type evalContext struct {
	inputVals map[string]any
	outSlots  map[string]databuffer.Slot
}

func (c *evalContext) Input(name string) (any, bool) { v, ok := c.inputVals[name]; return v, ok }
func (c *evalContext) InvocationIndex() int          { return 0 }

func (c *evalContext) SetOutput(name string, value any, written mask.Mask) {
	slot, ok := c.outSlots[name]
	if !ok {
		capacity := written.Capacity()
		if capacity < 1 {
			capacity = 1
		}
		slot = databuffer.Slot{Values: make([]any, capacity), Valid: mask.New(capacity)}
	}
	written.ForEachSet(func(i int) bool {
		if i >= len(slot.Values) {
			return true
		}
		slot.Values[i] = value
		slot.Valid.Set(i)
		return true
	})
	c.outSlots[name] = slot
}

func (c *evalContext) Context() any { return nil }
