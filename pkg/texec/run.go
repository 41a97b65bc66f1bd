package texec

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowmesh/dagcore/pkg/databuffer"
	"github.com/flowmesh/dagcore/pkg/errlog"
	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
	"github.com/flowmesh/dagcore/pkg/schedule"
	"github.com/flowmesh/dagcore/pkg/stats"
)

// run holds everything one RunSchedule invocation needs: the task
// queue, the four task-kind synchronization tables, and the dedup
// table for unique input dependencies (spec §4.5.8).
type run struct {
	ctx    context.Context
	engine *Engine
	sched  schedule.Schedule
	logger *errlog.Logger
	cb     CompletionCallback

	dedup []int32

	compute *syncTable
	inputs  *syncTable
	prep    *syncTable
	keep    *syncTable

	queue chan task
	wg    sync.WaitGroup
}

// enqueue accounts for a brand-new task before handing it to the queue.
func (r *run) enqueue(t task) {
	r.wg.Add(1)
	r.queue <- t
}

// waitThenEnqueue spawns a goroutine that blocks on ch and then
// re-enqueues cont once it closes. wg is incremented synchronously,
// before the goroutine starts, so the counter never transiently drops
// to zero between cont being "in flight" and its slot being reserved.
func (r *run) waitThenEnqueue(ch <-chan struct{}, cont task) {
	r.wg.Add(1)
	go func() {
		<-ch
		r.queue <- cont
	}()
}

// recordEvent posts a dispatch event to the engine's Execution Stats
// recorder, if one was attached via WithStatsRecorder. node uses only
// the dense index half of the id (task-level bookkeeping never threads
// the epoch through); good enough for the observability surface this
// serves.
func (r *run) recordEvent(workerID int, kind stats.EventKind, nodeIdx uint32) {
	if r.engine.recorder == nil {
		return
	}
	r.engine.recorder.Record(workerID, stats.Event{Kind: kind, Node: network.MakeNodeID(0, nodeIdx), Timestamp: time.Now()})
}

func (r *run) process(workerID int, t task) {
	defer r.wg.Done()
	if r.engine.pollInterruption() {
		r.recordEvent(workerID, stats.EventInterrupted, t.node.NodeIndex)
		return
	}
	switch t.kind {
	case taskLeaf:
		r.recordEvent(workerID, stats.EventLeaf, t.node.NodeIndex)
		r.stepLeaf(t)
	case taskCompute:
		r.recordEvent(workerID, stats.EventCompute, t.node.NodeIndex)
		r.stepCompute(t)
	case taskInputs:
		r.recordEvent(workerID, stats.EventInputs, t.node.NodeIndex)
		r.stepInputs(t)
	case taskPrep:
		r.recordEvent(workerID, stats.EventPrep, t.node.NodeIndex)
		r.stepPrep(t)
	case taskKeep:
		r.recordEvent(workerID, stats.EventKeep, t.node.NodeIndex)
		r.stepKeep(t)
	}
}

func (r *run) spawnCompute(cid schedule.ComputeTaskID) {
	if r.compute.Claim(int(cid)) == claimed {
		r.enqueue(task{kind: taskCompute, stage: computeClaimed, computeID: cid})
	}
}

func (r *run) spawnKeep(kid schedule.KeepTaskID) {
	if r.keep.Claim(int(kid)) == claimed {
		r.enqueue(task{kind: taskKeep, stage: keepClaimed, keepID: kid})
	}
}

// stepLeaf fans a top-level requested output out to every compute task
// that feeds its node, waits for them all, then reads back whatever
// the buffer ended up holding and invokes the completion callback.
func (r *run) stepLeaf(t task) {
	switch t.stage {
	case leafSpawnRequested:
		outs := r.sched.ScheduledOutputsOf(t.node)
		seen := make(map[schedule.ComputeTaskID]bool)
		var ids []schedule.ComputeTaskID
		for _, o := range outs {
			for _, c := range r.sched.ComputeTaskIDs(o) {
				if !seen[c] {
					seen[c] = true
					ids = append(ids, c)
				}
			}
		}
		if len(ids) == 0 {
			r.finalizeLeaf(t)
			return
		}
		remaining := int64(len(ids))
		remPtr := &remaining
		for _, cid := range ids {
			r.spawnCompute(cid)
			cont := t
			cont.stage = leafFinalize
			cont.remaining = remPtr
			r.waitThenEnqueue(r.compute.WaitChan(int(cid)), cont)
		}
	case leafFinalize:
		if atomic.AddInt64(t.remaining, -1) != 0 {
			return
		}
		r.finalizeLeaf(t)
	}
}

func (r *run) finalizeLeaf(t task) {
	buf := r.engine.buffer(t.reqOut.Output)
	pub := buf.ReadPublic()
	got := mask.Intersect(pub.Valid, t.reqOut.Mask)
	if r.cb != nil {
		r.cb(mask.MaskedOutput{Output: t.reqOut.Output, Mask: got}, t.requestIdx)
	}
}

// stepCompute runs one compute task: claim its inputs task (waiting if
// someone else already claimed it), then its prep task, then evaluates
// the node and publishes its outputs.
func (r *run) stepCompute(t task) {
	switch t.stage {
	case computeClaimed:
		o, ok := r.sched.ComputeTaskOutput(t.computeID)
		if !ok {
			r.compute.MarkDone(int(t.computeID))
			return
		}
		t.outputID = o
		t.node = mask.OutputRef{NodeIndex: o.Output.NodeIndex}

		if it, ok := r.sched.InputsTaskIndex(t.computeID); ok {
			t.inputsID = it
			if r.inputs.Claim(int(it)) == claimed {
				r.enqueue(task{kind: taskInputs, stage: inputsClaimed, inputsID: it, node: t.node})
			}
			cont := t
			cont.stage = computePrepAwaited
			r.waitThenEnqueue(r.inputs.WaitChan(int(it)), cont)
			return
		}
		r.computeAfterInputs(t)

	case computePrepAwaited:
		r.computeAfterInputs(t)

	case computeEvaluate:
		r.computeEvaluateAndPublish(t)
	}
}

func (r *run) computeAfterInputs(t task) {
	if pt, ok := r.sched.PrepTaskIndex(t.computeID); ok {
		t.prepID = pt
		if r.prep.Claim(int(pt)) == claimed {
			r.enqueue(task{kind: taskPrep, stage: prepClaimed, prepID: pt})
		}
		cont := t
		cont.stage = computeEvaluate
		r.waitThenEnqueue(r.prep.WaitChan(int(pt)), cont)
		return
	}
	r.computeEvaluateAndPublish(t)
}

// computeEvaluateAndPublish gathers each connected input's current
// public value, runs the node's compute callback (skipped entirely
// when the schedule marks this invocation non-affective, spec
// §4.5.3's EvaluateNode pass-through case), and publishes whatever
// outputs the callback wrote.
func (r *run) computeEvaluateAndPublish(t task) {
	defer r.compute.MarkDone(int(t.computeID))

	o := t.outputID
	node, ok := r.engine.net.NodeByIndex(o.Output.NodeIndex)
	if !ok || !r.sched.Affective(o) {
		return
	}

	ctx := &evalContext{
		run:       r,
		inputVals: make(map[string]any, len(node.Inputs)),
		outSlots:  make(map[string]databuffer.Slot, len(node.Outputs)),
	}
	for i, in := range node.Inputs {
		conns := r.engine.net.IncomingConnections(network.InputRef{NodeIndex: o.Output.NodeIndex, InputIndex: uint16(i)})
		if len(conns) == 0 {
			continue
		}
		pub := r.engine.buffer(conns[0].Source).ReadPublic()
		if len(pub.Values) > 0 && pub.Valid.Test(0) {
			ctx.inputVals[in.Name] = pub.Values[0]
		}
	}

	if node.Compute != nil {
		if err := node.Compute(ctx); err != nil {
			r.engine.errs.Post(node.ID, err)
			if r.logger != nil {
				r.logger.Warn(node.ID, "compute failed: %v", err)
			}
		}
	}

	for _, out := range node.Outputs {
		slot, ok := ctx.outSlots[out.Name]
		if !ok {
			continue
		}
		outRef := mask.OutputRef{NodeIndex: o.Output.NodeIndex, OutputIndex: uint16(node.OutputIndex(out.Name))}
		buf := r.engine.buffer(outRef)
		buf.EnsureScratchSized(len(slot.Values))
		if r.sched.IsMultiInvocation(t.node) {
			buf.MergeIntoScratch(slot, r.sched.KeepMask(o))
			buf.PublishScratch(r.engine.bufferCap)
		} else {
			buf.SetPrivate(slot)
			buf.PublishPrivate(r.engine.bufferCap)
		}
	}
}

// stepInputs claims every still-uncached unique input dependency
// (prerequisite and optional alike — this reference engine does not
// implement the required-input task-inversion optimization spec
// §4.5.4 describes, since that needs a compute callback's own verdict
// before the inputs task has even run) and waits for them all.
func (r *run) stepInputs(t task) {
	switch t.stage {
	case inputsClaimed:
		deps := append(append([]int{}, r.sched.GetPrereqInputDependencies(t.inputsID)...),
			r.sched.GetOptionalInputDependencies(t.inputsID)...)

		var pending []int
		for _, d := range deps {
			if r.decideDependency(d) {
				pending = append(pending, d)
			}
		}
		if len(pending) == 0 {
			r.inputs.MarkDone(int(t.inputsID))
			return
		}

		remaining := int64(len(pending))
		remPtr := &remaining
		for _, d := range pending {
			kind, cid, kid := r.sched.DependencyTask(d)
			var ch <-chan struct{}
			switch kind {
			case schedule.DependencyCompute:
				r.spawnCompute(cid)
				ch = r.compute.WaitChan(int(cid))
			case schedule.DependencyKeep:
				r.spawnKeep(kid)
				ch = r.keep.WaitChan(int(kid))
			}
			cont := t
			cont.stage = inputsFinalize
			cont.remaining = remPtr
			r.waitThenEnqueue(ch, cont)
		}

	case inputsFinalize:
		if atomic.AddInt64(t.remaining, -1) != 0 {
			return
		}
		r.inputs.MarkDone(int(t.inputsID))
	}
}

// decideDependency resolves depIndex's cached/uncached verdict exactly
// once per run, CAS-racing concurrent inputs tasks that share the same
// unique dependency index (spec §4.5.8's dedup byte array). A
// dependency counts as cached when its producing buffer already holds
// any valid data — a simplification of the spec's cache-coverage check,
// which would compare against the specific request mask rather than
// "any bit set".
func (r *run) decideDependency(depIndex int) bool {
	if depIndex < 0 || depIndex >= len(r.dedup) {
		return true
	}
	for {
		cur := dependencyState(atomic.LoadInt32(&r.dedup[depIndex]))
		switch cur {
		case depCached:
			return false
		case depUncached:
			return true
		default:
			kind, cid, kid := r.sched.DependencyTask(depIndex)
			cachedNow := r.isCached(kind, cid, kid)
			next := depUncached
			if cachedNow {
				next = depCached
			}
			if atomic.CompareAndSwapInt32(&r.dedup[depIndex], int32(depUndecided), int32(next)) {
				return !cachedNow
			}
		}
	}
}

func (r *run) isCached(kind schedule.DependencyKind, cid schedule.ComputeTaskID, kid schedule.KeepTaskID) bool {
	switch kind {
	case schedule.DependencyCompute:
		if o, ok := r.sched.ComputeTaskOutput(cid); ok {
			return !r.engine.buffer(o.Output).ReadPublic().Valid.IsEmpty()
		}
	case schedule.DependencyKeep:
		if node, ok := r.sched.KeepTaskNode(kid); ok {
			return !r.engine.buffer(node).ReadPublic().Valid.IsEmpty()
		}
	}
	return false
}

// stepPrep is bookkeeping only: scratch-buffer sizing happens inline in
// computeEvaluateAndPublish, so a prep task's only job is to let every
// compute task waiting on it through exactly once.
func (r *run) stepPrep(t task) {
	r.prep.MarkDone(int(t.prepID))
}

// stepKeep is bookkeeping only: the actual keep-mask accumulation
// happens inside computeEvaluateAndPublish's scratch merge. Keep tasks
// exist as a distinct claim/wait point so other nodes' input
// dependencies can wait on a node's accumulated buffer without waiting
// on its next full compute invocation.
func (r *run) stepKeep(t task) {
	r.keep.MarkDone(int(t.keepID))
}

// evalContext is the executor engine's ComputeContext implementation.
type evalContext struct {
	run       *run
	inputVals map[string]any
	outSlots  map[string]databuffer.Slot
}

func (c *evalContext) Input(name string) (any, bool) {
	v, ok := c.inputVals[name]
	return v, ok
}

func (c *evalContext) InvocationIndex() int { return 0 }

func (c *evalContext) SetOutput(name string, value any, written mask.Mask) {
	slot, ok := c.outSlots[name]
	if !ok {
		capacity := c.run.engine.bufferCap
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

func (c *evalContext) Context() any { return c.run.ctx }
