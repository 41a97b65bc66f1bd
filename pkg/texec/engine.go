// Package texec implements the parallel executor engine (C8): it runs
// a schedule.Schedule against the network, populating per-output
// databuffer.Buffers and invoking a completion callback once per
// requested output.
//
// Tasks are modeled as small immutable values carrying a stage enum,
// exactly as design note 4 in the spec this engine follows prescribes
// for replacing TBB's recycle_as_safe_continuation: "continuation is
// modeled by re-enqueueing the updated state" rather than recursive
// task spawning. A fixed worker pool drains a task queue. Every spawned
// task, child or continuation, goes through that queue; no child task
// is run inline by the worker that produced it.
package texec

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flowmesh/dagcore/pkg/databuffer"
	"github.com/flowmesh/dagcore/pkg/errlog"
	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
	"github.com/flowmesh/dagcore/pkg/schedule"
	"github.com/flowmesh/dagcore/pkg/stats"
)

// CompletionCallback is invoked exactly once per requested output.
type CompletionCallback func(out mask.MaskedOutput, requestIndex int)

// dependencyState is the CAS-protected decision for one unique input
// dependency index, spec §4.5.8's dedup byte array.
type dependencyState int32

const (
	depUndecided dependencyState = iota
	depCached
	depUncached
)

// Engine runs schedules against a network. One Engine instance is not
// safe for concurrent Run calls against overlapping output sets — spec
// §5 reserves "a single task arena... per executor engine" for exactly
// this reason.
type Engine struct {
	net           *network.Network
	buffers       sync.Map // mask.OutputRef -> *databuffer.Buffer
	bufferCap     int
	concurrency   int
	isInterrupted atomic.Bool
	cycleDetector func() bool
	interruptHook func() bool

	errs     *errlog.ErrorTransport
	recorder *stats.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrencyLimit bounds the worker pool size (spec's
// concurrencyLimit option).
func WithConcurrencyLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithInterruptionHook installs an external predicate polled at task
// stage boundaries.
func WithInterruptionHook(hook func() bool) Option {
	return func(e *Engine) { e.interruptHook = hook }
}

// WithCycleDetector installs the derived engine's cycle detector,
// polled alongside the interruption hook.
func WithCycleDetector(detector func() bool) Option {
	return func(e *Engine) { e.cycleDetector = detector }
}

// WithStatsRecorder attaches an Execution Stats (C11) recorder; every
// worker records one event per task dispatched, sharded by worker
// index, so the Run's observability never contends with its own
// scheduling hot path.
func WithStatsRecorder(r *stats.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New returns an engine bound to net, with per-output buffers sized for
// bufferCap elements.
func New(net *network.Network, bufferCap int, opts ...Option) *Engine {
	e := &Engine{net: net, bufferCap: bufferCap, concurrency: 8, errs: errlog.NewErrorTransport()}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) buffer(out mask.OutputRef) *databuffer.Buffer {
	if v, ok := e.buffers.Load(out); ok {
		return v.(*databuffer.Buffer)
	}
	b := databuffer.New(e.bufferCap)
	actual, _ := e.buffers.LoadOrStore(out, b)
	return actual.(*databuffer.Buffer)
}

// Buffer exposes the buffer for out, mostly for tests and for the
// runtime/speculation layers that read published values directly.
func (e *Engine) Buffer(out mask.OutputRef) *databuffer.Buffer { return e.buffer(out) }

// BufferCapacity returns the per-slot element capacity this engine's
// buffers were constructed with, so collaborators writing directly into
// a buffer (the runtime setting a time node's value, for instance) size
// new slots consistently.
func (e *Engine) BufferCapacity() int { return e.bufferCap }

// Invalidate resets every buffer named in outs to empty, the runtime's
// invalidateExecutor primitive: the next RunSchedule touching one of
// these outputs observes a cache-miss and recomputes it, exactly as
// "invalidate(); runSchedule(S, R) equals runSchedule(S, R) on a
// freshly constructed executor" requires.
func (e *Engine) Invalidate(outs []mask.OutputRef) {
	for _, out := range outs {
		e.buffer(out).Invalidate(e.bufferCap)
	}
}

func (e *Engine) pollInterruption() bool {
	if e.isInterrupted.Load() {
		return true
	}
	if e.cycleDetector != nil && e.cycleDetector() {
		e.isInterrupted.Store(true)
		return true
	}
	if e.interruptHook != nil && e.interruptHook() {
		e.isInterrupted.Store(true)
		return true
	}
	return false
}

// HasBeenInterrupted reports whether the engine observed an
// interruption or cycle signal during the last Run.
func (e *Engine) HasBeenInterrupted() bool { return e.isInterrupted.Load() }

// Errors returns the errors accumulated across the last Run, re-posted
// on the caller thread per spec §4.5.10.
func (e *Engine) Errors() []error { return e.errs.Drain() }

// RunSchedule executes sched against request, invoking callback exactly
// once per requested output, and logging warnings through logger.
func (e *Engine) RunSchedule(ctx context.Context, sched schedule.Schedule, request mask.MaskedOutputVector, logger *errlog.Logger, callback CompletionCallback) {
	e.isInterrupted.Store(false)

	dedup := make([]int32, sched.NumUniqueInputDependencies())

	r := &run{
		ctx:     ctx,
		engine:  e,
		sched:   sched,
		logger:  logger,
		cb:      callback,
		dedup:   dedup,
		compute: newSyncTable(),
		inputs:  newSyncTable(),
		prep:    newSyncTable(),
		keep:    newSyncTable(),
		queue:   make(chan task, 1024),
	}

	var workers sync.WaitGroup
	n := e.concurrency
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		workers.Add(1)
		go func(workerID int) {
			defer workers.Done()
			for t := range r.queue {
				r.process(workerID, t)
			}
		}(i)
	}

	for i, out := range request {
		nodeKey := mask.OutputRef{NodeIndex: out.Output.NodeIndex}
		r.enqueue(task{kind: taskLeaf, stage: leafSpawnRequested, node: nodeKey, reqOut: out, requestIdx: i})
	}

	go func() {
		r.wg.Wait()
		close(r.queue)
	}()
	workers.Wait()
}
