// Package runtime implements the Runtime layer (C10): it owns the main
// parallel executor engine, the network-edit monitor that keeps the
// leaf-node cache (C5) current, and page-cache-aware value storage,
// offering invalidation on authored-value changes and on time changes
// per spec §4.7. Everything this package persists across calls (time
// samples, page-cache entries, network topology) is explicitly owned
// by the collaborator that constructs a Runtime, never by the core
// packages underneath it.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/dagcore/internal/telemetry"
	"github.com/flowmesh/dagcore/pkg/depcache"
	"github.com/flowmesh/dagcore/pkg/errlog"
	"github.com/flowmesh/dagcore/pkg/leafcache"
	"github.com/flowmesh/dagcore/pkg/leafindex"
	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
	"github.com/flowmesh/dagcore/pkg/schedule"
	"github.com/flowmesh/dagcore/pkg/stats"
	"github.com/flowmesh/dagcore/pkg/texec"
)

// Runtime owns the main executor, the network-edit monitor keeping the
// leaf-node cache current, and page-cache-aware value storage.
type Runtime struct {
	net       *network.Network
	engine    *texec.Engine
	leafCache *leafcache.Cache
	pageCache PageCache
	recorder  *stats.Recorder
	logger    *telemetry.Logger

	topoVersion int64 // atomic, bumped by InvalidateTopologicalState
	engineOpts  []texec.Option

	mu    sync.RWMutex // guards times; ComputeValues holds it for reading, so SetTime waits out a running evaluation (network edits do not take it)
	times map[mask.OutputRef]time.Time
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithLogger overrides the default telemetry logger.
func WithLogger(l *telemetry.Logger) Option { return func(rt *Runtime) { rt.logger = l } }

// WithStatsShards sizes the execution-stats recorder for n concurrent
// workers; defaults to 8.
func WithStatsShards(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.recorder = stats.NewRecorder(n)
		}
	}
}

// WithEngineOptions passes additional texec.Options through to the
// owned executor (e.g. WithConcurrencyLimit).
func WithEngineOptions(opts ...texec.Option) Option {
	return func(rt *Runtime) { rt.engineOpts = append(rt.engineOpts, opts...) }
}

// New builds a runtime over net: an executor sized for bufferCap
// elements per output, with the leaf-node cache (C3/C4/C5 layered)
// registered as net's edit monitor, and pageCache backing time-scoped
// persisted values (nil disables page-cache invalidation entirely).
func New(net *network.Network, bufferCap int, pageCache PageCache, opts ...Option) *Runtime {
	indexer := leafindex.New()
	dep := depcache.New(net)
	lc := leafcache.New(net, indexer, dep)

	rt := &Runtime{
		net:       net,
		leafCache: lc,
		pageCache: pageCache,
		logger:    telemetry.Default(),
		recorder:  stats.NewRecorder(8),
		times:     make(map[mask.OutputRef]time.Time),
	}
	for _, o := range opts {
		o(rt)
	}

	if bufferCap < 1 {
		bufferCap = 1
	}
	engineOpts := append([]texec.Option{texec.WithStatsRecorder(rt.recorder)}, rt.engineOpts...)
	rt.engine = texec.New(net, bufferCap, engineOpts...)

	net.AddMonitor(&cacheMonitor{cache: lc})
	return rt
}

// SetTime stores newTime for timeNode, reporting whether it actually
// changed and what the previous value was. Per spec §4.7 this only
// stores the value — it never invalidates on its own; AdvanceTime runs
// the full time-change pipeline (gather, diff, invalidate) on top of
// this primitive.
func (rt *Runtime) SetTime(timeNode mask.OutputRef, newTime time.Time) (changed bool, oldTime time.Time) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	old, had := rt.times[timeNode]
	rt.times[timeNode] = newTime
	if !had {
		return true, time.Time{}
	}
	return !old.Equal(newTime), old
}

// CurrentTime returns the last time SetTime stored for timeNode.
func (rt *Runtime) CurrentTime(timeNode mask.OutputRef) (time.Time, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	t, ok := rt.times[timeNode]
	return t, ok
}

// InvalidateTopologicalState bumps a counter collaborators can compare
// against a previously observed value to force a downstream rebuild
// (e.g. an externally cached topological ordering of the network).
func (rt *Runtime) InvalidateTopologicalState() int64 {
	return atomic.AddInt64(&rt.topoVersion, 1)
}

// TopologicalVersion returns the counter InvalidateTopologicalState
// bumps.
func (rt *Runtime) TopologicalVersion() int64 { return atomic.LoadInt64(&rt.topoVersion) }

// InvalidateExecutor invalidates every output reachable from request,
// found via the leaf-node cache's dependency-cache-backed traversal
// (spec §4.7's "invalidates all values dependent on the request"): the
// next ComputeValues recomputes every one of them from scratch.
func (rt *Runtime) InvalidateExecutor(request mask.MaskedOutputVector) []mask.OutputRef {
	outs := rt.leafCache.FindOutputs(request, false)
	refs := make([]mask.OutputRef, 0, len(request)+len(outs))
	for _, o := range request {
		refs = append(refs, o.Output)
	}
	for _, o := range outs {
		refs = append(refs, o.Output)
	}
	rt.engine.Invalidate(refs)
	return refs
}

// InvalidatePageCache scopes invalidation to persisted entries for
// every output request names whose stored interval overlaps interval,
// leaving the executor's own in-memory buffers untouched — the
// page-cache-only half of a time-bounded invalidation (spec §4.7).
func (rt *Runtime) InvalidatePageCache(ctx context.Context, request mask.MaskedOutputVector, interval TimeInterval) error {
	if rt.pageCache == nil {
		return nil
	}
	for _, o := range request {
		if err := rt.pageCache.Invalidate(ctx, outputCacheKey(o.Output), interval); err != nil {
			return err
		}
	}
	return nil
}

// DeleteData invalidates every output of node, in both the executor and
// the page cache, as if node had never been evaluated.
func (rt *Runtime) DeleteData(ctx context.Context, node *network.Node) error {
	refs := make([]mask.OutputRef, len(node.Outputs))
	for i := range node.Outputs {
		refs[i] = mask.OutputRef{NodeIndex: node.ID.Index(), OutputIndex: uint16(i)}
	}
	rt.engine.Invalidate(refs)
	if rt.pageCache == nil {
		return nil
	}
	for _, r := range refs {
		if err := rt.pageCache.Delete(ctx, outputCacheKey(r)); err != nil {
			return err
		}
	}
	return nil
}

// Result is what ComputeValues returns: the resolved outputs in request
// order, any errors raised by compute callbacks, and a snapshot of
// execution stats recorded during the run.
type Result struct {
	RequestID string
	Outputs   []mask.MaskedOutput
	Errors    []error
	Stats     stats.Snapshot
}

// ComputeValues runs sched against request on the owned executor,
// logging any per-node warnings through the runtime's telemetry logger
// and returning the resolved outputs alongside an execution-stats
// snapshot (spec §4.7's computeValues(schedule, request)).
func (rt *Runtime) ComputeValues(ctx context.Context, sched schedule.Schedule, request mask.MaskedOutputVector) Result {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	logger := errlog.NewLogger()
	outputs := make([]mask.MaskedOutput, len(request))
	rt.engine.RunSchedule(ctx, sched, request, logger, func(out mask.MaskedOutput, idx int) {
		outputs[idx] = out
	})

	for node, warning := range logger.ReportWarnings() {
		rt.logger.WarnContext(ctx, "node produced warnings", "node", node, "warnings", warning)
	}

	return Result{
		RequestID: uuid.NewString(),
		Outputs:   outputs,
		Errors:    rt.engine.Errors(),
		Stats:     rt.recorder.Aggregate(),
	}
}

// Engine exposes the owned executor: collaborators (and the
// speculation package, since *texec.Engine satisfies
// speculation.WriteBackTarget) read published values directly.
func (rt *Runtime) Engine() *texec.Engine { return rt.engine }

// LeafCache exposes the owned leaf-node cache for collaborators that
// query it directly (FindNodesForMask, Version).
func (rt *Runtime) LeafCache() *leafcache.Cache { return rt.leafCache }

// Network returns the network this runtime owns evaluation over.
func (rt *Runtime) Network() *network.Network { return rt.net }

func outputCacheKey(o mask.OutputRef) string {
	return fmt.Sprintf("%d:%d", o.NodeIndex, o.OutputIndex)
}
