// Package stats implements Execution Stats (C11): a per-thread event
// log the parallel executor engine appends to during a run, plus
// hierarchical aggregation into a per-node/per-kind Snapshot. The event
// shape generalizes the teacher's engine.ExecutionEvent
// (pkg/engine/event.go) from workflow-lifecycle fields (WaveIndex,
// WorkflowID, ...) to dagcore's task kinds, and the per-thread sharding
// follows spec design note 5 ("thread-locals for per-thread bit
// accumulators... an explicit thread-local registry whose combine step
// is an associative reduction over the set of live workers") applied to
// counters instead of bit sets.
package stats

import (
	"sync"
	"time"

	"github.com/flowmesh/dagcore/pkg/network"
)

// EventKind distinguishes the task families spec §4.5 enumerates, plus
// two cross-cutting outcomes (interruption, callback error).
type EventKind int

const (
	EventCompute EventKind = iota
	EventInputs
	EventPrep
	EventKeep
	EventLeaf
	EventInterrupted
	EventCallbackError
)

func (k EventKind) String() string {
	switch k {
	case EventCompute:
		return "compute"
	case EventInputs:
		return "inputs"
	case EventPrep:
		return "prep"
	case EventKeep:
		return "keep"
	case EventLeaf:
		return "leaf"
	case EventInterrupted:
		return "interrupted"
	case EventCallbackError:
		return "callback_error"
	default:
		return "unknown"
	}
}

// Event is one recorded occurrence: a task of Kind finished (or was
// interrupted/errored) for Node, taking Duration.
type Event struct {
	Kind      EventKind
	Node      network.NodeID
	Duration  time.Duration
	Timestamp time.Time
}

// shard is one worker's local event log. Workers never contend with
// each other; only Snapshot walks every shard.
type shard struct {
	mu     sync.Mutex
	events []Event
}

// Recorder is a sharded per-thread event log. One shard per concurrent
// worker avoids the lock contention a single shared slice would incur
// under the parallel executor engine's worker pool.
//
// A Recorder can also own sub-recorders: when a node's own evaluation
// recurses into a nested sub-evaluation (the speculation sub-executor
// is the one caller in this repo), that nested evaluation gets its own
// child Recorder rather than folding its events into the parent's
// shards directly — mirroring VdfExecutionStats::AddSubStat, which
// queues a whole child stats object onto the parent instead of
// merging its events in place. Aggregate walks the tree the way
// VdfExecutionStatsProcessor::Process walks _subStats.
type Recorder struct {
	mu     sync.RWMutex
	shards []*shard

	invokingNode *network.NodeID // nil for a top-level Recorder
	subMu        sync.Mutex
	subRecorders []*Recorder
}

// NewRecorder returns an empty recorder sized for shardCount
// concurrent workers (the engine's concurrencyLimit is the natural
// choice; 1 if non-positive).
func NewRecorder(shardCount int) *Recorder {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{}
	}
	return &Recorder{shards: shards}
}

// NewSubRecorder creates a child Recorder for a nested sub-evaluation
// invoked by invokingNode, registers it on r, and returns it. shardCount
// follows the same convention as NewRecorder (1 if non-positive);
// nested sub-evaluations are typically single-threaded, so callers
// usually pass 1.
func (r *Recorder) NewSubRecorder(shardCount int, invokingNode network.NodeID) *Recorder {
	sub := NewRecorder(shardCount)
	sub.invokingNode = &invokingNode

	r.subMu.Lock()
	r.subRecorders = append(r.subRecorders, sub)
	r.subMu.Unlock()
	return sub
}

// Record appends e to the shard owned by worker workerID, wrapping into
// range so any worker index is accepted.
func (r *Recorder) Record(workerID int, e Event) {
	r.mu.RLock()
	n := len(r.shards)
	r.mu.RUnlock()
	if n == 0 {
		return
	}
	s := r.shards[((workerID%n)+n)%n]
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// NodeStats is the hierarchical aggregate for one node: counts and
// total duration per event kind.
type NodeStats struct {
	Counts     map[EventKind]int
	Durations  map[EventKind]time.Duration
	TotalCount int
}

// Snapshot is the result of Aggregate: per-node stats plus repo-wide
// totals, plus one nested Snapshot per sub-recorder (spec C11's
// "hierarchical aggregation"). SubStats is empty for a leaf recorder.
type Snapshot struct {
	PerNode      map[network.NodeID]*NodeStats
	TotalCount   int
	ByKind       map[EventKind]int
	InvokingNode *network.NodeID
	SubStats     []Snapshot
}

// Aggregate reduces every shard's event log into a Snapshot, then
// recurses into every registered sub-recorder. Each level is the
// "associative reduction over the set of live workers" design note 5
// calls for: a shard is folded independently, then the partials are
// merged, so Aggregate never needs to hold every shard's lock at once
// — and a sub-recorder's own Aggregate runs the same way one level
// down, exactly as VdfExecutionStatsProcessor::Process recurses
// _ProcessEvents then _ProcessSubStats for every nested stats object.
func (r *Recorder) Aggregate() Snapshot {
	r.mu.RLock()
	shards := make([]*shard, len(r.shards))
	copy(shards, r.shards)
	r.mu.RUnlock()

	snap := Snapshot{
		PerNode:      make(map[network.NodeID]*NodeStats),
		ByKind:       make(map[EventKind]int),
		InvokingNode: r.invokingNode,
	}

	for _, s := range shards {
		s.mu.Lock()
		events := make([]Event, len(s.events))
		copy(events, s.events)
		s.mu.Unlock()

		for _, e := range events {
			ns, ok := snap.PerNode[e.Node]
			if !ok {
				ns = &NodeStats{Counts: make(map[EventKind]int), Durations: make(map[EventKind]time.Duration)}
				snap.PerNode[e.Node] = ns
			}
			ns.Counts[e.Kind]++
			ns.Durations[e.Kind] += e.Duration
			ns.TotalCount++
			snap.ByKind[e.Kind]++
			snap.TotalCount++
		}
	}

	r.subMu.Lock()
	subs := make([]*Recorder, len(r.subRecorders))
	copy(subs, r.subRecorders)
	r.subMu.Unlock()

	for _, sub := range subs {
		snap.SubStats = append(snap.SubStats, sub.Aggregate())
	}
	return snap
}

// FlattenByKind folds snap and every nested sub-recorder's totals into
// a single per-kind count map — the "collapse the hierarchy back to a
// flat summary" operation a Prometheus exporter needs, since a counter
// series has no notion of nesting.
func (snap Snapshot) FlattenByKind() map[EventKind]int {
	flat := make(map[EventKind]int, len(snap.ByKind))
	for k, v := range snap.ByKind {
		flat[k] += v
	}
	for _, sub := range snap.SubStats {
		for k, v := range sub.FlattenByKind() {
			flat[k] += v
		}
	}
	return flat
}

// Reset clears every shard's event log and recurses into every
// sub-recorder, keeping shard allocation throughout.
func (r *Recorder) Reset() {
	r.mu.RLock()
	for _, s := range r.shards {
		s.mu.Lock()
		s.events = nil
		s.mu.Unlock()
	}
	r.mu.RUnlock()

	r.subMu.Lock()
	subs := make([]*Recorder, len(r.subRecorders))
	copy(subs, r.subRecorders)
	r.subMu.Unlock()

	for _, sub := range subs {
		sub.Reset()
	}
}
