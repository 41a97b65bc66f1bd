package runtime

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
)

// TimeDependentSource answers, for one time-dependent output, whether
// its sample at newTime differs from the one most recently observed.
// Collaborators implement this over whatever backs their time-sampled
// data (spec's Non-goals exclude the data model itself — only the
// interface the runtime drives it through is this package's concern).
type TimeDependentSource interface {
	DiffersAt(output mask.OutputRef, newTime time.Time) bool
}

// AdvanceTime runs spec §4.7's time-change algorithm: store newTime on
// timeNode, determine which of dependents actually differs at the new
// sample (in parallel, since checking a sample is assumed cheap but
// dependents can number in the thousands), then concurrently invalidate
// the executor's buffers for the differing subset and locate the leaf
// nodes C5 must re-descend from. Returns the leaf nodes affected, or
// nil with changed=false if newTime equals the value already stored.
func (rt *Runtime) AdvanceTime(ctx context.Context, timeNode mask.OutputRef, newTime time.Time, source TimeDependentSource, dependents []mask.OutputRef) (changed bool, affected []network.NodeID, err error) {
	changed, oldTime := rt.SetTime(timeNode, newTime)
	if !changed {
		return false, nil, nil
	}

	differs := rt.buildDiffersMask(ctx, oldTime, newTime, source, dependents)

	var invalidated []mask.OutputRef
	req := make(mask.MaskedOutputVector, len(dependents))
	for i, d := range dependents {
		req[i] = mask.MaskedOutput{Output: d, Mask: mask.All(1)}
		if differs.Test(i) {
			invalidated = append(invalidated, d)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.engine.Invalidate(invalidated)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		default:
		}
		nodes, ferr := rt.leafCache.FindNodesForMask(req, differs)
		affected = nodes
		return ferr
	})
	if err := g.Wait(); err != nil {
		return true, nil, err
	}
	return true, affected, nil
}

// buildDiffersMask computes, for each index i in dependents, whether
// dependents[i] differs between oldTime and newTime, in parallel
// goroutines each owning a stripe of the slice — spec §4.7's
// "parallelized thread-local bit sets, unioned". Crossing to or from
// the zero time value is treated as every dependent differing, since a
// default-time sample has no well-defined single value to diff against.
func (rt *Runtime) buildDiffersMask(ctx context.Context, oldTime, newTime time.Time, source TimeDependentSource, dependents []mask.OutputRef) mask.Mask {
	n := len(dependents)
	if n == 0 {
		return mask.New(0)
	}
	if oldTime.IsZero() != newTime.IsZero() {
		return mask.All(n)
	}

	const workers = 4
	w := workers
	if w > n {
		w = n
	}
	partials := make([]mask.Mask, w)
	for i := range partials {
		partials[i] = mask.New(n)
	}

	g, _ := errgroup.WithContext(ctx)
	for worker := 0; worker < w; worker++ {
		worker := worker
		g.Go(func() error {
			local := partials[worker]
			for i := worker; i < n; i += w {
				if source.DiffersAt(dependents[i], newTime) {
					local.Set(i)
				}
			}
			partials[worker] = local
			return nil
		})
	}
	_ = g.Wait()

	combined := mask.New(n)
	for _, p := range partials {
		combined = mask.Union(combined, p)
	}
	return combined
}
