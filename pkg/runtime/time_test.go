package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
)

type fakeTimeSource struct {
	differing map[mask.OutputRef]bool
}

func (s fakeTimeSource) DiffersAt(output mask.OutputRef, _ time.Time) bool {
	return s.differing[output]
}

func TestAdvanceTimeInvalidatesOnlyDifferingDependents(t *testing.T) {
	net := network.New()
	a := singleOutputNode(net, "a", func(ctx network.ComputeContext) error {
		ctx.SetOutput("out", "a-value", mask.All(1))
		return nil
	})
	b := singleOutputNode(net, "b", func(ctx network.ComputeContext) error {
		ctx.SetOutput("out", "b-value", mask.All(1))
		return nil
	})
	refA, refB := outRefOf(a), outRefOf(b)

	rt := New(net, 1, nil)
	timeNode := mask.OutputRef{NodeIndex: 999}
	// Start from a non-zero time: a move away from the zero time marks
	// every dependent as differing.
	rt.SetTime(timeNode, mustTime(t, "2025-12-01T00:00:00Z"))

	rt.ComputeValues(context.Background(), trivialSchedule(refA), mask.MaskedOutputVector{{Output: refA, Mask: mask.All(1)}})
	rt.ComputeValues(context.Background(), trivialSchedule(refB), mask.MaskedOutputVector{{Output: refB, Mask: mask.All(1)}})
	require.False(t, rt.Engine().Buffer(refA).ReadPublic().Valid.IsEmpty())
	require.False(t, rt.Engine().Buffer(refB).ReadPublic().Valid.IsEmpty())

	source := fakeTimeSource{differing: map[mask.OutputRef]bool{refA: true}}
	changed, _, err := rt.AdvanceTime(context.Background(), timeNode, mustTime(t, "2026-01-01T00:00:00Z"), source, []mask.OutputRef{refA, refB})
	require.NoError(t, err)
	require.True(t, changed)

	require.True(t, rt.Engine().Buffer(refA).ReadPublic().Valid.IsEmpty(), "differing dependent must be invalidated")
	require.False(t, rt.Engine().Buffer(refB).ReadPublic().Valid.IsEmpty(), "non-differing dependent must survive")
}

func TestAdvanceTimeNoOpWhenTimeUnchanged(t *testing.T) {
	rt := New(network.New(), 1, nil)
	timeNode := mask.OutputRef{NodeIndex: 1}
	ts := mustTime(t, "2026-01-01T00:00:00Z")

	changed, _, err := rt.AdvanceTime(context.Background(), timeNode, ts, fakeTimeSource{}, nil)
	require.NoError(t, err)
	require.True(t, changed, "first call always reports a change from the zero time")

	changed, _, err = rt.AdvanceTime(context.Background(), timeNode, ts, fakeTimeSource{}, nil)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestAdvanceTimeTreatsDefaultTimeCrossingAsAllDiffer(t *testing.T) {
	rt := New(network.New(), 1, nil)
	timeNode := mask.OutputRef{NodeIndex: 1}
	dependents := []mask.OutputRef{{NodeIndex: 1}, {NodeIndex: 2}, {NodeIndex: 3}}

	source := fakeTimeSource{differing: map[mask.OutputRef]bool{}} // nothing reports differing
	changed, _, err := rt.AdvanceTime(context.Background(), timeNode, mustTime(t, "2026-01-01T00:00:00Z"), source, dependents)
	require.NoError(t, err)
	require.True(t, changed)

	for _, d := range dependents {
		require.True(t, rt.Engine().Buffer(d).ReadPublic().Valid.IsEmpty())
	}
}

func TestCronTimePlaybackTickAdvancesTime(t *testing.T) {
	rt := New(network.New(), 1, nil)
	timeNode := mask.OutputRef{NodeIndex: 1}

	p, err := NewCronTimePlayback(rt, "* * * * *", timeNode, fakeTimeSource{}, nil, func(t time.Time) time.Time {
		return t.Add(time.Hour)
	})
	require.NoError(t, err)

	p.tick()
	first, ok := rt.CurrentTime(timeNode)
	require.True(t, ok)

	p.tick()
	second, _ := rt.CurrentTime(timeNode)
	require.True(t, second.After(first))
}
