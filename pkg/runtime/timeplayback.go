package runtime

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowmesh/dagcore/internal/telemetry"
	"github.com/flowmesh/dagcore/pkg/mask"
)

// CronTimePlayback drives AdvanceTime on a cron schedule, the
// supplemented "time playback" feature SPEC_FULL.md adds on top of
// spec.md's Runtime contract: a host that wants to replay a network
// against a rolling clock (a simulation, a backtest) schedules this
// instead of calling AdvanceTime by hand for every tick.
type CronTimePlayback struct {
	rt         *Runtime
	cron       *cron.Cron
	timeNode   mask.OutputRef
	source     TimeDependentSource
	dependents []mask.OutputRef
	clock      func(time.Time) time.Time
	logger     *telemetry.Logger
}

// NewCronTimePlayback builds a playback driver over rt. spec selects
// the cron schedule (standard five-field cron syntax); advance maps the
// previous played time to the next one (e.g. `func(t time.Time) time.Time
// { return t.Add(time.Hour) }` for hourly ticks).
func NewCronTimePlayback(rt *Runtime, spec string, timeNode mask.OutputRef, source TimeDependentSource, dependents []mask.OutputRef, advance func(time.Time) time.Time) (*CronTimePlayback, error) {
	c := cron.New()
	p := &CronTimePlayback{
		rt:         rt,
		cron:       c,
		timeNode:   timeNode,
		source:     source,
		dependents: dependents,
		clock:      advance,
		logger:     telemetry.Default(),
	}
	if _, err := c.AddFunc(spec, p.tick); err != nil {
		return nil, err
	}
	return p, nil
}

// WithLogger overrides the logger used to report tick failures.
func (p *CronTimePlayback) WithLogger(l *telemetry.Logger) *CronTimePlayback {
	p.logger = l
	return p
}

// Start begins firing ticks on the cron schedule. Stop must be called
// to release the underlying goroutine.
func (p *CronTimePlayback) Start() { p.cron.Start() }

// Stop halts future ticks without waiting; the returned context is done
// once any in-flight tick has finished.
func (p *CronTimePlayback) Stop() context.Context { return p.cron.Stop() }

func (p *CronTimePlayback) tick() {
	current, _ := p.rt.CurrentTime(p.timeNode)
	next := p.clock(current)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, _, err := p.rt.AdvanceTime(ctx, p.timeNode, next, p.source, p.dependents); err != nil {
		p.logger.Error("time playback tick failed", "error", err, "next", next)
	}
}
