// Command dagcore-demo wires the whole stack together over a small
// three-node chain (time -> doubled -> sink leaf) and drives it through
// one computeValues call, then optionally starts cron-driven time
// playback if DAGCORE_PLAYBACK_CRON is set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/dagcore/internal/config"
	"github.com/flowmesh/dagcore/internal/telemetry"
	"github.com/flowmesh/dagcore/pkg/mask"
	"github.com/flowmesh/dagcore/pkg/network"
	"github.com/flowmesh/dagcore/pkg/runtime"
	"github.com/flowmesh/dagcore/pkg/schedule"
	"github.com/flowmesh/dagcore/pkg/texec"
)

func main() {
	engineCfg, err := config.LoadEngineConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	runtimeCfg, err := config.LoadRuntimeConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	telemetry.SetDefault(telemetry.New(telemetry.Config{Level: engineCfg.LogLevel, Format: engineCfg.LogFormat}))
	logger := telemetry.Default()

	net, timeRef, doubledRef, _ := buildChain()

	pageCache, err := buildPageCache(runtimeCfg)
	if err != nil {
		logger.Error("failed to build page cache", "error", err)
		os.Exit(1)
	}

	var opts []runtime.Option
	if engineCfg.ConcurrencyLimit > 0 {
		opts = append(opts, runtime.WithEngineOptions(texec.WithConcurrencyLimit(engineCfg.ConcurrencyLimit)))
	}
	rt := runtime.New(net, 64, pageCache, opts...)

	sched := buildSchedule(timeRef, doubledRef)
	request := mask.MaskedOutputVector{{Output: doubledRef, Mask: mask.All(1)}}

	result := rt.ComputeValues(context.Background(), sched, request)
	dump, err := runtime.DumpResult(result)
	if err != nil {
		logger.Error("failed to dump result", "error", err)
	} else {
		fmt.Println(dump)
	}

	if runtimeCfg.PlaybackCronSpec == "" {
		return
	}
	runPlayback(rt, runtimeCfg, timeRef, doubledRef, sched)
}

// buildChain wires time -> doubled -> sink: doubled formats the time
// node's value into a string and sink is a leaf node, so time playback
// has something to perturb.
func buildChain() (net *network.Network, timeRef, doubledRef mask.OutputRef, leafID network.NodeID) {
	net = network.New()

	timeNode := net.CreateNode(&network.Node{
		Name:    "time",
		Outputs: []network.OutputSpec{{Name: "out", Type: "time.Time"}},
		Compute: func(ctx network.ComputeContext) error {
			ctx.SetOutput("out", time.Now(), mask.All(1))
			return nil
		},
	})
	timeRef = mask.OutputRef{NodeIndex: timeNode.ID.Index(), OutputIndex: 0}

	doubled := net.CreateNode(&network.Node{
		Name:   "doubled",
		Inputs: []network.InputSpec{{Name: "in", Type: "time.Time", Mode: network.ReadOnly}},
		Outputs: []network.OutputSpec{{Name: "out", Type: "string"}},
		Compute: func(ctx network.ComputeContext) error {
			v, _ := ctx.Input("in")
			ctx.SetOutput("out", fmt.Sprintf("observed at %v", v), mask.All(1))
			return nil
		},
	})
	doubledRef = mask.OutputRef{NodeIndex: doubled.ID.Index(), OutputIndex: 0}

	if _, err := net.Connect(timeRef, network.InputRef{NodeIndex: doubled.ID.Index(), InputIndex: 0}, mask.All(1)); err != nil {
		panic(err)
	}

	leaf := network.NewLeafNode(0, "sink")
	leaf = net.CreateNode(leaf)
	if _, err := net.Connect(doubledRef, network.InputRef{NodeIndex: leaf.ID.Index(), InputIndex: 0}, mask.All(1)); err != nil {
		panic(err)
	}

	return net, timeRef, doubledRef, leaf.ID
}

func buildSchedule(timeRef, doubledRef mask.OutputRef) schedule.Schedule {
	sched := schedule.NewMemSchedule()

	timeOID := sched.AddOutput(timeRef, 0, mask.All(1), mask.All(1), mask.All(1), true)
	sched.SetComputeTasks(timeOID, 0)

	doubledOID := sched.AddOutput(doubledRef, 1, mask.All(1), mask.All(1), mask.All(1), true)
	sched.SetComputeTasks(doubledOID, 1)
	sched.SetInputsTask(1, 0)
	sched.SetDependencyComputeTask(0, 0)
	sched.SetPrereqs(0, 0)

	return sched
}

func buildPageCache(cfg config.RuntimeConfig) (runtime.PageCache, error) {
	if cfg.PageCacheBackend != "redis" {
		return runtime.NewMemoryPageCache(10_000), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("dagcore-demo: connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	return runtime.NewRedisPageCache(client, time.Hour), nil
}

func runPlayback(rt *runtime.Runtime, cfg config.RuntimeConfig, timeRef, doubledRef mask.OutputRef, sched schedule.Schedule) {
	logger := telemetry.Default()

	source := alwaysDiffersSource{}
	playback, err := runtime.NewCronTimePlayback(rt, cfg.PlaybackCronSpec, timeRef, source, []mask.OutputRef{doubledRef}, func(t time.Time) time.Time {
		return time.Now()
	})
	if err != nil {
		logger.Error("failed to start time playback", "error", err)
		return
	}
	playback.Start()
	defer playback.Stop()

	logger.Info("time playback started", "spec", cfg.PlaybackCronSpec)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}

// alwaysDiffersSource treats every tick as a real change, appropriate
// for a demo driven by wall-clock time rather than recorded samples.
type alwaysDiffersSource struct{}

func (alwaysDiffersSource) DiffersAt(mask.OutputRef, time.Time) bool { return true }
