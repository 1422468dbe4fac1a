// Command claspd is the composition root for a CLASP Router Core process:
// it loads configuration, wires the auth and telemetry collaborators, and
// starts the background scheduler and cleanup loops. It does not itself
// open a network listener — a host embeds this package and supplies
// router.Transport implementations for whatever wire transport it runs
// (WebSocket, QUIC, Unix socket) as sessions connect.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	clue "goa.design/clue/log"

	"github.com/clasp-io/clasp/auth"
	"github.com/clasp-io/clasp/internal/telemetry"
	"github.com/clasp-io/clasp/router"
)

func main() {
	configPath := flag.String("config", "", "path to a claspd YAML config file")
	debugF := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg := router.DefaultConfig()
	if *configPath != "" {
		loaded, err := router.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("claspd: loading config: %v", err)
		}
		cfg = loaded
	}

	format := clue.FormatJSON
	if clue.IsTerminal() {
		format = clue.FormatTerminal
	}
	ctx := clue.Context(context.Background(), clue.WithFormat(format))
	if *debugF {
		ctx = clue.Context(ctx, clue.WithDebug())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	validator := auth.NewStaticValidator()
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewOTelMetrics()
	tracer := telemetry.NewOTelTracer()

	r := router.New(cfg, router.WithAuth(validator), router.WithTelemetry(logger, metrics, tracer))

	if cfg.Cluster.Enabled {
		if err := r.JoinCluster(ctx); err != nil {
			log.Fatalf("claspd: joining cluster: %v", err)
		}
		defer r.CloseCluster(context.Background())
		go func() {
			if err := r.RunClusterSchedulerLeader(ctx); err != nil {
				clue.Printf(ctx, "claspd: cluster scheduler leader stopped: %v", err)
			}
		}()
		clue.Printf(ctx, "claspd: joined cluster %q", cfg.Cluster.Name)
	} else {
		go runScheduler(ctx, r, cfg.BundleSchedulerToleranceUS)
	}
	go runCleanup(ctx, r)
	go runStats(ctx, r)

	clue.Printf(ctx, "claspd: router core ready, max_sessions=%d security_mode=%s", cfg.MaxSessions, cfg.SecurityMode)
	<-ctx.Done()
}

// runScheduler drains due bundle deadlines at the configured tolerance
// (spec §4.5, §6 bundle_scheduler_tolerance_us). Only run on a single-node
// deployment; a clustered deployment drives RunScheduler from the elected
// leader's tick instead (see RunClusterSchedulerLeader).
func runScheduler(ctx context.Context, r *router.Router, toleranceUS uint64) {
	tick := time.NewTicker(time.Duration(toleranceUS) * time.Microsecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			r.RunScheduler(uint64(now.UnixMicro()))
		}
	}
}

// runCleanup periodically evicts stale parameters and signal sightings
// (spec §6 "State cleanup collaborator", default interval 60s).
func runCleanup(ctx context.Context, r *router.Router) {
	interval := time.Minute
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			evicted := r.CleanupStale(uint64(now.UnixMicro()))
			if evicted > 0 {
				clue.Printf(ctx, "claspd: cleanup_stale evicted %d entries", evicted)
			}
		}
	}
}

// runStats prints periodic session/param/rate-limit counters from
// router.Admin (SPEC_FULL.md §B.1 "consumed by cmd/claspd to print periodic
// stats").
func runStats(ctx context.Context, r *router.Router) {
	admin := router.NewAdmin(r)
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			clue.Printf(ctx, "claspd: stats sessions=%d params=%d ratelimit_drops=%d",
				admin.SessionCount(), admin.ParamCount(), admin.RateLimitDrops())
		}
	}
}
