package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/evoswarm/evoswarm/internal/api"
	"github.com/evoswarm/evoswarm/internal/config"
	"github.com/evoswarm/evoswarm/internal/gateway"
	"github.com/evoswarm/evoswarm/internal/knowledge"
	"github.com/evoswarm/evoswarm/internal/metrics"
	"github.com/evoswarm/evoswarm/internal/planner"
	"github.com/evoswarm/evoswarm/internal/swarm"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	seed := flag.Int64("seed", time.Now().UnixNano(), "randomness seed for policies and mutation")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger("orchestrator")

	logger.Info().
		Str("environment", cfg.App.Environment).
		Dur("tick_interval", cfg.Tick.Interval).
		Msg("Starting evoswarm orchestrator")

	seeds, err := swarm.LoadSeeds(cfg.SeedFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SeedFile).Msg("Failed to load lineage seeds")
	}

	// Knowledge store: Redis when reachable, in-memory otherwise.
	var store knowledge.Store
	if redisStore, err := knowledge.NewRedisStore(cfg.Redis, logger); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, using in-memory knowledge store")
		store = knowledge.NewMemoryStore()
	} else {
		store = redisStore
	}
	defer store.Close()
	source := knowledge.NewSource(store, logger)

	// Event fan-out: websocket hub always, NATS gateway when enabled.
	hub := api.NewHub()
	go hub.Run()

	var gw *gateway.Gateway
	if cfg.NATS.Enabled {
		gw, err = gateway.New(cfg.NATS, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect gateway")
		}
		defer gw.Close()
	}

	events := func(evt swarm.Event) {
		hub.BroadcastEvent(evt)
		if gw != nil {
			gw.PublishEvent(evt)
		}
	}

	meta := swarm.NewMeta(cfg, seeds.Lineages, source, events, *seed, logger)

	// Wire the bundled skill catalog.
	for _, binding := range defaultBindings() {
		sa := swarm.NewSkillAgent(binding.agentID, binding.tool, meta.Bus(), logger)
		if err := meta.AddSkillAgent(binding.agentID, sa, binding.caps); err != nil {
			logger.Fatal().Err(err).Str("skill", binding.agentID).Msg("Failed to register skill")
		}
	}

	// The planner rides the same executor path as every other capability.
	plannerClient := planner.NewHTTPPlanner(cfg.Planner, planner.StaticPlanner{}, logger)
	planCap := planner.AsCapability(plannerClient, func() []planner.CatalogEntry {
		var catalog []planner.CatalogEntry
		for _, name := range meta.Registry().Names() {
			cap, err := meta.Registry().Resolve(name)
			if err != nil {
				continue
			}
			params := make([]string, 0, len(cap.Schema))
			for p := range cap.Schema {
				params = append(params, p)
			}
			catalog = append(catalog, planner.CatalogEntry{
				Name:    cap.Name,
				Version: cap.Version.String(),
				Params:  params,
			})
		}
		return catalog
	})
	if err := meta.Registry().Register(planCap); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register planner capability")
	}

	if err := meta.SeedPopulation(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed population")
	}

	if gw != nil {
		if err := gw.SubscribeGoals(meta); err != nil {
			logger.Fatal().Err(err).Msg("Failed to subscribe goal intake")
		}
	}

	metricsServer := metrics.NewServer(cfg.Monitoring.MetricsPort, logger)
	if err := metricsServer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start metrics server")
	}

	apiServer := api.NewServer(cfg.API, meta, hub)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := meta.Run(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("tick loop error: %w", err)
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		logger.Error().Err(err).Msg("Orchestrator error")
	}

	logger.Info().Msg("Initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	log.Info().Uint64("tick", meta.CurrentTick()).Msg("Orchestrator shutdown complete")
}
