package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/config"
	"fibermap/core-go/internal/db"
	"fibermap/core-go/internal/engine"
	"fibermap/core-go/internal/httpapi"
	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/repository"
	"fibermap/core-go/internal/scheduler"
	"fibermap/core-go/internal/syncworker"
	"fibermap/core-go/internal/viewport"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (defaults to $MAP_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := httpapi.NewLogger("info")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := httpapi.NewLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := scheduler.NewLoop(logger)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	m := metrics.New()
	canvas := viewport.NewCanvas(cfg.Map.Width, cfg.Map.Height)
	eng := engine.New(logger, loop, m)

	var initErr error
	if err := eng.Do(ctx, func() { initErr = eng.InitializeMap(engineConfig(cfg, canvas)) }); err != nil || initErr != nil {
		logger.Fatal().Err(firstErr(err, initErr)).Msg("failed to initialize map")
	}

	deps := httpapi.Deps{Canvas: canvas, Metrics: m}

	var repo repository.Repository
	if cfg.Server.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.Server.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		repo = repository.NewPostgres(logger, pool.Queries(), pool)
		deps.DB = pool
	} else {
		mem, err := repository.LoadSeedFile(cfg.Server.SeedFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load seed file")
		}
		defer mem.Close()
		repo = mem
		logger.Info().Str("seed_file", cfg.Server.SeedFile).Msg("using in-memory repository")
	}

	worker := syncworker.New(logger, repo, eng, syncworker.Options{
		RetryInterval:  cfg.Server.RetryInterval,
		ResyncInterval: cfg.Server.ResyncInterval,
	}, m)
	go worker.Run(ctx)
	deps.Sync = worker

	h := httpapi.NewHandler(logger, eng, deps)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("backend", cfg.Render.Backend).Msg("map engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	shutdownEngine(logger, eng, loopDone)
	logger.Info().Msg("shutdown complete")
}

func engineConfig(cfg config.Config, surface viewport.Container) engine.Config {
	return engine.Config{
		Surface:    surface,
		Viewport:   cfg.Viewport(),
		Backend:    cfg.Render.Backend,
		DarkMode:   cfg.Render.DarkMode,
		Declutter:  cfg.Map.Declutter,
		InferTypes: cfg.Map.InferTypes,
		Layout:     cfg.LayoutOptions(),
		Cluster:    cfg.Cluster,
		Loader:     cfg.Loader,
		Perf:       cfg.Perf,
		Batch:      cfg.Render.Batch,
	}
}

// shutdownEngine waits for the main loop to drain and then releases the engine inline; the
// loop no longer runs callbacks once its context is cancelled.
func shutdownEngine(logger zerolog.Logger, eng *engine.Engine, loopDone <-chan struct{}) {
	select {
	case <-loopDone:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("main loop did not stop in time")
		return
	}
	eng.Destroy()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
