// jobscout match-service — matches candidate profiles against a TTL-cached
// pool of job postings and returns ranked recommendations.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"jobscout/match-service/internal/api"
	"jobscout/match-service/internal/config"
	"jobscout/match-service/internal/coordinator"
	"jobscout/match-service/internal/embedding"
	"jobscout/match-service/internal/jobsource"
	"jobscout/match-service/internal/logger"
	"jobscout/match-service/internal/match"
	"jobscout/match-service/internal/store"
	"jobscout/match-service/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(cfg.LogJSON, cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	switch cfg.DatabaseDriver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		st, err = store.OpenSQLite(cfg.DatabaseURL)
	}
	if err != nil {
		zl.Fatal("store init failed", zap.String("driver", cfg.DatabaseDriver), zap.Error(err))
	}
	defer st.Close()

	var embedder embedding.Embedder = embedding.NewOllamaClient(cfg.EmbedderURL, cfg.EmbedderModel)
	if cfg.RedisURL != "" {
		cached, err := embedding.NewCachedEmbedder(ctx, embedder, cfg.RedisURL, cfg.EmbedderModel, cfg.CacheTTL, zl)
		if err != nil {
			zl.Fatal("redis init failed", zap.Error(err))
		}
		defer cached.Close()
		embedder = cached
	}

	embStore := embedding.NewStore(st, embedder, cfg.EmbeddingDim, zl)
	source := jobsource.NewJSearchClient(cfg.JSearchAPIKey, cfg.JSearchHost, zl)
	coord := coordinator.New(st, embStore, source, cfg.CacheTTL, cfg.FetchTimeout, zl)
	matcher := match.New(coord, embStore, cfg.TopK, zl)

	sw := sweeper.New(st, coord.Locked, cfg.SweepSpec, zl)
	if err := sw.Start(ctx); err != nil {
		zl.Fatal("sweeper start failed", zap.Error(err))
	}
	defer sw.Stop()

	srv := api.New(matcher, st, zl)

	errCh := make(chan error, 1)
	go func() {
		zl.Info("http server listening", zap.String("port", cfg.Port))
		errCh <- srv.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			zl.Fatal("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			zl.Warn("shutdown error", zap.Error(err))
		}
	}
}
