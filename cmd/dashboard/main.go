package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/vost-pt/meios-dashboard/internal/api"
	"github.com/vost-pt/meios-dashboard/internal/broadcast"
	"github.com/vost-pt/meios-dashboard/internal/config"
	"github.com/vost-pt/meios-dashboard/internal/ingestion"
	"github.com/vost-pt/meios-dashboard/internal/logging"
	"github.com/vost-pt/meios-dashboard/internal/pipeline"
	"github.com/vost-pt/meios-dashboard/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "topology", cfg.Pipeline.Topology)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := broadcast.New[*pipeline.Snapshot]()

	var (
		source  pipeline.Source
		dataset pipeline.DatasetStore
		ingest  pipeline.Source
		db      *repository.SQLiteDB
	)
	switch cfg.Pipeline.Topology {
	case config.TopologyStore:
		db, err = repository.NewSQLiteDB(cfg.DB.Path)
		if err != nil {
			logging.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		if n, err := db.Count(ctx); err == nil {
			slog.Info("store opened", "path", cfg.DB.Path, "incidents", n)
		}

		source = ingestion.NewStoreFetcher(db, cfg.Pipeline.StoreLimit)
		if cfg.Ingest.Enabled {
			ingest = feedSource(cfg)
		}
	default:
		source = feedSource(cfg)
		dataset = repository.NewCSVSnapshot(cfg.DB.SnapshotPath)
	}

	p := pipeline.New(source, dataset, pipeline.Options{
		RecentN:      cfg.Pipeline.RecentN,
		FetchTimeout: cfg.Feed.Timeout,
		Publisher:    broadcaster,
	})
	if err := p.Init(ctx); err != nil {
		logging.Fatalf("Failed to load dataset: %v", err)
	}

	var store ingestion.IngestStore
	if db != nil {
		store = db
	}
	mgr := ingestion.NewManager(cfg, p, ingest, store)
	mgr.Start(ctx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "X-Data-State"},
		AllowCredentials: false,
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS, "/health", "/metrics", "/api/stream"))

	handler := api.NewHandler(p, mgr, broadcaster, cfg.Pipeline.RecentN)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	broadcaster.Close() // ends open event streams

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

func feedSource(cfg *config.Config) pipeline.Source {
	if cfg.Feed.File != "" {
		return ingestion.NewFileFetcher(cfg.Feed.File)
	}
	return ingestion.NewHTTPFetcher(cfg.Feed.URL, cfg.Feed.Timeout)
}
