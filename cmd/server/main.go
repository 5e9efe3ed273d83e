package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/cache"
	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/config"
	"github.com/rpattn/querygate/internal/db"
	"github.com/rpattn/querygate/internal/executor"
	"github.com/rpattn/querygate/internal/export"
	"github.com/rpattn/querygate/internal/gateway"
	"github.com/rpattn/querygate/internal/middleware"
	"github.com/rpattn/querygate/internal/planner"
	"github.com/rpattn/querygate/internal/queryplan"
	"github.com/rpattn/querygate/internal/repository"
	"github.com/rpattn/querygate/internal/store"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Load the catalog once at boot; entity definitions change via deploys,
	// not at runtime.
	defRepo := repository.NewEntityDefinitionRepository(conn.Pool)
	defs, err := defRepo.List(ctx)
	if err != nil {
		log.Fatalf("Failed to load entity definitions: %v", err)
	}
	cat := catalog.NewStatic(defs)
	log.Printf("Loaded %d entity definitions", len(defs))

	recordStore := store.NewPostgres(conn.Pool, cat)
	exec := executor.New(recordStore, cat)

	resolver := queryplan.NewResolver(cat)
	cursors := queryplan.NewCursorCodec([]byte(cfg.Gateway.CursorSecret), cfg.Gateway.CursorTTL)
	normalizer := queryplan.NewNormalizer(cat, resolver, cursors)
	validator := queryplan.NewValidator(cat, resolver, exec)
	estimator := queryplan.NewEstimator(exec)
	results := cache.New(cfg.Cache.Size, cfg.Cache.TTL)

	gw := gateway.New(
		normalizer, validator, estimator, exec, cursors, results,
		planner.New(cat),
		cfg.Gateway.MaxConcurrent, cfg.Gateway.AcquireTimeout,
	)

	jobRepo := repository.NewExportJobRepository(conn.Pool)
	exporter := export.NewService(jobRepo, gw)
	gw.SetExporter(exporter)

	// Queued jobs are swept on a schedule so an enqueue surviving a crash
	// still runs.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Export.SweepSchedule, func() {
		exporter.ProcessQueued(ctx)
	}); err != nil {
		log.Fatalf("Failed to schedule export sweeper: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	wrap := func(h http.Handler) http.Handler {
		return corsHandler.Handler(middleware.LoggingMiddleware(auth.Middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("/query/", wrap(gateway.NewHTTPHandler(gw)))
	mux.Handle("/exports/", wrap(export.NewHTTPHandler(exporter)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting query gateway on :%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}
