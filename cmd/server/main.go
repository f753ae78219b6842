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

	"mirrorhub/api"
	"mirrorhub/pkg/config"
	"mirrorhub/pkg/engine"
	"mirrorhub/pkg/engine/gdrive"
	"mirrorhub/pkg/engine/httpget"
	"mirrorhub/pkg/engine/s3up"
	"mirrorhub/pkg/models"
	"mirrorhub/pkg/orchestrator"
	"mirrorhub/pkg/state"
)

func main() {
	cfg := config.Load()

	// State backend: Postgres when configured, in-memory otherwise
	var store state.StateManager
	if cfg.DBConnectionString != "" {
		fmt.Printf("Initializing %s state backend...\n", cfg.DBDriver)
		dbStore, err := state.NewDBStateManager(cfg.DBDriver, cfg.DBConnectionString)
		if err != nil {
			log.Fatal("Failed to initialize database state manager:", err)
		}
		store = dbStore
	} else {
		fmt.Println("DB_CONNECTION_STRING not set, task state will not survive restarts")
		store = state.NewMemoryStateManager()
	}

	registry := engine.NewRegistry()
	registerEngines(registry, cfg)

	orch := orchestrator.New(orchestrator.Config{
		GlobalMax:         cfg.MaxActive,
		PerOwnerMax:       cfg.MaxPerOwner,
		WorkDir:           cfg.WorkDir,
		CancelGrace:       cfg.CancelGrace,
		RetryBackoff:      cfg.RetryBackoff,
		Retention:         cfg.Retention,
		DefaultMaxRetries: cfg.DefaultMaxRetries,
	}, registry, store)

	if err := orch.Start(); err != nil {
		log.Fatal("Failed to start orchestrator:", err)
	}

	api.Init(orch)
	router := api.SetupRouter()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		fmt.Printf("Starting mirrorhub API server on port %s...\n", cfg.Port)
		fmt.Printf("Health Check: http://localhost:%s/health\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Printf("Warning: HTTP server shutdown: %v\n", err)
	}
	orch.Shutdown()
	fmt.Println("Shutdown complete")
}

// registerEngines binds the available transfer backends. Uploaders whose
// credentials are absent stay unregistered; submissions naming them are
// rejected up front.
func registerEngines(registry *engine.Registry, cfg config.Config) {
	httpEngine := httpget.New()
	registry.RegisterDownloader(models.SourceDirect, httpEngine)
	registry.RegisterDownloader(models.SourceVideo, httpEngine)

	ctx := context.Background()

	if cfg.S3.Configured() {
		s3Engine, err := s3up.New(ctx, s3up.Config{
			Region:      cfg.S3.Region,
			EndpointURL: cfg.S3.EndpointURL,
			AccessKey:   cfg.S3.AccessKey,
			SecretKey:   cfg.S3.SecretKey,
			Timeout:     cfg.S3.Timeout,
		})
		if err != nil {
			fmt.Printf("Warning: S3 uploader unavailable: %v\n", err)
		} else {
			registry.RegisterUploader(models.DestS3, s3Engine)
		}
	}

	if cfg.Drive.Configured() {
		driveEngine, err := gdrive.New(ctx, gdrive.Config{
			ClientID:     cfg.Drive.ClientID,
			ClientSecret: cfg.Drive.ClientSecret,
			AccessToken:  cfg.Drive.AccessToken,
			RefreshToken: cfg.Drive.RefreshToken,
		})
		if err != nil {
			fmt.Printf("Warning: Google Drive uploader unavailable: %v\n", err)
		} else {
			registry.RegisterUploader(models.DestGDrive, driveEngine)
		}
	}
}
