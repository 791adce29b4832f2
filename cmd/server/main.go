package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/narrative-engine/config"
	"github.com/user/narrative-engine/internal/api"
	"github.com/user/narrative-engine/internal/database"
	"github.com/user/narrative-engine/internal/interfaces"
	"github.com/user/narrative-engine/internal/logger"
	"github.com/user/narrative-engine/internal/narrative"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "./config/config.json", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to apply environment: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Set up logger
	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Load narrative content
	registry, err := narrative.LoadRegistry(cfg.Content.Dir)
	if err != nil {
		log.Fatal("Failed to load narrative content", zap.String("dir", cfg.Content.Dir), zap.Error(err))
	}
	log.Info("Loaded narrative content",
		zap.Int("quests", len(registry.QuestIDs())),
		zap.Int("dialogues", len(registry.DialogueIDs())))

	// Open the session repository
	repo, closeRepo, err := openRepository(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open session repository", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer closeRepo()

	// Initialize engine
	engine := narrative.NewEngine(cfg, registry, repo)
	engine.SetLogger(log)

	loaded, err := engine.Store().Preload(context.Background())
	if err != nil {
		log.Fatal("Failed to preload narrative records", zap.Error(err))
	}
	log.Info("Preloaded narrative records", zap.Int("count", loaded))

	dispatcher, err := narrative.NewDispatcher(cfg.Delivery)
	if err != nil {
		log.Fatal("Failed to create delivery dispatcher", zap.Error(err))
	}
	for _, target := range []types.DeltaTarget{types.TargetInventory, types.TargetReputation, types.TargetWorld} {
		dispatcher.Register(target, &narrative.LoggingDeliverer{
			Target: target,
			Logger: log.Named("collaborator"),
		})
	}
	engine.SetDispatcher(dispatcher)

	hub := api.NewHub()
	hub.Logger = log.Named("stream")
	engine.SetEventSink(narrative.MultiSink{
		&narrative.LogSink{Logger: log.Named("events")},
		hub,
	})

	retry := narrative.NewRetryScheduler(engine, cfg.Delivery.RetryEvery())
	retry.Start()
	defer retry.Stop()

	// Set up HTTP server
	apiServer := api.NewServer(engine, hub, time.Duration(cfg.Server.RequestTimeout)*time.Second)
	apiServer.Logger = log.Named("api")
	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: apiServer.Router(),
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	waitForShutdown(log, server)
}

// openRepository returns the configured repository and its closer. The
// memory driver keeps records in process only.
func openRepository(cfg config.DatabaseConfig) (interfaces.SessionRepository, func(), error) {
	switch cfg.Driver {
	case "memory":
		return nil, func() {}, nil
	case "file":
		repo, err := narrative.NewFileSessionRepository(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	default:
		db, err := database.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		return database.NewSessionRepository(db), func() { _ = db.Close() }, nil
	}
}

func waitForShutdown(log *zap.Logger, server *http.Server) {
	// Set up channel for shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	log.Info("Shutting down")
}
