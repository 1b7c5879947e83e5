package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lysyi3m/chan-comb/app/api"
	"github.com/lysyi3m/chan-comb/app/cfg"
	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/config"
	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/dedup"
	"github.com/lysyi3m/chan-comb/app/forward"
	"github.com/lysyi3m/chan-comb/app/migration"
	"github.com/lysyi3m/chan-comb/app/organize"
	"github.com/lysyi3m/chan-comb/app/retry"
	"github.com/lysyi3m/chan-comb/app/stats"
	"github.com/lysyi3m/chan-comb/app/tasks"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	appCfg, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	log.Printf("Starting Chan Comb server (version %s)...", appCfg.Version)

	// Database connection
	log.Println("Opening database...")
	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		log.Fatal("Failed to run migrations:", err)
	}
	log.Printf("Database ready (schema version %d, dirty: %v)", version, dirty)

	// Load channel configurations
	log.Printf("Loading channel configurations from %s...", appCfg.ChannelsDir)
	registry := classify.NewRegistry()
	if appCfg.TypesFile != "" {
		if err := registry.LoadFile(appCfg.TypesFile); err != nil {
			log.Fatal("Failed to load content type registry file:", err)
		}
		log.Printf("Extended content type registry from %s", appCfg.TypesFile)
	}
	configCache := config.NewConfigCache(appCfg.ChannelsDir)
	if err := configCache.Run(); err != nil {
		log.Fatal("Failed to load channel configurations:", err)
	}
	log.Printf("Loaded %d channel configurations", configCache.GetConfigCount())

	// Initialize repositories
	channelRepo := database.NewChannelRepository(db)
	ruleRepo := database.NewRuleRepository(db)
	organizeRepo := database.NewOrganizeRepository(db)
	dedupRepo := database.NewDedupRepository(db)
	scheduleRepo := database.NewScheduleRepository(db)
	queueRepo := database.NewQueueRepository(db)
	retryRepo := database.NewRetryRepository(db)
	migrationRepo := database.NewMigrationRepository(db)
	statsRepo := database.NewStatsRepository(db)

	// Initialize core components. The message source and delivery transport
	// are pluggable; without external credentials the server runs with
	// local no-op implementations.
	var source content.MessageSource = nullSource{}
	sendTimeout := time.Duration(appCfg.SendTimeout) * time.Second

	orgEngine := organize.NewEngine(organizeRepo, channelRepo, newLocalTopicManager(), sendTimeout)
	index := dedup.NewIndex(dedupRepo)
	sweeper := retry.NewSweeper(retryRepo, channelRepo, orgEngine)
	fwdScheduler := forward.NewScheduler(scheduleRepo, queueRepo, dedupRepo, organizeRepo, source)
	fwdWorker := forward.NewWorker(queueRepo, forward.NopSender{}, sendTimeout, appCfg.MaxSendAttempts)
	aggregator := stats.NewAggregator(statsRepo, channelRepo)
	tracker := migration.NewTracker(migrationRepo, queueRepo, dedupRepo, source)

	// Initialize and start the background task scheduler
	log.Printf("Starting background scheduler with %d workers...", appCfg.WorkerCount)
	taskScheduler := tasks.NewScheduler(configCache, channelRepo, ruleRepo, scheduleRepo,
		organizeRepo, orgEngine, index, registry, source, sweeper, fwdScheduler, fwdWorker, aggregator)
	taskScheduler.Start()
	defer taskScheduler.Stop()

	// Initialize HTTP server
	log.Println("Initializing HTTP server...")
	apiHandler := api.NewHandler(configCache, channelRepo, ruleRepo, scheduleRepo,
		organizeRepo, queueRepo, retryRepo, migrationRepo, statsRepo,
		registry, orgEngine, tracker, taskScheduler)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start HTTP server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on port %s", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Println("Chan Comb server started successfully!")

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case err := <-serverErrChan:
		log.Printf("Server error: %v", err)
	}

	// Graceful shutdown
	log.Println("Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server stopped")
	}

	// Task scheduler is stopped via defer
	log.Println("Chan Comb server shutdown complete")
}

// nullSource is the default message source. It yields no messages; real
// deployments plug a messaging transport in here.
type nullSource struct{}

func (nullSource) Fetch(ctx context.Context, channelID, sinceMessageID int64, limit int) ([]content.Message, error) {
	return nil, nil
}

// localTopicManager allocates topic ids locally instead of calling an
// external forum API. Ids are unique per process lifetime; persisted
// topics keep the ids they were created with.
type localTopicManager struct {
	next atomic.Int64
}

func newLocalTopicManager() *localTopicManager {
	m := &localTopicManager{}
	m.next.Store(time.Now().Unix())
	return m
}

func (m *localTopicManager) CreateTopic(ctx context.Context, channelID int64, title string) (int64, error) {
	return m.next.Add(1), nil
}
