// Package main provides the embedded Recallbox engine server for desktop
// platforms. Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwlin/recallbox/cmd/desktop/handlers"
	"github.com/jwlin/recallbox/internal/logging"
	"github.com/jwlin/recallbox/internal/recovery"
	"github.com/jwlin/recallbox/internal/remote"
	"github.com/jwlin/recallbox/internal/store"
	enginesync "github.com/jwlin/recallbox/internal/sync"
	"github.com/jwlin/recallbox/internal/sync/queue"
	"github.com/jwlin/recallbox/internal/telemetry"
)

func main() {
	logging.Init(os.Stdout, logLevel())

	dataDir := os.Getenv("RECALLBOX_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	st, err := store.Open(dataDir)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	authority := remote.NewHTTPClient(&remote.HTTPConfig{
		BaseURL:   getEnv("RECALLBOX_REMOTE_URL", "http://localhost:9000"),
		AccountID: getEnv("RECALLBOX_ACCOUNT_ID", "local"),
		AuthToken: os.Getenv("RECALLBOX_AUTH_TOKEN"),
	})

	ctx := context.Background()

	cfg, err := enginesync.LoadConfig(ctx, st)
	if err != nil {
		log.Fatalf("Failed to load sync config: %v", err)
	}

	sink := telemetry.NewMemorySink()
	pending := queue.NewPendingQueue(enginesync.DefaultQueueSize)
	coordinator := enginesync.NewCoordinator(st, authority, pending, cfg.Policy, sink)

	syncScheduler := enginesync.NewScheduler(coordinator, time.Duration(cfg.IntervalSeconds)*time.Second)
	if cfg.AutoSyncEnabled {
		syncScheduler.Start()
	}

	manager := recovery.NewManager(st, recovery.Options{Sink: sink})
	backupScheduler := recovery.NewScheduler(manager, recovery.SchedulerOptions{
		Interval:   24 * time.Hour,
		OnStartup:  true,
		OnShutdown: true,
	})
	backupScheduler.Start()

	wsHub := NewWSHub()

	syncHandler := handlers.NewSyncHandler(coordinator, st)
	syncHandler.SetWebSocketHub(wsHub)

	recoveryHandler := handlers.NewRecoveryHandler(manager)
	recoveryHandler.SetWebSocketHub(wsHub)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"recallbox-desktop"}`))
	})

	mux.HandleFunc("POST /api/sync", syncHandler.TriggerSync)
	mux.HandleFunc("GET /api/sync/status", syncHandler.GetStatus)
	mux.HandleFunc("GET /api/sync/config", syncHandler.GetConfig)
	mux.HandleFunc("PUT /api/sync/config", syncHandler.SetConfig)
	mux.HandleFunc("GET /api/sync/queue", syncHandler.GetQueue)
	mux.HandleFunc("POST /api/sync/queue/retry", syncHandler.RetryFailed)
	mux.HandleFunc("GET /api/sync/checkpoints", syncHandler.GetCheckpoints)

	mux.HandleFunc("GET /api/recovery/points", recoveryHandler.ListPoints)
	mux.HandleFunc("POST /api/recovery/points", recoveryHandler.CreatePoint)
	mux.HandleFunc("GET /api/recovery/points/{id}", recoveryHandler.GetPoint)
	mux.HandleFunc("DELETE /api/recovery/points/{id}", recoveryHandler.DeletePoint)
	mux.HandleFunc("POST /api/recovery/points/{id}/restore", recoveryHandler.Restore)
	mux.HandleFunc("POST /api/recovery/points/{id}/protect", recoveryHandler.Protect)
	mux.HandleFunc("DELETE /api/recovery/points/{id}/protect", recoveryHandler.Unprotect)
	mux.HandleFunc("POST /api/recovery/points/{id}/validate", recoveryHandler.Validate)
	mux.HandleFunc("GET /api/recovery/points/{id}/export", recoveryHandler.ExportPoint)
	mux.HandleFunc("POST /api/recovery/import", recoveryHandler.ImportPoint)
	mux.HandleFunc("GET /api/recovery/statistics", recoveryHandler.GetStatistics)
	mux.HandleFunc("POST /api/recovery/cleanup", recoveryHandler.Cleanup)

	mux.HandleFunc("GET /api/ws", HandleWebSocket(wsHub))

	port := getEnv("RECALLBOX_PORT", "8090")
	server := &http.Server{
		Addr:    "127.0.0.1:" + port,
		Handler: mux,
	}

	go func() {
		log.Printf("Recallbox Desktop Server starting on port %s...", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	syncScheduler.Stop()
	backupScheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func logLevel() logging.LogLevel {
	switch os.Getenv("RECALLBOX_LOG_LEVEL") {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
