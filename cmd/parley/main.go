package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parley-ai/parley/internal/agent"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/httpapi"
	"github.com/parley-ai/parley/internal/media"
	"github.com/parley-ai/parley/internal/memory"
	"github.com/parley-ai/parley/internal/observability"
	"github.com/parley-ai/parley/internal/pipeline"
	"github.com/parley-ai/parley/internal/respond"
	"github.com/parley-ai/parley/internal/rooms"
	"github.com/parley-ai/parley/internal/session"
	"github.com/parley-ai/parley/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer memoryStore.Close()

	adapter, err := agent.NewAdapter(agent.Config{
		Mode:    cfg.AgentAdapterMode,
		HTTPURL: cfg.AgentHTTPURL,
	})
	if err != nil {
		log.Fatalf("agent adapter init failed: %v", err)
	}
	agentSvc := agent.NewService(adapter, memoryStore, cfg.MemoryContextLimit)

	var roomAPI rooms.API
	if strings.TrimSpace(cfg.RoomServiceURL) != "" {
		roomAPI = rooms.NewClient(cfg.RoomServiceURL, cfg.RoomAPIKey, cfg.RoomAPISecret)
		log.Printf("room service: %s", cfg.RoomServiceURL)
	} else {
		log.Printf("room service: not configured, room transport disabled")
	}
	provisioner := transport.NewProvisioner(roomAPI, cfg.MaxSessionDuration)

	// The media engine boundary. The mock provider keeps the full pipeline
	// exercisable without external STT/TTS services.
	mediaProvider := media.NewMockProvider()
	log.Printf("media provider: mock")

	coordinator := respond.NewCoordinator(agentSvc, metrics, cfg.FirstChunkLatencyBudget)
	assembler := pipeline.NewAssembler(mediaProvider, mediaProvider, coordinator, metrics)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	api := httpapi.New(runCtx, cfg, sessions, provisioner, assembler, agentSvc, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
