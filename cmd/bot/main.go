package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/devassist/devassist/internal/api"
	"github.com/devassist/devassist/internal/bot"
	"github.com/devassist/devassist/internal/cache"
	"github.com/devassist/devassist/internal/llm"
	"github.com/devassist/devassist/internal/slack"
	"github.com/devassist/devassist/internal/store"
	"github.com/devassist/devassist/pkg/config"
	"github.com/devassist/devassist/pkg/errors"
	"github.com/devassist/devassist/pkg/logging"
	"github.com/devassist/devassist/pkg/metrics"
	"github.com/devassist/devassist/pkg/monitor"
	"github.com/devassist/devassist/pkg/resilience"
)

func main() {
	// Load .env when present; real deployments use the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "devassist",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(nil)
	collector := errors.NewCollector(cfg.Monitor.MaxErrors)

	tracker := newConnectionTracker()
	mon := monitor.New(monitor.Config{
		CheckInterval: cfg.Monitor.CheckInterval,
		HistorySize:   cfg.Monitor.HistorySize,
		DiskPath:      cfg.Monitor.DiskPath,
		Thresholds:    cfg.Monitor.Thresholds,
	}, nil, collector, tracker.Count)

	manager := resilience.NewDegradationManager()
	manager.SetFallbackObserver(m.RecordFallback)
	registerServices(manager)

	// Database connection
	db, err := store.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(ctx); err != nil {
		log.Fatalf("Database health check failed: %v", err)
	}
	cancel()
	logger.Info("Database connection established")

	// Redis connection
	redis, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := redis.Health(ctx); err != nil {
		log.Fatalf("Redis health check failed: %v", err)
	}
	cancel()
	logger.Info("Redis connection established")

	deduper := cache.NewDeduplicator(redis, cfg.Slack.EventDedupTTL)

	llmClient := llm.NewClient(cfg.Anthropic, manager, mon, m)
	manager.RegisterFallback(llm.ServiceName, llm.Fallback)

	slackClient := slack.NewClient(cfg.Slack, manager, mon, m)
	manager.RegisterFallback(slack.ServiceName, slack.Fallback)

	users := store.NewUserRepository(db)
	conversations := store.NewConversationRepository(db)
	messages := store.NewMessageRepository(db)

	processor := bot.NewService(llmClient, slackClient, users, conversations, messages, manager, mon, m)

	verifier := slack.NewVerifier(cfg.Slack.SigningSecret, cfg.Slack.SignatureMaxSkew)
	slackHandler := slack.NewHandler(verifier, deduper, processor, m)
	commandHandler := slack.NewCommandHandler(verifier, mon, manager, m)

	router := api.NewRouter(cfg, api.RouterDeps{
		Monitor:       mon,
		Manager:       manager,
		Metrics:       m,
		SlackHandler:  slackHandler,
		SlackCommands: commandHandler,
		DB:            db,
		Redis:         redis,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ConnState:    tracker.OnStateChange,
	}

	mon.Start(context.Background())
	defer mon.Stop()

	go publishHealthMetrics(mon, manager, m, cfg.Monitor.CheckInterval)

	go func() {
		logger.Info("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// registerServices declares the external services managed by the breaker
// layer with their failure budgets
func registerServices(manager *resilience.DegradationManager) {
	manager.RegisterService(resilience.ServiceConfig{
		Name:            llm.ServiceName,
		MaxFailures:     3,
		FailureWindow:   300 * time.Second,
		RecoveryTime:    60 * time.Second,
		FallbackEnabled: true,
	})
	manager.RegisterService(resilience.ServiceConfig{
		Name:            slack.ServiceName,
		MaxFailures:     5,
		FailureWindow:   180 * time.Second,
		RecoveryTime:    30 * time.Second,
		FallbackEnabled: true,
	})
	manager.RegisterService(resilience.ServiceConfig{
		Name:            "code_analysis",
		MaxFailures:     2,
		FailureWindow:   120 * time.Second,
		RecoveryTime:    45 * time.Second,
		FallbackEnabled: true,
	})
	manager.RegisterService(resilience.ServiceConfig{
		Name:          bot.StoreServiceName,
		MaxFailures:   2,
		FailureWindow: 60 * time.Second,
		RecoveryTime:  30 * time.Second,
	})
	manager.RegisterService(resilience.ServiceConfig{
		Name:            "code_generation",
		MaxFailures:     2,
		FailureWindow:   120 * time.Second,
		RecoveryTime:    45 * time.Second,
		FallbackEnabled: true,
	})
}

// publishHealthMetrics mirrors the monitor verdict and breaker states into
// the Prometheus gauges on the monitor's cadence
func publishHealthMetrics(mon *monitor.Monitor, manager *resilience.DegradationManager, m *metrics.Metrics, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		status := mon.HealthStatus()
		m.UpdateHealth(
			status.Status,
			status.System.CPUPercent,
			status.System.MemoryPercent,
			status.System.DiskPercent,
			status.Performance.ErrorRate,
			status.System.ActiveConnections,
		)

		for name, svc := range manager.GetAllServicesStatus() {
			m.SetCircuitBreakerState(name, breakerStateValue(svc.State))
		}
	}
}

func breakerStateValue(state string) int {
	switch state {
	case "HEALTHY":
		return 0
	case "DEGRADED":
		return 1
	case "FAILED":
		return 2
	case "RECOVERING":
		return 3
	default:
		return 0
	}
}

// connectionTracker counts open sockets for the monitor's sample
type connectionTracker struct {
	mu    sync.Mutex
	count int
}

func newConnectionTracker() *connectionTracker {
	return &connectionTracker{}
}

func (t *connectionTracker) OnStateChange(conn net.Conn, state http.ConnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch state {
	case http.StateNew:
		t.count++
	case http.StateClosed, http.StateHijacked:
		t.count--
	}
}

func (t *connectionTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
