package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/OnboardForge/internal/adapter/builtin"
	_ "github.com/Strob0t/OnboardForge/internal/adapter/discord"
	"github.com/Strob0t/OnboardForge/internal/adapter/eventbus"
	cfhttp "github.com/Strob0t/OnboardForge/internal/adapter/http"
	"github.com/Strob0t/OnboardForge/internal/adapter/localqueue"
	cfmcp "github.com/Strob0t/OnboardForge/internal/adapter/mcp"
	"github.com/Strob0t/OnboardForge/internal/adapter/memstore"
	cfnats "github.com/Strob0t/OnboardForge/internal/adapter/nats"
	"github.com/Strob0t/OnboardForge/internal/adapter/natskv"
	cfotel "github.com/Strob0t/OnboardForge/internal/adapter/otel"
	"github.com/Strob0t/OnboardForge/internal/adapter/postgres"
	"github.com/Strob0t/OnboardForge/internal/adapter/ristretto"
	_ "github.com/Strob0t/OnboardForge/internal/adapter/slack"
	"github.com/Strob0t/OnboardForge/internal/adapter/stream"
	"github.com/Strob0t/OnboardForge/internal/adapter/templatefs"
	"github.com/Strob0t/OnboardForge/internal/adapter/tiered"
	"github.com/Strob0t/OnboardForge/internal/config"
	"github.com/Strob0t/OnboardForge/internal/logger"
	"github.com/Strob0t/OnboardForge/internal/middleware"
	"github.com/Strob0t/OnboardForge/internal/port/agentbackend"
	"github.com/Strob0t/OnboardForge/internal/port/cache"
	"github.com/Strob0t/OnboardForge/internal/port/eventstore"
	"github.com/Strob0t/OnboardForge/internal/port/messagequeue"
	"github.com/Strob0t/OnboardForge/internal/port/notifier"
	"github.com/Strob0t/OnboardForge/internal/resilience"
	"github.com/Strob0t/OnboardForge/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"store", cfg.Store.Backend,
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---
	store, pinger, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	queue, kv, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()
	var appCache cache.Cache = l1
	if kv != nil {
		appCache = tiered.New(l1, kv, cfg.Cache.TemplateTTL)
	}

	repo, err := templatefs.New(cfg.Templates.Dir)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}

	// --- Services ---
	bus := eventbus.New(store)
	templateSvc := service.NewTemplateService(repo, appCache, cfg.Cache.TemplateTTL)
	taskSvc := service.NewTaskService(store, templateSvc, bus)
	taskSvc.SetRetryPolicy(resilience.RetryPolicy{
		Attempts: cfg.Store.RetryAttempts,
		Initial:  cfg.Store.RetryInitial,
		Max:      resilience.DefaultRetryPolicy.Max,
	})
	taskSvc.SetMetrics(metrics)
	if cfg.Orchestrator.AutoStart {
		taskSvc.SetAutoStart(queue)
	}

	agents := agentbackend.NewRegistry()
	for _, a := range builtin.All() {
		if err := agents.Register(a); err != nil {
			return fmt.Errorf("register agent %s: %w", a.Role(), err)
		}
	}
	breakers := resilience.NewBreakerSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	orch := service.NewOrchestrator(taskSvc, agents, breakers, service.OrchestratorConfigFrom(cfg.Orchestrator))
	orch.SetQueue(queue)
	orch.SetMetrics(metrics)
	notifications, err := openNotifiers(cfg.Notify)
	if err != nil {
		return err
	}
	orch.SetNotifications(notifications)

	cancelSubs, err := orch.StartSubscribers(ctx, queue)
	if err != nil {
		return fmt.Errorf("subscribers: %w", err)
	}
	defer func() {
		for _, cancel := range cancelSubs {
			cancel()
		}
	}()

	gateway := stream.NewGateway(bus, taskSvc, cfg.Stream.HeartbeatInterval, cfg.Stream.BufferSize)
	gateway.SetMetrics(metrics)

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Tasks:        taskSvc,
		Templates:    templateSvc,
		Orchestrator: orch,
		Gateway:      gateway,
		Agents:       agents,
		Breakers:     breakers,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Health stays outside auth for load balancers.
	r.Get("/health", cfhttp.Health(pinger, queue, cfhttp.Version))

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(middleware.NewAPIKeyAuth(cfg.Auth.APIKeys).Handler)
		}
		r.Use(middleware.TenantID)
		r.Use(middleware.Idempotency(appCache))

		cfhttp.MountRoutes(r, handlers)

		if cfg.MCP.Enabled {
			mcpSrv := cfmcp.NewServer(cfmcp.ServerConfig{Name: "onboardforge", Version: cfhttp.Version}, cfmcp.ServerDeps{
				Contexts:  taskSvc,
				Responder: orch,
				Templates: templateSvc,
			})
			r.Mount("/mcp", mcpSrv.Handler())
			slog.Info("mcp tools enabled", "path", "/mcp")
		}
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.RequestTimeout,
		// No WriteTimeout: SSE and WebSocket responses are long-lived.
		IdleTimeout: 120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := queue.Drain(); err != nil {
		errs = append(errs, fmt.Errorf("queue drain: %w", err))
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// storeBackend is an event store that can report liveness.
type storeBackend interface {
	eventstore.Store
	cfhttp.Pinger
}

// openStore selects the event store from config. The postgres backend applies
// pending migrations before serving.
func openStore(ctx context.Context, cfg *config.Config) (eventstore.Store, cfhttp.Pinger, func(), error) {
	if cfg.Store.Backend != "postgres" {
		slog.Warn("using in-memory store; contexts are lost on restart")
		var s storeBackend = memstore.New()
		return s, s, func() {}, nil
	}

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return nil, nil, nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")

	var s storeBackend = postgres.NewContextStore(pool)
	return s, s, pool.Close, nil
}

// openNotifiers builds one notifier per configured webhook.
func openNotifiers(cfg config.Notify) (*service.NotificationService, error) {
	notifiers, err := notifier.Open(map[string]notifier.Webhook{
		"slack":   {URL: cfg.SlackWebhookURL},
		"discord": {URL: cfg.DiscordWebhookURL},
	})
	if err != nil {
		return nil, err
	}
	if len(notifiers) > 0 {
		slog.Info("notifications enabled", "channels", notifier.Available(), "notifiers", len(notifiers), "events", cfg.Events)
	}
	return service.NewNotificationService(notifiers, cfg.Events), nil
}

// openQueue connects to NATS when a URL is configured and falls back to the
// in-process queue otherwise. The KV cache is only available with NATS.
func openQueue(ctx context.Context, cfg *config.Config) (messagequeue.Queue, cache.Cache, error) {
	if cfg.NATS.URL == "" {
		slog.Info("using in-process trigger queue")
		return localqueue.New(), nil, nil
	}

	q, err := cfnats.Connect(ctx, cfg.NATS)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: %w", err)
	}
	kv, err := q.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		_ = q.Close()
		return nil, nil, fmt.Errorf("nats kv: %w", err)
	}
	slog.Info("nats connected", "stream", cfg.NATS.Stream, "kv_bucket", cfg.Cache.L2Bucket)
	return q, natskv.New(kv), nil
}
