package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/deskline/support-bot/internal/api/http"
	"github.com/deskline/support-bot/internal/api/http/handlers"
	"github.com/deskline/support-bot/internal/auth"
	"github.com/deskline/support-bot/internal/chat"
	"github.com/deskline/support-bot/internal/config"
	"github.com/deskline/support-bot/internal/conversation"
	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/events"
	"github.com/deskline/support-bot/internal/observability"
	"github.com/deskline/support-bot/internal/persistence"
	"github.com/deskline/support-bot/internal/repository"
	"github.com/deskline/support-bot/internal/repository/sqlite"
	"github.com/deskline/support-bot/internal/service"
	"github.com/deskline/support-bot/internal/transport/telegram"
	"github.com/deskline/support-bot/internal/worker"
)

type options struct {
	envFile   string
	seedOnly  bool
	exportNow bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("supportbot", pflag.ContinueOnError)
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "dotenv file read before the environment")
	flagSet.BoolVar(&opts.seedOnly, "seed-only", false, "seed the handler roster and exit")
	flagSet.BoolVar(&opts.exportNow, "export-now", false, "write one store export, send it to super-admins and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer backend.close()

	registry := service.NewRoleRegistry(backend.store.Handlers, logger)
	entries, err := cfg.Roster.SeedEntries()
	if err != nil {
		return err
	}
	if _, err := registry.Seed(ctx, entries); err != nil {
		return fmt.Errorf("seed roster: %w", err)
	}
	if opts.seedOnly {
		return nil
	}

	client := telegram.NewClient(cfg.Telegram, logger)
	exporter := worker.NewExporter(backend.store, registry, client, cfg.Maintenance.ExportDir, cfg.Maintenance.ExportInterval, logger)
	if opts.exportNow {
		path, err := exporter.Export(ctx)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		logger.Info("export finished", zap.String("path", path))
		return nil
	}

	metrics := observability.NewMetrics()
	bus := events.NewInMemoryDispatcher()
	router := service.NewNotificationRouter(client, registry, cfg.Notification.Parallelism, logger, metrics)
	router.RegisterHandlers(bus)

	requesters := service.NewRequesterService(backend.store.Requesters, logger)
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  backend.store.Tickets,
		HistoryRepo: backend.store.History,
		Registry:    registry,
		Dispatcher:  bus,
		Logger:      logger,
	})
	broadcasts := service.NewBroadcastEngine(requesters, router, backend.store.Broadcasts, logger)

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()
	var sessions conversation.Store = conversation.NewMemoryStore(cfg.Redis.SessionTTL)
	if redis != nil {
		sessions = conversation.NewRedisStore(redis.Client, cfg.Redis.SessionTTL)
	}

	flows := conversation.NewController(conversation.Dependencies{
		Store:      sessions,
		Tickets:    tickets,
		Broadcasts: broadcasts,
		Roster:     registry,
		Transport:  client,
		Names:      client,
		Logger:     logger,
	})
	dispatcher := chat.NewDispatcher(chat.Dependencies{
		Tickets:    tickets,
		Registry:   registry,
		Requesters: requesters,
		Router:     router,
		Flows:      flows,
		Transport:  client,
		Store:      backend,
		Logger:     logger,
		Metrics:    metrics,
	})

	alertIDs := make([]domain.PartyID, 0, len(cfg.Roster.SuperAdminIDs))
	for _, id := range cfg.Roster.SuperAdminIDs {
		alertIDs = append(alertIDs, domain.PartyID(id))
	}
	probe := worker.NewHealthProbe(backend, registry, client, worker.HealthProbeConfig{
		Interval:  cfg.Maintenance.ProbeInterval,
		Threshold: cfg.Maintenance.FailureThreshold,
		AlertIDs:  alertIDs,
	}, logger)
	go probe.Run(ctx)
	go exporter.Run(ctx)

	dependencies := []handlers.Dependency{{Name: cfg.Store.Driver, Ping: backend.Ping}}
	if redis != nil {
		dependencies = append(dependencies, handlers.Dependency{Name: "redis", Ping: redis.Ping})
	}

	// Queued chat events finish after shutdown starts.
	dispatchCtx := context.WithoutCancel(ctx)

	app := httptransport.NewApp(cfg.App.Name, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:            handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies...),
		Webhook:           handlers.NewWebhookHandler(dispatchCtx, dispatcher, logger),
		Metrics:           handlers.NewMetricsHandler(metrics),
		WebhookMiddleware: auth.NewWebhookMiddleware(cfg.Telegram.WebhookSecret),
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-listenErr:
		return fmt.Errorf("fiber listen: %w", err)
	}

	if err := app.Shutdown(); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	dispatcher.Wait()
	return nil
}

// storeBackend is the opened persistence layer.
type storeBackend struct {
	store repository.Store
	ping  func(ctx context.Context) error
	close func()
}

func (b *storeBackend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storeBackend, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		return &storeBackend{
			store: repository.NewPostgresStore(pg.PoolHandle()),
			ping:  pg.Ping,
			close: pg.Close,
		}, nil
	case "sqlite":
		db, err := persistence.NewSQLite(ctx, cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &storeBackend{
			store: sqlite.NewStore(db.DB),
			ping:  db.Ping,
			close: db.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
