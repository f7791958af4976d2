package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/approval-service/internal/api/http"
	"github.com/spec-kit/approval-service/internal/api/http/handlers"
	"github.com/spec-kit/approval-service/internal/auth"
	"github.com/spec-kit/approval-service/internal/config"
	"github.com/spec-kit/approval-service/internal/events"
	"github.com/spec-kit/approval-service/internal/observability"
	"github.com/spec-kit/approval-service/internal/persistence"
	"github.com/spec-kit/approval-service/internal/repository"
	"github.com/spec-kit/approval-service/internal/service"
	"github.com/spec-kit/approval-service/internal/trigger"
	triggerhandlers "github.com/spec-kit/approval-service/internal/trigger/handlers"
	"github.com/spec-kit/approval-service/internal/worker"
)

const (
	relayLeaseKey   = "approval-service:outbox-relay"
	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the trigger outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			return err
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	store := repository.NewStore(pg.PoolHandle())

	triggers := trigger.NewDispatcher(trigger.DispatcherDependencies{
		Store: store,
		Registry: trigger.NewRegistry(
			triggerhandlers.NewDocumentHandler(cfg.Trigger.DocumentDir),
			triggerhandlers.NewSpreadsheetHandler(cfg.Trigger.DocumentDir),
			triggerhandlers.NewEmailHandler(cfg.Notification, logger.Named("email")),
			triggerhandlers.NewAPIHandler(triggerhandlers.APIOptions{
				RatePerSecond: cfg.Trigger.APIRatePerSecond,
				Burst:         cfg.Trigger.APIBurst,
			}, logger.Named("api")),
			triggerhandlers.NewScriptHandler(),
		),
		HandlerTimeout: cfg.Trigger.HandlerTimeout(),
		CacheTTL:       cfg.Trigger.BindingCacheTTL(),
		Metrics:        metrics,
		Logger:         logger.Named("trigger"),
	})

	bus := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(service.NewNotificationService(bus, metrics, logger.Named("notification")))
	worker.StartTriggerWorker(bus, triggers)

	relay := worker.NewRelay(worker.RelayDependencies{
		Outbox:     store.Outbox(),
		Dispatcher: bus,
		Lease:      redis.NewLease(relayLeaseKey, cfg.Outbox.LockTTL()),
		Config:     cfg.Outbox,
		Metrics:    metrics,
		Logger:     logger.Named("relay"),
	})

	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:    store,
		Resolver: service.NewApproverResolver(cfg.Workflow.FallbackRoleID),
		Workflow: cfg.Workflow,
		Metrics:  metrics,
		Notifier: relay,
		Logger:   logger.Named("tickets"),
	})
	approvalService := service.NewApprovalService(service.ApprovalDependencies{
		Store:    store,
		Workflow: cfg.Workflow,
		Metrics:  metrics,
		Notifier: relay,
		Logger:   logger.Named("approvals"),
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, store.Directory())

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Approvals:      handlers.NewApprovalsHandler(approvalService),
		Admin:          handlers.NewAdminHandler(triggers),
		AuthMiddleware: authMiddleware.Handle,
		Metrics:        metrics,
		AdminRoleIDs:   cfg.Auth.AdminRoleIDs,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}
