package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/membership-backend/internal/api/http"
	"github.com/spec-kit/membership-backend/internal/api/http/handlers"
	"github.com/spec-kit/membership-backend/internal/attachment"
	"github.com/spec-kit/membership-backend/internal/auth"
	"github.com/spec-kit/membership-backend/internal/config"
	"github.com/spec-kit/membership-backend/internal/events"
	"github.com/spec-kit/membership-backend/internal/observability"
	"github.com/spec-kit/membership-backend/internal/payment"
	"github.com/spec-kit/membership-backend/internal/persistence"
	"github.com/spec-kit/membership-backend/internal/ratelimit"
	"github.com/spec-kit/membership-backend/internal/repository"
	"github.com/spec-kit/membership-backend/internal/sanitize"
	"github.com/spec-kit/membership-backend/internal/service"
	"github.com/spec-kit/membership-backend/internal/storage"
	"github.com/spec-kit/membership-backend/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	pool := pg.PoolHandle()
	if pool == nil {
		logger.Fatal("POSTGRES_DSN is required")
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var (
		limiter     ratelimit.Limiter
		redisHealth handlers.Pinger
	)
	if cfg.RateLimit.Backend == "memory" {
		memory := ratelimit.NewInMemory(cfg.RateLimit.Window)
		defer memory.Close()
		limiter = memory
	} else {
		redis := persistence.NewRedis(cfg.Redis, logger)
		defer redis.Close()
		limiter = ratelimit.NewRedis(redis.Client, cfg.RateLimit.Window)
		redisHealth = redis
	}

	blobs, err := storage.NewDiskStore(cfg.Storage.UploadDir)
	if err != nil {
		logger.Fatal("failed to prepare upload directory", zap.Error(err))
	}
	attachments := attachment.NewStore(blobs, attachment.Options{
		MaxFileSize: cfg.Storage.MaxFileSizeBytes,
		MaxFiles:    cfg.Storage.MaxFilesPerBatch,
	}, logger)

	dispatcher := events.NewInMemoryDispatcher(logger)
	notifier := worker.NewNotificationWorker(logger, 0)
	notifications := service.NewNotificationService(dispatcher, notifier, logger, cfg.Notification)
	worker.StartNotificationWorker(ctx, notifications, notifier)

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repository.NewTicketRepository(pool),
		Attachments: attachments,
		Sanitizer:   sanitize.New(),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	orderService := service.NewOrderService(service.OrderDependencies{
		PurchaseRepo: repository.NewCoursePurchaseRepository(pool),
		Courses:      repository.NewCourseCatalog(pool),
		OrderRepo:    repository.NewOrderRepository(pool),
		Gateway:      payment.NewRazorpayGateway(cfg.Payment, logger),
		Verifier:     payment.NewSigner(cfg.Payment.KeySecret),
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		Logger:       logger,
		Currency:     cfg.Payment.Currency,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    cfg.App.BodyLimitBytes,
		ErrorHandler: httptransport.ErrorHandler(logger, metrics),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redisHealth),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		StaffTickets:   handlers.NewStaffTicketsHandler(ticketService),
		Courses:        handlers.NewCoursesHandler(orderService),
		Orders:         handlers.NewOrdersHandler(orderService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
		Logger:         logger,
		CreateLimit:    ratelimit.Policy{Name: "ticket_create", Limit: cfg.RateLimit.TicketCreateMax, Limiter: limiter},
		RespondLimit:   ratelimit.Policy{Name: "ticket_respond", Limit: cfg.RateLimit.TicketRespondMax, Limiter: limiter},
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	notifier.Stop()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
