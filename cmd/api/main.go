package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/ticketguard/ticketing/internal/api/http"
	"github.com/ticketguard/ticketing/internal/api/http/handlers"
	"github.com/ticketguard/ticketing/internal/auth"
	"github.com/ticketguard/ticketing/internal/config"
	"github.com/ticketguard/ticketing/internal/custody"
	"github.com/ticketguard/ticketing/internal/events"
	"github.com/ticketguard/ticketing/internal/ledger"
	"github.com/ticketguard/ticketing/internal/observability"
	"github.com/ticketguard/ticketing/internal/persistence"
	"github.com/ticketguard/ticketing/internal/repository"
	"github.com/ticketguard/ticketing/internal/service"
	"github.com/ticketguard/ticketing/internal/worker"
)

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

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	keyCustody, err := custody.New(cfg.Chain.EncryptionKeyHex)
	if err != nil {
		logger.Fatal("failed to init key custody", zap.Error(err))
	}

	ledgerClient, err := ledger.NewEVM(ctx, cfg.Chain, logger)
	if err != nil {
		logger.Fatal("failed to connect ledger", zap.Error(err))
	}

	observability.RegisterPrometheus()
	metrics := observability.NewMetrics()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	waitlistRepo := repository.NewWaitlistRepository(pool)
	intentRepo := repository.NewMintIntentRepository(pool)

	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(logger).Register(dispatcher)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:   userRepo,
		Custody:    keyCustody,
		Tokens:     tokens,
		Logger:     logger,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	authMiddleware := auth.NewAuthMiddleware(tokens, userRepo)

	eventService := service.NewEventService(service.EventDependencies{
		EventRepo:          eventRepo,
		WaitlistRepo:       waitlistRepo,
		Logger:             logger,
		AlmostSoldOutRatio: cfg.Waitlist.AlmostSoldOutRatio,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		EventRepo:   eventRepo,
		UserRepo:    userRepo,
		TicketRepo:  ticketRepo,
		IntentRepo:  intentRepo,
		Ledger:      ledgerClient,
		Dispatcher:  dispatcher,
		Logger:      logger,
		MintRetries: cfg.Chain.SubmitRetries,
	})
	waitlistService := service.NewWaitlistService(service.WaitlistDependencies{
		WaitlistRepo: waitlistRepo,
		EventRepo:    eventRepo,
		TicketRepo:   ticketRepo,
		Purchaser:    ticketService,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})

	gasReserve, ok := new(big.Int).SetString(cfg.Chain.GasReserveWei, 10)
	if !ok {
		logger.Fatal("invalid CHAIN_GAS_RESERVE_WEI", zap.String("value", cfg.Chain.GasReserveWei))
	}
	refundService := service.NewRefundService(service.RefundDependencies{
		TicketRepo:      ticketRepo,
		UserRepo:        userRepo,
		Custody:         keyCustody,
		Ledger:          ledgerClient,
		Waitlist:        waitlistService,
		Dispatcher:      dispatcher,
		Logger:          logger,
		GasReserve:      gasReserve,
		TransferRetries: cfg.Chain.SubmitRetries,
	})
	chainInfoService := service.NewChainInfoService(ticketRepo, ledgerClient, redis.Handle(), logger)

	reconcileService := service.NewReconcileService(service.ReconcileDependencies{
		IntentRepo:   intentRepo,
		TicketRepo:   ticketRepo,
		UserRepo:     userRepo,
		EventRepo:    eventRepo,
		WaitlistRepo: waitlistRepo,
		Custody:      keyCustody,
		Ledger:       ledgerClient,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})
	go worker.NewReconciliationWorker(reconcileService, cfg.Reconcile, logger).Run(ctx)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Users:          handlers.NewUsersHandler(authService),
		Events:         handlers.NewEventsHandler(eventService),
		Tickets:        handlers.NewTicketsHandler(ticketService, refundService, chainInfoService),
		Waitlist:       handlers.NewWaitlistHandler(waitlistService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
