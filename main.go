package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"settlement-service/config"
	"settlement-service/consumers"
	"settlement-service/controllers"
	"settlement-service/database"
	"settlement-service/ledger"
	"settlement-service/logging"
	"settlement-service/notify"
	"settlement-service/rabbitmq"
	"settlement-service/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogJSON, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("settlement service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sinks := []notify.Sink{notify.StoreSink(store)}
	var scheduler services.Scheduler
	var rmq *rabbitmq.RabbitMQ
	if cfg.RabbitMQURL != "" {
		rmq, err = rabbitmq.NewRabbitMQ(cfg, logger)
		if err != nil {
			return err
		}
		defer rmq.Close()
		if err := rmq.SetupQueues(); err != nil {
			return err
		}
		sinks = append(sinks, rmq)
		scheduler = rmq
	} else {
		logger.Warn("RABBITMQ_URL is empty: payment and delivery timers are disabled")
	}

	dispatcher := notify.NewDispatcher(logger, cfg.NotifyBuffer, sinks...)
	go dispatcher.Run(context.Background())
	defer dispatcher.Close()

	opts := services.Options{
		Notifier:         dispatcher,
		Scheduler:        scheduler,
		Logger:           logger,
		PaymentTimeout:   cfg.PaymentTimeout,
		AutoReleaseAfter: cfg.AutoReleaseAfter,
	}
	escrow := services.NewEscrowService(store, opts)
	orders := services.NewOrderService(store, escrow, opts)
	svc := controllers.Services{
		Products: services.NewProductService(store, opts),
		Orders:   orders,
		Escrow:   escrow,
		Barters:  services.NewBarterService(store, orders, opts),
	}
	if inbox, ok := store.(ledger.NotificationReader); ok {
		svc.Notifications = inbox
	}

	if rmq != nil {
		ch, err := rmq.ConsumeChannel()
		if err != nil {
			return err
		}
		defer ch.Close()
		if err := consumers.NewOrderConsumer(orders, logger).Start(ctx, ch, cfg.OrderQueue, cfg.DeadLetterQueue); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           controllers.NewRouter(controllers.NewHandler(svc, logger), cfg.JWTSecret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("settlement service listening", zap.String("addr", cfg.HTTPAddr), zap.String("db", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	if cfg.DBDriver == "memory" {
		return ledger.NewMemoryStore(), func() {}, nil
	}
	db, err := database.InitDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}
