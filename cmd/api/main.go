package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/novamart/novamart-backend/api/routes"
	"github.com/novamart/novamart-backend/internal/checkout"
	"github.com/novamart/novamart-backend/internal/coupons"
	"github.com/novamart/novamart-backend/internal/orders"
	"github.com/novamart/novamart-backend/internal/payments"
	"github.com/novamart/novamart-backend/internal/refunds"
	"github.com/novamart/novamart-backend/internal/webhooks"
	"github.com/novamart/novamart-backend/pkg/config"
	"github.com/novamart/novamart-backend/pkg/db"
	"github.com/novamart/novamart-backend/pkg/gateway"
	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/migrate"
	"github.com/novamart/novamart-backend/pkg/outbox"
	"github.com/novamart/novamart-backend/pkg/redis"
	"github.com/novamart/novamart-backend/pkg/shipping"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	shippingClient, err := shipping.NewClient(cfg.Shipping, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipping client", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)

	ordersRepo := orders.NewRepository(gormDB)
	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Tx:       dbClient,
		Repo:     ordersRepo,
		Shipping: shippingClient,
		Outbox:   outboxSvc,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	couponsSvc, err := coupons.NewService(coupons.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create coupons service", err)
		os.Exit(1)
	}

	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Tx:         dbClient,
		Repo:       checkout.NewRepository(gormDB),
		Coupons:    couponsSvc,
		Orders:     ordersSvc,
		Outbox:     outboxSvc,
		Logger:     logg,
		SessionTTL: cfg.Checkout.SessionTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(gormDB)
	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Tx:       dbClient,
		Repo:     paymentsRepo,
		Gateway:  gatewayClient,
		Sessions: checkoutSvc,
		Outbox:   outboxSvc,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	refundsSvc, err := refunds.NewService(refunds.ServiceParams{
		Tx:       dbClient,
		Repo:     refunds.NewRepository(gormDB),
		Payments: paymentsRepo,
		Gateway:  gatewayClient,
		Outbox:   outboxSvc,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}
	ordersSvc.AttachRefunds(refundsSvc)

	guard := webhooks.NewIdempotencyGuard(redisClient, logg, "gateway-webhook", cfg.Eventing.WebhookIdempotencyTTL)
	gatewayWebhook, err := webhooks.NewGatewayHandler(webhooks.GatewayHandlerParams{
		Verifier: gatewayClient,
		Payments: paymentsSvc,
		Refunds:  refundsSvc,
		Guard:    guard,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway webhook handler", err)
		os.Exit(1)
	}

	shippingWebhook, err := webhooks.NewShippingHandler(cfg.Shipping.WebhookToken, ordersSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipping webhook handler", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.RouterParams{
		Config:          cfg,
		Logger:          logg,
		DB:              dbClient,
		Redis:           redisClient,
		Checkout:        checkoutSvc,
		Payments:        paymentsSvc,
		Orders:          ordersSvc,
		OrdersRepo:      ordersRepo,
		Shipping:        shippingClient,
		GatewayWebhook:  gatewayWebhook,
		ShippingWebhook: shippingWebhook,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shut down gracefully")
}
