package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-fulfillment/internal/cron"
	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway"
	"github.com/angelmondragon/marketplace-fulfillment/internal/ledger"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/payouts"
	"github.com/angelmondragon/marketplace-fulfillment/internal/users"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/migrate"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/redis"
	pkgstripe "github.com/angelmondragon/marketplace-fulfillment/pkg/stripe"
)

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.LogFormat == "console",
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

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	maintenanceJob, err := cron.NewMaintenanceJob(cron.MaintenanceJobParams{
		Logger:        logg,
		Outbox:        outboxRepo,
		RetentionDays: cfg.Maintenance.OutboxRetentionDays,
		Schedule:      cfg.Maintenance.Schedule,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create maintenance job", err)
		os.Exit(1)
	}
	jobs := []cron.Job{maintenanceJob}

	if cfg.Stripe.Enabled() {
		payoutJob, err := buildPayoutJob(cfg, logg, dbClient, outboxService)
		if err != nil {
			logg.Error(context.Background(), "failed to create payout job", err)
			os.Exit(1)
		}
		jobs = append(jobs, payoutJob)
	} else {
		logg.Warn(context.Background(), "stripe disabled; seller payouts will not run")
	}

	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		logg.Error(context.Background(), "invalid job registry", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locks:    cron.NewRedisLockFactory(redisClient, lockKeyBuilder(redisClient, cfg.App.Env), 0),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"jobs": len(jobs),
	})

	if *once {
		logg.Info(ctx, "running cron jobs once")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		return
	}

	metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg)
	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildPayoutJob(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, outboxService *outbox.Service) (cron.Job, error) {
	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("init stripe client: %w", err)
	}
	stripeAdapter, err := gateway.NewStripe(cfg.Stripe, stripeClient)
	if err != nil {
		return nil, fmt.Errorf("stripe adapter: %w", err)
	}
	feeRate, err := payouts.ParseFeeRate(cfg.Payout.PlatformFeeRate)
	if err != nil {
		return nil, err
	}

	sweeper, err := payouts.NewService(payouts.ServiceParams{
		Tx:              dbClient,
		Orders:          orders.NewRepository(dbClient.DB()),
		Sellers:         users.NewRepository(dbClient.DB()),
		Ledger:          ledger.NewRepository(dbClient.DB()),
		Payouts:         stripeAdapter,
		Provider:        enums.GatewayStripe,
		Outbox:          outboxService,
		Logger:          logg,
		Metrics:         metrics.NewPaymentMetrics(prometheus.DefaultRegisterer),
		FeeRate:         feeRate,
		BatchSize:       cfg.Payout.BatchSize,
		TransferTimeout: cfg.Stripe.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewPayoutJob(cron.PayoutJobParams{
		Logger:   logg,
		Sweeper:  sweeper,
		Schedule: cfg.Payout.Schedule,
	})
}

func lockKeyBuilder(client *redis.Client, env string) func(string) string {
	if env == "" {
		env = "local"
	}
	return func(job string) string {
		return client.LockKey(fmt.Sprintf("cron:%s:%s", env, job))
	}
}
