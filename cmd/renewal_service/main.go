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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	billingapp "github.com/numberdrop/golang_services/internal/billing_service/app"
	billingpg "github.com/numberdrop/golang_services/internal/billing_service/repository/postgres"
	msgpg "github.com/numberdrop/golang_services/internal/messaging_service/repository/postgres"
	notifapp "github.com/numberdrop/golang_services/internal/notification_service/app"
	notifpg "github.com/numberdrop/golang_services/internal/notification_service/repository/postgres"
	numberapp "github.com/numberdrop/golang_services/internal/number_service/app"
	numberpg "github.com/numberdrop/golang_services/internal/number_service/repository/postgres"
	"github.com/numberdrop/golang_services/internal/platform/config"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/platform/logger"
	"github.com/numberdrop/golang_services/internal/platform/messagebroker"
	webhookapp "github.com/numberdrop/golang_services/internal/webhook_service/app"
	webhookpg "github.com/numberdrop/golang_services/internal/webhook_service/repository/postgres"
)

const (
	serviceName = "renewal-service"

	webhookRetrySchedule = "0 */5 * * * *"
	webhookRetryWindow   = 24 * time.Hour
	webhookRetryBatch    = 100
	jobTimeout           = 10 * time.Minute
	shutdownTimeout      = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("Renewal service exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN, database.PoolOptions{
		MaxConns: cfg.PostgresMaxConns,
		MinConns: cfg.PostgresMinConns,
	})
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer dbPool.Close()

	var publisher messagebroker.Publisher
	if cfg.NATSEnabled {
		natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		publisher = natsClient
	}
	events := messagebroker.NewEventBus(publisher, appLogger)
	tx := database.NewTransactor(dbPool)

	ownedRepo := numberpg.NewPgOwnedNumberRepository()
	notifications := notifapp.NewService(notifpg.NewPgNotificationRepository(), dbPool, events, appLogger)
	wallet := billingapp.NewWalletService(billingpg.NewPgWalletRepository(), billingpg.NewPgLedgerRepository(),
		notifications, dbPool, tx, events, billingapp.WalletConfig{
			Currency:       cfg.DefaultCurrency,
			CommissionRate: decimal.NewFromFloat(cfg.CommissionRate),
		}, appLogger)
	renewals := numberapp.NewRenewalService(ownedRepo, wallet, notifications, dbPool, tx, cfg.NumberTermDays, appLogger)
	ingestor := webhookapp.NewIngestor(webhookpg.NewPgWebhookEventRepository(), msgpg.NewPgMessageRepository(),
		msgpg.NewPgCallRepository(), ownedRepo, notifications, dbPool, tx, events, appLogger)

	// Create cron with UTC timezone and seconds precision
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	jobs := []struct {
		name     string
		schedule string
		fn       func(ctx context.Context) error
	}{
		{"renew_due", cfg.RenewalSchedule, func(ctx context.Context) error {
			report, err := renewals.RenewDue(ctx, time.Now().UTC())
			appLogger.InfoContext(ctx, "Renewal run finished", "processed", report.Processed,
				"renewed", report.Renewed, "suspended", report.Suspended, "failed", report.Failed)
			return err
		}},
		{"expire_lapsed", cfg.ExpirySchedule, func(ctx context.Context) error {
			report, err := renewals.ExpireLapsed(ctx, time.Now().UTC())
			appLogger.InfoContext(ctx, "Expiry run finished", "processed", report.Processed, "suspended", report.Suspended)
			return err
		}},
		{"webhook_retry", webhookRetrySchedule, func(ctx context.Context) error {
			_, err := ingestor.RetryUnprocessed(ctx, time.Now().UTC().Add(-webhookRetryWindow), webhookRetryBatch)
			return err
		}},
	}
	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.schedule, func() {
			ctx, cancel := context.WithTimeout(mainCtx, jobTimeout)
			defer cancel()
			start := time.Now()
			if err := job.fn(ctx); err != nil {
				appLogger.ErrorContext(ctx, "Scheduled job failed", "job", job.name, "error", err)
				return
			}
			appLogger.DebugContext(ctx, "Scheduled job done", "job", job.name, "duration_ms", time.Since(start).Milliseconds())
		}); err != nil {
			return fmt.Errorf("register job %s with schedule %q: %w", job.name, job.schedule, err)
		}
		appLogger.Info("Scheduled job registered", "job", job.name, "schedule", job.schedule)
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	c.Start()
	appLogger.Info("Renewal service is ready and running.")

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		// Wait for running jobs before the pool closes.
		<-c.Stop().Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLogger.Info("Renewal service shut down successfully.")
	return nil
}
