package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	gRPC "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	billingapp "github.com/numberdrop/golang_services/internal/billing_service/app"
	billingpg "github.com/numberdrop/golang_services/internal/billing_service/repository/postgres"
	httptransport "github.com/numberdrop/golang_services/internal/dashboard_api/transport/http"
	"github.com/numberdrop/golang_services/internal/messaging_service/adapters/smsprovider"
	msgapp "github.com/numberdrop/golang_services/internal/messaging_service/app"
	msgdomain "github.com/numberdrop/golang_services/internal/messaging_service/domain"
	msgpg "github.com/numberdrop/golang_services/internal/messaging_service/repository/postgres"
	notifapp "github.com/numberdrop/golang_services/internal/notification_service/app"
	notifpg "github.com/numberdrop/golang_services/internal/notification_service/repository/postgres"
	"github.com/numberdrop/golang_services/internal/number_service/adapters/provisioning"
	numberapp "github.com/numberdrop/golang_services/internal/number_service/app"
	numberpg "github.com/numberdrop/golang_services/internal/number_service/repository/postgres"
	"github.com/numberdrop/golang_services/internal/platform/config"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/platform/logger"
	"github.com/numberdrop/golang_services/internal/platform/messagebroker"
	"github.com/numberdrop/golang_services/internal/platform/twilio"
	webhookhttp "github.com/numberdrop/golang_services/internal/webhook_service/adapters/http"
	webhookapp "github.com/numberdrop/golang_services/internal/webhook_service/app"
	webhookpg "github.com/numberdrop/golang_services/internal/webhook_service/repository/postgres"
)

const (
	serviceName     = "dashboard-service"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("Dashboard service exited with error", "error", err)
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
	appLogger.Info("Dashboard service starting...",
		"http_port", cfg.DashboardHTTPPort,
		"grpc_port", cfg.DashboardGRPCPort,
		"metrics_port", cfg.MetricsPort,
		"provider_mode", cfg.ProviderMode,
	)

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN, database.PoolOptions{
		MaxConns: cfg.PostgresMaxConns,
		MinConns: cfg.PostgresMinConns,
	})
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL")

	var publisher messagebroker.Publisher
	if cfg.NATSEnabled {
		natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		publisher = natsClient
		appLogger.Info("Connected to NATS", "url", cfg.NATSUrl)
	}
	events := messagebroker.NewEventBus(publisher, appLogger)
	tx := database.NewTransactor(dbPool)

	prefixPrices, err := msgdomain.ParsePrefixPrices(cfg.SMSPrefixPrices)
	if err != nil {
		return fmt.Errorf("SMS_PREFIX_PRICES: %w", err)
	}
	if err := msgdomain.ValidatePrice(decimal.NewFromFloat(cfg.SMSSegmentPrice)); err != nil {
		return fmt.Errorf("SMS_SEGMENT_PRICE: %w", err)
	}
	providerTimeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second

	// Repositories
	walletRepo := billingpg.NewPgWalletRepository()
	ledgerRepo := billingpg.NewPgLedgerRepository()
	catalogRepo := numberpg.NewPgCatalogRepository()
	ownedRepo := numberpg.NewPgOwnedNumberRepository()
	messageRepo := msgpg.NewPgMessageRepository()
	callRepo := msgpg.NewPgCallRepository()
	webhookRepo := webhookpg.NewPgWebhookEventRepository()

	// Provider adapters
	var (
		provisioner provisioning.NumberProvisioner
		smsSender   smsprovider.Adapter
	)
	switch cfg.ProviderMode {
	case "twilio":
		client := twilio.NewClient(cfg.TwilioAPIURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken,
			&http.Client{Timeout: providerTimeout}, appLogger)
		provisioner = provisioning.NewTwilioProvisioner(client, cfg.WebhookPublicBaseURL, appLogger)
		smsSender = smsprovider.NewTwilioProvider(client, appLogger)
	case "mock", "":
		provisioner = provisioning.NewMockProvisioner(appLogger, cfg.ProviderMockFailRate, 50*time.Millisecond)
		smsSender = smsprovider.NewMockProvider(appLogger, "", cfg.ProviderMockFailRate, 50*time.Millisecond)
	default:
		return fmt.Errorf("unknown PROVIDER_MODE %q", cfg.ProviderMode)
	}

	// Application services
	notifications := notifapp.NewService(notifpg.NewPgNotificationRepository(), dbPool, events, appLogger)
	wallet := billingapp.NewWalletService(walletRepo, ledgerRepo, notifications, dbPool, tx, events, billingapp.WalletConfig{
		Currency:       cfg.DefaultCurrency,
		CommissionRate: decimal.NewFromFloat(cfg.CommissionRate),
	}, appLogger)
	numbers := numberapp.NewNumberService(catalogRepo, ownedRepo, provisioner, dbPool, tx, appLogger)
	purchases := numberapp.NewPurchaseService(catalogRepo, ownedRepo, wallet, notifications, provisioner, dbPool, tx, events,
		numberapp.PurchaseConfig{TermDays: cfg.NumberTermDays, ProviderTimeout: providerTimeout}, appLogger)

	statusCallback := ""
	if cfg.WebhookPublicBaseURL != "" {
		statusCallback = cfg.WebhookPublicBaseURL + "/webhooks/twilio/sms-status"
	}
	pricing := msgdomain.NewPricingPolicy(cfg.SMSSegmentLength, decimal.NewFromFloat(cfg.SMSSegmentPrice), prefixPrices)
	sms := msgapp.NewSMSService(messageRepo, callRepo, ownedRepo, wallet, smsSender, pricing, dbPool, tx, events,
		msgapp.SMSConfig{ProviderTimeout: providerTimeout, StatusCallbackURL: statusCallback}, appLogger)

	ingestor := webhookapp.NewIngestor(webhookRepo, messageRepo, callRepo, ownedRepo, notifications, dbPool, tx, events, appLogger)
	webhooks := webhookhttp.NewWebhookHandler(ingestor, cfg.TwilioAuthToken, cfg.WebhookValidateSignature,
		cfg.WebhookPublicBaseURL, appLogger)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Wallet:        wallet,
		Numbers:       numbers,
		Purchases:     purchases,
		Messaging:     sms,
		Notifications: notifications,
		Webhooks:      webhooks.Routes(),
		JWTSecret:     cfg.JWTAccessSecret,
		Ping:          dbPool.Ping,
		Logger:        appLogger,
	})

	g, groupCtx := errgroup.WithContext(mainCtx)

	// --- HTTP API ---
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.DashboardHTTPPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2*providerTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("HTTP server shut down gracefully.")
		return nil
	})

	// --- gRPC health ---
	grpcServer := gRPC.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.DashboardGRPCPort))
	if err != nil {
		return fmt.Errorf("listen for gRPC: %w", err)
	}
	g.Go(func() error {
		appLogger.Info("gRPC health server starting", "address", grpcListener.Addr().String())
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, gRPC.ErrServerStopped) {
			appLogger.Error("gRPC server failed to serve", "error", err)
			return err
		}
		return nil
	})

	// --- Metrics ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}
	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		return nil
	})

	// --- Graceful shutdown ---
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
		appLogger.Info("Initiating graceful shutdown of servers...")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var shutdownErrors error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}
		grpcServer.GracefulStop()
		return shutdownErrors
	})

	appLogger.Info("Dashboard service is ready and running.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLogger.Info("Dashboard service shut down successfully.")
	return nil
}
