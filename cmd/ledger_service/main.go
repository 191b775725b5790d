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

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/familysavings/golang_services/internal/ledger_service/adapters/eventbus"
	httpadapter "github.com/familysavings/golang_services/internal/ledger_service/adapters/http"
	"github.com/familysavings/golang_services/internal/ledger_service/adapters/paymentgateway"
	"github.com/familysavings/golang_services/internal/ledger_service/app"
	"github.com/familysavings/golang_services/internal/ledger_service/bootstrap"
	"github.com/familysavings/golang_services/internal/platform/config"
	"github.com/familysavings/golang_services/internal/platform/logger"
	"github.com/familysavings/golang_services/internal/platform/messagebroker"
)

const (
	serviceName     = "ledger-service"
	healthService   = "familysavings.ledger"
	shutdownTimeout = 15 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.NewWithFormat(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
	if err := cfg.Validate(); err != nil {
		appLogger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Ledger service starting...",
		"http_port", cfg.LedgerHTTPPort,
		"grpc_port", cfg.LedgerGRPCPort,
		"metrics_port", cfg.LedgerMetricsPort,
		"store", cfg.StoreDriver,
		"gateway", cfg.PaymentGateway,
	)

	store, closeStore, err := bootstrap.OpenStore(mainCtx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to open ledger store", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	if err := store.Migrate(mainCtx); err != nil {
		appLogger.Error("Failed to apply ledger schema", "error", err)
		os.Exit(1)
	}

	gateway, err := bootstrap.NewPaymentGateway(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to build payment gateway", "error", err)
		os.Exit(1)
	}

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Successfully connected to NATS")

	verifier := paymentgateway.NewHMACVerifier(cfg.CallbackSigningSecret)
	if !verifier.Enabled() {
		appLogger.Warn("CALLBACK_SIGNING_SECRET not set; gateway callbacks are accepted unsigned")
	}

	publisher := eventbus.NewNatsEventPublisher(natsClient, cfg.EventsSubjectPrefix, appLogger)
	dispatcher := app.NewAsyncEventDispatcher(publisher, cfg.EventBufferSize, appLogger)
	ledger := app.NewLedgerService(store, gateway, dispatcher, verifier, appLogger, app.LedgerConfig{
		MaxSettleRetries: cfg.SettleMaxRetries,
	})
	poller := app.NewSettlementPoller(store, gateway, ledger, appLogger, app.PollerConfig{
		PollDelay: cfg.SettlementPollDelay,
		Timeout:   cfg.SettlementTimeout,
		BatchSize: cfg.SettlementBatchSize,
	})
	projection := app.NewProjectionEngine(store, appLogger, nil)

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error { return dispatcher.Run(groupCtx) })
	g.Go(func() error { return poller.Run(groupCtx, cfg.SettlementPollSchedule) })

	// --- gRPC health ---
	grpcMetrics := grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram())
	if err := prometheus.DefaultRegisterer.Register(grpcMetrics); err != nil {
		appLogger.Warn("Failed to register gRPC Prometheus metrics", "error", err)
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.LedgerGRPCPort))
	if err != nil {
		appLogger.Error("Failed to listen for gRPC", "port", cfg.LedgerGRPCPort, "error", err)
		os.Exit(1)
	}
	g.Go(func() error {
		appLogger.Info("gRPC health server starting", "address", grpcListener.Addr().String())
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	// --- Public API ---
	handler := httpadapter.NewHandler(ledger, projection, appLogger, nil)
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.LedgerHTTPPort),
		Handler: httpadapter.NewRouter(handler, httpadapter.RouterConfig{
			JWTSecret:          []byte(cfg.JWTAccessSecret),
			RateLimitPerMinute: cfg.RateLimitPerMinute,
		}, appLogger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	// --- Metrics ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.LedgerMetricsPort), Handler: metricsMux}
	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics serve: %w", err)
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
		appLogger.Info("Initiating graceful shutdown...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var shutdownErrors error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics shutdown: %w", err))
		}
		grpcServer.GracefulStop()
		return shutdownErrors
	})

	appLogger.Info("Ledger service is ready and running.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Ledger service stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Ledger service shut down successfully.")
}
