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
	"golang.org/x/sync/errgroup"

	"github.com/familysavings/golang_services/internal/ledger_service/adapters/eventbus"
	"github.com/familysavings/golang_services/internal/notification_service/app"
	"github.com/familysavings/golang_services/internal/platform/config"
	"github.com/familysavings/golang_services/internal/platform/logger"
	"github.com/familysavings/golang_services/internal/platform/messagebroker"
)

const (
	serviceName     = "notification-service"
	shutdownTimeout = 10 * time.Second
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
	appLogger.Info("Notification service starting...", "metrics_port", cfg.NotificationMetricsPort, "queue_group", cfg.NotificationQueueGroup)

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	consumer := app.NewEventConsumer(natsClient, app.NewLogSender(appLogger), appLogger)

	g, groupCtx := errgroup.WithContext(mainCtx)
	g.Go(func() error {
		return consumer.StartConsuming(groupCtx, eventbus.Wildcard(cfg.EventsSubjectPrefix), cfg.NotificationQueueGroup)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.NotificationMetricsPort), Handler: metricsMux}
	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics serve: %w", err)
		}
		return nil
	})

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Notification service stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Notification service shut down successfully.")
}
