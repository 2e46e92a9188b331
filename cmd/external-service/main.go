// Command external-service is the entry point for the External Service: it
// terminates HTTP+WebSocket for ESS subscriber systems, hosts the
// disasterTransmitWorker/reportPublishWorker pollers, the disaster.*
// broker consumer, and the ESS report ingress HTTP API.
//
// Dependencies:
//   - Postgres: disaster_transmit_logs, report_publish_logs, external_systems, devices, mq_receive_logs, api_receive_logs
//   - NATS JetStream: consumes disaster.*, publishes report.external
//   - ESS: WebSocket subscribers, HTTP report submitters
//
// @title       External Service
// @version     1.0
// @description Terminates HTTP+WebSocket for ESS subscriber systems and relays disaster alerts/reports to/from the broker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/broker"
	"github.com/bonghwa-relay/gateway/internal/config"
	"github.com/bonghwa-relay/gateway/internal/dbpool"
	"github.com/bonghwa-relay/gateway/internal/esengine"
	"github.com/bonghwa-relay/gateway/internal/essession"
	"github.com/bonghwa-relay/gateway/internal/httpapi"
	"github.com/bonghwa-relay/gateway/internal/logging"
	"github.com/bonghwa-relay/gateway/internal/poller"
	"github.com/bonghwa-relay/gateway/internal/retention"
	"github.com/bonghwa-relay/gateway/internal/store"
	"github.com/bonghwa-relay/gateway/internal/telemetry"
)

func main() {
	logger, _ := logging.New(os.Getenv("LOG_DEV") == "1")
	defer logger.Sync()

	cfg := config.LoadCommon("external-service", ":8082")

	if cfg.OTLPEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("OTel tracer init failed", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", cfg.OTLPEndpoint))
		}
	}
	tracer := otel.Tracer(cfg.ServiceName)

	pool, err := dbpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("postgres connected")

	bus, err := broker.NewClient(cfg.NatsURL, logger)
	if err != nil {
		logger.Fatal("nats connection failed", zap.Error(err))
	}
	defer bus.Close()

	if err := bus.ProvisionStreams(); err != nil {
		logger.Fatal("nats stream provisioning failed", zap.Error(err))
	}
	logger.Info("nats jetstream ready")

	sessions := essession.New(store.NewConnectionLogStore(pool), logger)
	engine := esengine.New(pool, bus, sessions, cfg.Timers, int32(cfg.MaxRetries), config.DefaultPollBatchSize, logger, tracer)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()
	if err := engine.StartDisasterConsumer(consumerCtx); err != nil {
		logger.Fatal("disaster.* consumer start failed", zap.Error(err))
	}

	pollerCtx, pollerCancel := context.WithCancel(context.Background())
	defer pollerCancel()

	disasterTransmitPoller := poller.New("disasterTransmitWorker", cfg.Timers.PollPeriod, config.DefaultPollerConcurrency,
		engine.FetchPendingDisasterTransmits, engine.HandleDisasterTransmit, logger)
	reportPublishPoller := poller.New("reportPublishWorker", cfg.Timers.PollPeriod, config.DefaultPollerConcurrency,
		engine.FetchPendingReportPublishes, engine.HandleReportPublish, logger)
	go disasterTransmitPoller.Run(pollerCtx)
	go reportPublishPoller.Run(pollerCtx)

	retentionWorker := retention.New(pool, bus, time.Duration(cfg.RetentionDays)*24*time.Hour, false, logger)
	if err := retentionWorker.Start(); err != nil {
		logger.Fatal("retention worker start failed", zap.Error(err))
	}

	wsHandler := essession.NewHandler(sessions, store.NewExternalSystemStore(pool), logger)
	reportAPI := httpapi.New(pool, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(cfg.ServiceName))
	e.Use(middleware.Recover())
	reportAPI.Register(e)
	e.GET("/ws", wsHandler.Upgrade)

	go func() {
		logger.Info("external-service listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	// Shutdown order: pollers/retention first, then the HTTP server, then
	// the broker consumer, then the DB pool/broker connection. The HTTP
	// server shutdown does not close already-upgraded WebSocket connections.
	pollerCancel()
	retentionWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}

	consumerCancel()
	logger.Info("external-service shut down cleanly")
}
