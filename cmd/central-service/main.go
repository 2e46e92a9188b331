// Command central-service is the entry point for the Central Service: it
// maintains the single long-lived authenticated TCP session to the Central
// Alerting System, and hosts the disasterPublishWorker/reportTransmitWorker
// pollers plus the report.external broker consumer.
//
// Dependencies:
//   - Postgres: disaster_publish_logs, report_transmit_logs, tcp_receive_logs, mq_receive_logs
//   - NATS JetStream: publishes disaster.*, consumes report.external
//   - CAS: one TCP session, framed CAP-XML protocol
//
// @title       Central Service
// @version     1.0
// @description Relays CAS disaster alerts to the broker and CAS-bound reports from the broker to CAS.
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
	"github.com/bonghwa-relay/gateway/internal/csengine"
	"github.com/bonghwa-relay/gateway/internal/csession"
	"github.com/bonghwa-relay/gateway/internal/dbpool"
	"github.com/bonghwa-relay/gateway/internal/logging"
	"github.com/bonghwa-relay/gateway/internal/poller"
	"github.com/bonghwa-relay/gateway/internal/retention"
	"github.com/bonghwa-relay/gateway/internal/telemetry"
)

func main() {
	logger, _ := logging.New(os.Getenv("LOG_DEV") == "1")
	defer logger.Sync()

	cfg := config.LoadCommon("central-service", ":8081")
	casCfg := config.LoadCAS()

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

	engine := csengine.New(pool, bus, casCfg, cfg.Timers, int32(cfg.MaxRetries), config.DefaultPollBatchSize, logger, tracer)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()
	if err := engine.StartReportConsumer(consumerCtx); err != nil {
		logger.Fatal("report.external consumer start failed", zap.Error(err))
	}

	pollerCtx, pollerCancel := context.WithCancel(context.Background())
	defer pollerCancel()

	disasterPublishPoller := poller.New("disasterPublishWorker", cfg.Timers.PollPeriod, config.DefaultPollerConcurrency,
		engine.FetchPendingDisasterPublishes, engine.HandleDisasterPublish, logger)
	reportTransmitPoller := poller.New("reportTransmitWorker", cfg.Timers.PollPeriod, config.DefaultPollerConcurrency,
		engine.FetchPendingReportTransmits, engine.HandleReportTransmit, logger)
	go disasterPublishPoller.Run(pollerCtx)
	go reportTransmitPoller.Run(pollerCtx)

	retentionWorker := retention.New(pool, bus, time.Duration(cfg.RetentionDays)*24*time.Hour, true, logger)
	if err := retentionWorker.Start(); err != nil {
		logger.Fatal("retention worker start failed", zap.Error(err))
	}

	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	defer sessionCancel()
	session := csession.New(casCfg, cfg.Timers, uint32(cfg.MaxBodyLength), engine, logger)
	engine.SetSendFunc(session.Send)
	go session.Run(sessionCtx)
	logger.Info("cas session driver started", zap.String("host", casCfg.Host))

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(cfg.ServiceName))
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	go func() {
		logger.Info("central-service listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	// Shutdown order: pollers/retention first, then the CAS
	// session, then the broker consumer, then the DB pool/broker connection.
	pollerCancel()
	retentionWorker.Stop()
	sessionCancel()
	consumerCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	logger.Info("central-service shut down cleanly")
}
