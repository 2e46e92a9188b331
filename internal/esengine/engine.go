// Package esengine implements the External Service's two outbound pipelines:
// the disasterTransmitWorker driving reliable WS
// emit through internal/essession, and the reportPublishWorker driving
// broker publish of ESS-submitted reports. It also hosts the ES-side broker
// consumer that fans an inbound disaster.* message out to one
// disaster_transmit_log row per active subscriber.
package esengine

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/broker"
	"github.com/bonghwa-relay/gateway/internal/config"
	"github.com/bonghwa-relay/gateway/internal/essession"
	"github.com/bonghwa-relay/gateway/internal/store"
)

// DBPool is the subset of *pgxpool.Pool the engine needs, narrowed for
// testability.
type DBPool interface {
	store.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Engine hosts the ES-side broker consumer and pollers.
type Engine struct {
	pool       DBPool
	bus        *broker.Client
	sessions   *essession.Manager
	timers     config.Timers
	maxRetries int32
	batchSize  int
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New constructs an Engine.
func New(pool DBPool, bus *broker.Client, sessions *essession.Manager, timers config.Timers, maxRetries int32, batchSize int, logger *zap.Logger, tracer trace.Tracer) *Engine {
	return &Engine{pool: pool, bus: bus, sessions: sessions, timers: timers, maxRetries: maxRetries, batchSize: batchSize, logger: logger, tracer: tracer}
}

func staleCutoff(window time.Duration) pgtype.Timestamptz {
	var t pgtype.Timestamptz
	t.Scan(time.Now().Add(-window))
	return t
}
