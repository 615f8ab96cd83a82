package database

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/agrikart/catalog/pkg/database"

var (
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_db_query_duration_seconds",
			Help:    "Catalog query latency by table, operation and outcome",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"table", "operation", "outcome"},
	)

	slowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_db_slow_queries_total",
			Help: "Catalog queries at or above the slow query threshold",
		},
		[]string{"table", "operation"},
	)
)

type slowQueryPolicy struct {
	threshold time.Duration
	logger    *slog.Logger
}

var slowPolicy atomic.Pointer[slowQueryPolicy]

// SetSlowQueryLogging sets the threshold at or above which a query is
// counted in catalog_db_slow_queries_total and logged as a warning. A zero
// threshold or nil logger turns it off.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	if threshold <= 0 || logger == nil {
		slowPolicy.Store(nil)
		return
	}
	slowPolicy.Store(&slowQueryPolicy{threshold: threshold, logger: logger})
}

// TraceQuery starts a client span for one statement against table and
// returns the function that ends it:
//
//	ctx, end := database.TraceQuery(ctx, "products", "GetProduct", query)
//	defer func() { end(err) }()
func TraceQuery(ctx context.Context, table, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	statement = compactStatement(statement)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+table+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.sql.table", table),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		elapsed := time.Since(start)

		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		queryDuration.WithLabelValues(table, operation, outcome).Observe(elapsed.Seconds())

		policy := slowPolicy.Load()
		if policy == nil || elapsed < policy.threshold {
			return
		}
		slowQueries.WithLabelValues(table, operation).Inc()

		attrs := []any{
			slog.String("table", table),
			slog.String("operation", operation),
			slog.String("statement", statement),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		policy.logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}

// compactStatement folds the indentation of multi-line SQL into single
// spaces so it reads on one log line.
func compactStatement(statement string) string {
	return strings.Join(strings.Fields(statement), " ")
}
