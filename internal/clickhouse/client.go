package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/config"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/observability"
)

type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

// InsertSearchEvents appends a batch of completed searches.
func (c *Client) InsertSearchEvents(ctx context.Context, events []*models.SearchEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "ch.insert_search_events",
		attribute.Int("batch_size", len(events)),
	)
	defer span.End()

	start := time.Now()

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO search_events (
			event_id, request_id, user_id, query, requested_category, category,
			source, fallback_reason, result_count, redirected, duration_ms, timestamp
		)
	`)
	if err != nil {
		observability.CHQueryDuration.WithLabelValues("insert_events", "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("preparing search event batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(
			e.EventID,
			e.RequestID,
			e.UserID,
			e.Query,
			e.RequestedCategory,
			e.Category,
			e.Source,
			e.FallbackReason,
			uint32(e.ResultCount),
			e.Redirected,
			e.DurationMs,
			e.Timestamp,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("appending search event %s: %w", e.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		observability.CHQueryDuration.WithLabelValues("insert_events", "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("sending search event batch: %w", err)
	}

	observability.CHQueryDuration.WithLabelValues("insert_events", "success").Observe(time.Since(start).Seconds())
	return nil
}

// WriteQueryPerformance records one slow model call.
func (c *Client) WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error {
	query := `
		INSERT INTO query_performance (
			event_type, query_hash, category, duration_ms,
			status, timestamp, trace_id, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	return c.conn.Exec(ctx, query,
		event.EventType,
		event.QueryHash,
		event.Category,
		event.DurationMs,
		event.Status,
		event.Timestamp,
		event.TraceID,
		event.Source,
	)
}

// TopQueries ranks queries searched since the given time. An empty category
// covers every category.
func (c *Client) TopQueries(ctx context.Context, category string, since time.Time, limit int) ([]models.TrendingQuery, error) {
	ctx, span := observability.StartSpan(ctx, "ch.top_queries",
		attribute.String("category", category),
	)
	defer span.End()

	start := time.Now()

	query := `
		SELECT
			lower(query) AS q,
			count() AS cnt
		FROM search_events
		WHERE timestamp >= ? AND (? = '' OR category = ?)
		GROUP BY q
		ORDER BY cnt DESC
		LIMIT ?
	`

	rows, err := c.conn.Query(ctx, query, since, category, category, limit)
	if err != nil {
		observability.CHQueryDuration.WithLabelValues("top_queries", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("ch top queries: %w", err)
	}
	defer rows.Close()

	var out []models.TrendingQuery
	for rows.Next() {
		var q string
		var cnt uint64
		if err := rows.Scan(&q, &cnt); err != nil {
			return nil, fmt.Errorf("scanning top query row: %w", err)
		}
		out = append(out, models.TrendingQuery{Query: q, Score: float64(cnt)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top query rows: %w", err)
	}

	observability.CHQueryDuration.WithLabelValues("top_queries", "success").Observe(time.Since(start).Seconds())
	return out, nil
}

// CategoryStats summarises how searches resolved per category.
type CategoryStats struct {
	Category     string  `json:"category"`
	Searches     uint64  `json:"searches"`
	FallbackRate float64 `json:"fallbackRate"`
	RedirectRate float64 `json:"redirectRate"`
	AvgMs        float64 `json:"avgMs"`
}

func (c *Client) CategoryBreakdown(ctx context.Context, since time.Time) ([]CategoryStats, error) {
	ctx, span := observability.StartSpan(ctx, "ch.category_breakdown")
	defer span.End()

	start := time.Now()

	query := `
		SELECT
			category,
			count() AS searches,
			countIf(source = 'fallback') / count() AS fallback_rate,
			countIf(redirected) / count() AS redirect_rate,
			avg(duration_ms) AS avg_ms
		FROM search_events
		WHERE timestamp >= ?
		GROUP BY category
		ORDER BY searches DESC
	`

	rows, err := c.conn.Query(ctx, query, since)
	if err != nil {
		observability.CHQueryDuration.WithLabelValues("category_breakdown", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("ch category breakdown: %w", err)
	}
	defer rows.Close()

	var out []CategoryStats
	for rows.Next() {
		var s CategoryStats
		if err := rows.Scan(&s.Category, &s.Searches, &s.FallbackRate, &s.RedirectRate, &s.AvgMs); err != nil {
			return nil, fmt.Errorf("scanning category row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating category rows: %w", err)
	}

	observability.CHQueryDuration.WithLabelValues("category_breakdown", "success").Observe(time.Since(start).Seconds())
	return out, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) EnsureTables(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS query_performance (
			event_type String,
			query_hash String,
			category LowCardinality(String),
			duration_ms Float64,
			status LowCardinality(String),
			timestamp DateTime,
			trace_id String,
			source LowCardinality(String)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, query_hash)`,

		`CREATE TABLE IF NOT EXISTS search_events (
			event_id String,
			request_id String,
			user_id String,
			query String,
			requested_category LowCardinality(String),
			category LowCardinality(String),
			source LowCardinality(String),
			fallback_reason String,
			result_count UInt32,
			redirected Bool,
			duration_ms Float64,
			timestamp DateTime
		) ENGINE = ReplacingMergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (category, timestamp, event_id)`,
	}

	for _, ddl := range tables {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}

	c.logger.Info("clickhouse tables ensured")
	return nil
}
