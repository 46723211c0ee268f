package clickhouse

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/config"
	"github.com/onehubexpress/search/internal/models"
)

// Runs against a disposable server, e.g.
// docker run -p 9000:9000 clickhouse/clickhouse-server
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CLICKHOUSE_ADDR")
	if addr == "" {
		t.Skip("CLICKHOUSE_ADDR not set")
	}
	cfg := config.DefaultConfig().ClickHouse
	cfg.Addresses = []string{addr}
	cfg.Database = "default"

	c, err := NewClient(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.EnsureTables(context.Background()); err != nil {
		t.Fatalf("ensuring tables: %v", err)
	}
	return c
}

func TestInsertAndAggregate(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	since := time.Now().Add(-time.Minute).Truncate(time.Second)
	category := "test-" + time.Now().Format("150405.000")
	events := []*models.SearchEvent{
		{EventID: category + "-1", Query: "Biryani", Category: category, Source: models.SourceModel, ResultCount: 5, DurationMs: 800, Timestamp: time.Now()},
		{EventID: category + "-2", Query: "biryani", Category: category, Source: models.SourceFallback, ResultCount: 3, Redirected: true, DurationMs: 15000, Timestamp: time.Now()},
		{EventID: category + "-3", Query: "dosa", Category: category, Source: models.SourceModel, ResultCount: 5, DurationMs: 600, Timestamp: time.Now()},
	}
	if err := c.InsertSearchEvents(ctx, events); err != nil {
		t.Fatalf("inserting: %v", err)
	}

	top, err := c.TopQueries(ctx, category, since, 10)
	if err != nil {
		t.Fatalf("top queries: %v", err)
	}
	if len(top) != 2 || top[0].Query != "biryani" || top[0].Score != 2 {
		t.Errorf("unexpected top queries %+v", top)
	}

	stats, err := c.CategoryBreakdown(ctx, since)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	var found bool
	for _, s := range stats {
		if s.Category != category {
			continue
		}
		found = true
		if s.Searches != 3 {
			t.Errorf("expected 3 searches, got %d", s.Searches)
		}
		if s.FallbackRate < 0.33 || s.FallbackRate > 0.34 {
			t.Errorf("expected fallback rate 1/3, got %f", s.FallbackRate)
		}
	}
	if !found {
		t.Errorf("category %s missing from breakdown", category)
	}
}

func TestInsertSearchEvents_Empty(t *testing.T) {
	var c Client
	if err := c.InsertSearchEvents(context.Background(), nil); err != nil {
		t.Errorf("expected empty batch to be a no-op, got %v", err)
	}
}

func TestWriteQueryPerformance(t *testing.T) {
	c := testClient(t)
	err := c.WriteQueryPerformance(context.Background(), &models.AnalyticsEvent{
		EventType:  "slow_model_call",
		QueryHash:  "abc123",
		Category:   "cab-booking",
		DurationMs: 12000,
		Status:     "critical",
		Timestamp:  time.Now(),
		Source:     "gemini",
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
