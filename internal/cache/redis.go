package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/config"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/observability"
)

const trendingAll = "all"

type RedisCache struct {
	client redis.UniversalClient
	ttl    config.CacheTTLConfig
	logger *zap.Logger
}

func NewRedisCache(cfg config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache connected", zap.Strings("addresses", cfg.Addresses))

	return &RedisCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (rc *RedisCache) GetSearchResponse(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	return rc.getResponse(ctx, "search", rc.buildSearchKey(req))
}

// SetSearchResponse writes the fresh entry and a longer-lived stale copy used
// when the model is unavailable.
func (rc *RedisCache) SetSearchResponse(ctx context.Context, req *models.SearchRequest, resp *models.SearchResponse) error {
	if err := rc.setResponse(ctx, rc.buildSearchKey(req), resp, rc.ttlForCategory(resp.ServiceCategory)); err != nil {
		return err
	}
	return rc.setResponse(ctx, rc.buildStaleKey(req), resp, rc.ttl.StaleFallback)
}

func (rc *RedisCache) GetStaleResponse(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	return rc.getResponse(ctx, "stale", rc.buildStaleKey(req))
}

func (rc *RedisCache) GetSuggestions(ctx context.Context, req *models.SearchRequest) ([]string, error) {
	val, err := rc.client.Get(ctx, rc.buildSuggestionKey(req)).Result()
	if err == redis.Nil {
		observability.CacheMisses.WithLabelValues("suggestions").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get suggestions: %w", err)
	}
	observability.CacheHits.WithLabelValues("suggestions").Inc()
	var results []string
	if err := json.Unmarshal([]byte(val), &results); err != nil {
		return nil, fmt.Errorf("cache unmarshal suggestions: %w", err)
	}
	return results, nil
}

func (rc *RedisCache) SetSuggestions(ctx context.Context, req *models.SearchRequest, suggestions []string) error {
	data, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("cache marshal suggestions: %w", err)
	}
	return rc.client.Set(ctx, rc.buildSuggestionKey(req), data, rc.ttl.Suggestions).Err()
}

// IncrementTrending bumps the query's score in its category set and in the
// cross-category set.
func (rc *RedisCache) IncrementTrending(ctx context.Context, category models.ServiceCategory, query string) error {
	member := normalizeForKey(query)
	if member == "" {
		return nil
	}
	pipe := rc.client.TxPipeline()
	for _, key := range []string{trendingKey(category.String()), trendingKey(trendingAll)} {
		pipe.ZIncrBy(ctx, key, 1, member)
		pipe.Expire(ctx, key, rc.ttl.Trending)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache increment trending: %w", err)
	}
	return nil
}

// TopTrending returns the highest scoring queries. An empty category reads
// the cross-category set.
func (rc *RedisCache) TopTrending(ctx context.Context, category string, limit int) ([]models.TrendingQuery, error) {
	if category == "" {
		category = trendingAll
	}
	if limit <= 0 {
		limit = 10
	}
	zs, err := rc.client.ZRevRangeWithScores(ctx, trendingKey(category), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache get trending: %w", err)
	}
	out := make([]models.TrendingQuery, 0, len(zs))
	for _, z := range zs {
		q, _ := z.Member.(string)
		out = append(out, models.TrendingQuery{Query: q, Score: z.Score})
	}
	return out, nil
}

func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) getResponse(ctx context.Context, kind, key string) (*models.SearchResponse, error) {
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.WithLabelValues(kind).Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	observability.CacheHits.WithLabelValues(kind).Inc()
	resp, err := decodeResponse([]byte(val))
	if err != nil {
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}
	return resp, nil
}

func (rc *RedisCache) setResponse(ctx context.Context, key string, resp *models.SearchResponse, ttl time.Duration) error {
	data, err := encodeResponse(resp)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return rc.client.Set(ctx, key, data, ttl).Err()
}

// cachedResponse mirrors SearchResponse without the per-request fields.
// Location is an interface and is not stored; redirects are recomputed.
type cachedResponse struct {
	Results         []models.SearchResult   `json:"results"`
	Suggestions     []string                `json:"suggestions"`
	Summary         string                  `json:"summary"`
	Extracted       *models.ExtractedFacets `json:"extracted,omitempty"`
	ServiceCategory models.ServiceCategory  `json:"serviceCategory"`
}

func encodeResponse(resp *models.SearchResponse) ([]byte, error) {
	return json.Marshal(cachedResponse{
		Results:         resp.Results,
		Suggestions:     resp.Suggestions,
		Summary:         resp.Summary,
		Extracted:       resp.Extracted,
		ServiceCategory: resp.ServiceCategory,
	})
}

func decodeResponse(data []byte) (*models.SearchResponse, error) {
	var c cachedResponse
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{
		Results:         c.Results,
		Suggestions:     c.Suggestions,
		Summary:         c.Summary,
		Extracted:       c.Extracted,
		ServiceCategory: c.ServiceCategory,
		Source:          models.SourceModel,
	}
	if resp.Results == nil {
		resp.Results = []models.SearchResult{}
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}
	return resp, nil
}

func (rc *RedisCache) buildSearchKey(req *models.SearchRequest) string {
	return fmt.Sprintf("sr:%s", hashString(searchKeyMaterial(req)))
}

func (rc *RedisCache) buildStaleKey(req *models.SearchRequest) string {
	return fmt.Sprintf("sr:stale:%s", hashString(searchKeyMaterial(req)))
}

func (rc *RedisCache) buildSuggestionKey(req *models.SearchRequest) string {
	raw := fmt.Sprintf("%s|%s", normalizeForKey(req.Query), req.ServiceType.String())
	return fmt.Sprintf("sg:%s", hashString(raw))
}

func searchKeyMaterial(req *models.SearchRequest) string {
	return fmt.Sprintf("%s|%s|%s", normalizeForKey(req.Query), req.ServiceType.String(), locationBucket(req.Location))
}

// locationBucket groups nearby callers so they share entries. Two decimal
// places is roughly a kilometre.
func locationBucket(loc models.Location) string {
	switch l := loc.(type) {
	case models.Coordinates:
		return fmt.Sprintf("%.2f,%.2f", l.Latitude, l.Longitude)
	case models.AddressText:
		return "addr:" + normalizeForKey(string(l))
	default:
		return "-"
	}
}

func normalizeForKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func trendingKey(category string) string {
	return "trend:" + category
}

// ttlForCategory shortens the fresh TTL for cabs, whose arrival times drift
// within minutes.
func (rc *RedisCache) ttlForCategory(c models.ServiceCategory) time.Duration {
	if c == models.CategoryCab && rc.ttl.SearchResults > time.Minute {
		return time.Minute
	}
	return rc.ttl.SearchResults
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
