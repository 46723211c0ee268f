package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/auth"
	"github.com/onehubexpress/search/internal/clickhouse"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/orchestrator"
	"github.com/onehubexpress/search/internal/suggest"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB
	maxQueryLen        = 500

	defaultTrendingLimit = 10
	maxTrendingLimit     = 50
	trendingWindow       = 24 * time.Hour
)

type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
	Suggest(ctx context.Context, req *models.SearchRequest) (*models.SuggestionResult, error)
}

type HistoryReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]models.SearchHistoryEntry, error)
}

type TrendingReader interface {
	TopTrending(ctx context.Context, category string, limit int) ([]models.TrendingQuery, error)
}

type QueryStats interface {
	TopQueries(ctx context.Context, category string, since time.Time, limit int) ([]models.TrendingQuery, error)
	CategoryBreakdown(ctx context.Context, since time.Time) ([]clickhouse.CategoryStats, error)
}

// Handler serves the public API. history, trending and stats may be nil when
// the backing store is not configured.
type Handler struct {
	searcher    Searcher
	history     HistoryReader
	trending    TrendingReader
	stats       QueryStats
	suggestOpts suggest.Options
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

func NewHandler(searcher Searcher, history HistoryReader, trending TrendingReader, stats QueryStats, suggestOpts suggest.Options, logger *zap.Logger) *Handler {
	return &Handler{
		searcher:    searcher,
		history:     history,
		trending:    trending,
		stats:       stats,
		suggestOpts: suggestOpts,
		upgrader:    newUpgrader(nil),
		logger:      logger,
	}
}

// AllowOrigins restricts which browser origins may open the suggestion stream.
func (h *Handler) AllowOrigins(origins []string) *Handler {
	h.upgrader = newUpgrader(origins)
	return h
}

var errInvalidBody = errors.New("invalid request body")

// Search always answers 200; validation problems travel in the body.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	req, err := h.parseSearchRequest(r)
	if err != nil {
		h.logger.Info("rejected search request", zap.String("request_id", requestID), zap.Error(err))
		h.writeJSON(w, http.StatusOK, validationResponse(errInvalidBody, models.CategoryGeneral))
		return
	}
	req.RequestID = requestID
	req.UserID = auth.UserIDFromContext(ctx)

	resp, err := h.searcher.Search(ctx, req)
	if err != nil {
		if !errors.Is(err, orchestrator.ErrEmptyQuery) && !errors.Is(err, orchestrator.ErrSignInRequired) {
			h.logger.Error("search failed",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
		h.writeJSON(w, http.StatusOK, validationResponse(err, req.ServiceType))
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := &models.SearchRequest{
		Query:       truncate(r.URL.Query().Get("q"), maxQueryLen),
		ServiceType: models.ParseServiceCategory(r.URL.Query().Get("serviceType")),
		UserID:      auth.UserIDFromContext(ctx),
		RequestID:   RequestIDFromContext(ctx),
	}

	result, err := h.searcher.Suggest(ctx, req)
	if err != nil {
		h.writeJSON(w, http.StatusOK, models.SuggestionResult{
			Query:       req.Query,
			Suggestions: []string{},
			Source:      models.SourceValidation,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "sign_in_required", "Please sign in to see your search history")
		return
	}
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "history_unavailable", "Search history is not available")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.history.Recent(ctx, userID, limit)
	if err != nil {
		h.logger.Error("history read failed",
			zap.String("request_id", RequestIDFromContext(ctx)),
			zap.Error(err),
		)
		h.writeError(w, http.StatusServiceUnavailable, "history_unavailable", "Search history is temporarily unavailable")
		return
	}
	if entries == nil {
		entries = []models.SearchHistoryEntry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"history": entries,
	})
}

// Trending reads the live Redis sets and falls back to the analytics store
// when they are empty or unreachable.
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category := ""
	if c := r.URL.Query().Get("category"); c != "" {
		category = models.ParseServiceCategory(c).String()
	}
	limit := clampInt(r.URL.Query().Get("limit"), defaultTrendingLimit, maxTrendingLimit)

	source := "none"
	var results []models.TrendingQuery

	if h.trending != nil {
		top, err := h.trending.TopTrending(ctx, category, limit)
		if err != nil {
			h.logger.Warn("trending cache error", zap.Error(err))
		}
		if len(top) > 0 {
			results, source = top, "redis"
		}
	}

	if results == nil && h.stats != nil {
		top, err := h.stats.TopQueries(ctx, category, time.Now().Add(-trendingWindow), limit)
		if err != nil {
			h.logger.Warn("trending analytics error", zap.Error(err))
		}
		if len(top) > 0 {
			results, source = top, "clickhouse"
		}
	}

	if results == nil {
		results = []models.TrendingQuery{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"trending": results,
		"source":   source,
	})
}

// CategoryStats reports per-category search volume and fallback rate.
func (h *Handler) CategoryStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeError(w, http.StatusServiceUnavailable, "analytics_unavailable", "Analytics are not available")
		return
	}

	window := trendingWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_window", "window must be a positive duration such as 24h")
			return
		}
		window = d
	}

	stats, err := h.stats.CategoryBreakdown(r.Context(), time.Now().Add(-window))
	if err != nil {
		h.logger.Error("category breakdown failed", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "analytics_unavailable", "Analytics are temporarily unavailable")
		return
	}
	if stats == nil {
		stats = []clickhouse.CategoryStats{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"window":     window.String(),
		"categories": stats,
	})
}

func (h *Handler) parseSearchRequest(r *http.Request) (*models.SearchRequest, error) {
	if r.Method == http.MethodPost {
		var req models.SearchRequest
		limited := io.LimitReader(r.Body, maxRequestBodySize)
		if err := json.NewDecoder(limited).Decode(&req); err != nil {
			return nil, err
		}
		req.Query = truncate(req.Query, maxQueryLen)
		return &req, nil
	}

	q := r.URL.Query()
	req := &models.SearchRequest{
		Query:       truncate(q.Get("q"), maxQueryLen),
		ServiceType: models.ParseServiceCategory(q.Get("serviceType")),
	}

	loc, err := locationFromQuery(q.Get("lat"), q.Get("lng"), q.Get("address"))
	if err != nil {
		return nil, err
	}
	req.Location = loc
	return req, nil
}

func locationFromQuery(lat, lng, address string) (models.Location, error) {
	if lat != "" && lng != "" {
		la, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: lat %q", models.ErrInvalidLocation, lat)
		}
		lo, err := strconv.ParseFloat(lng, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: lng %q", models.ErrInvalidLocation, lng)
		}
		c := models.Coordinates{Latitude: la, Longitude: lo}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	}
	if a := strings.TrimSpace(address); a != "" {
		return models.AddressText(a), nil
	}
	return nil, nil
}

// validationResponse renders a rejected search in the same shape as a
// successful one so clients have a single code path.
func validationResponse(err error, category models.ServiceCategory) *models.SearchResponse {
	if !category.Valid() {
		category = models.CategoryGeneral
	}
	resp := &models.SearchResponse{
		Results:         []models.SearchResult{},
		Suggestions:     orchestrator.CategorySuggestions(category),
		ServiceCategory: category,
		Source:          models.SourceValidation,
	}
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		resp.Error = "Query parameter is required"
		resp.Summary = "Please provide a search query"
	case errors.Is(err, orchestrator.ErrSignInRequired):
		resp.Error = "Please sign in to search"
		resp.Summary = "Sign in to your Onehub Express account to start searching"
	case errors.Is(err, errInvalidBody):
		resp.Error = "Invalid request body"
		resp.Summary = "Please check your search and try again"
	default:
		resp.Error = "Search is temporarily unavailable"
		resp.Summary = "Please try again in a moment"
	}
	return resp
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func clampInt(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
