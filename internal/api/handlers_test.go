package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/auth"
	"github.com/onehubexpress/search/internal/clickhouse"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/orchestrator"
	"github.com/onehubexpress/search/internal/suggest"
)

type fakeSearcher struct {
	mu       sync.Mutex
	requests []*models.SearchRequest
	resp     *models.SearchResponse
	err      error
	suggest  func(*models.SearchRequest) (*models.SuggestionResult, error)
}

func (f *fakeSearcher) Search(_ context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeSearcher) Suggest(_ context.Context, req *models.SearchRequest) (*models.SuggestionResult, error) {
	if f.suggest == nil {
		return &models.SuggestionResult{Query: req.Query, Suggestions: []string{}, Source: models.SourceFallback}, nil
	}
	return f.suggest(req)
}

func (f *fakeSearcher) last() *models.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type fakeHistory struct {
	entries []models.SearchHistoryEntry
	err     error
	userID  string
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, userID string, limit int) ([]models.SearchHistoryEntry, error) {
	f.userID, f.limit = userID, limit
	return f.entries, f.err
}

type fakeTrending struct {
	top      []models.TrendingQuery
	err      error
	category string
	limit    int
}

func (f *fakeTrending) TopTrending(_ context.Context, category string, limit int) ([]models.TrendingQuery, error) {
	f.category, f.limit = category, limit
	return f.top, f.err
}

type fakeStats struct {
	top       []models.TrendingQuery
	breakdown []clickhouse.CategoryStats
	err       error
	since     time.Time
}

func (f *fakeStats) TopQueries(_ context.Context, _ string, since time.Time, _ int) ([]models.TrendingQuery, error) {
	f.since = since
	return f.top, f.err
}

func (f *fakeStats) CategoryBreakdown(_ context.Context, since time.Time) ([]clickhouse.CategoryStats, error) {
	f.since = since
	return f.breakdown, f.err
}

func okResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Results: []models.SearchResult{{
			Title: "Paradise Biryani", Description: "Hyderabadi dum biryani", Provider: "Swiggy",
			Price: "₹350", Rating: "4.5", ETA: "30 min",
		}},
		Suggestions:     []string{"Chicken biryani near me"},
		Summary:         "Biryani options near you",
		ServiceCategory: models.CategoryFood,
		Source:          models.SourceModel,
	}
}

func newTestHandler(s Searcher) *Handler {
	return NewHandler(s, nil, nil, nil, suggest.Options{Delay: 5 * time.Millisecond}, zap.NewNop())
}

func decodeSearch(t *testing.T, rr *httptest.ResponseRecorder) models.SearchResponse {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out models.SearchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestSearch_PostSuccess(t *testing.T) {
	s := &fakeSearcher{resp: okResponse()}
	h := newTestHandler(s)

	body := `{"query":"biryani","serviceType":"food-delivery","location":{"latitude":17.38,"longitude":78.48}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body))
	req = req.WithContext(auth.WithUserID(context.WithValue(req.Context(), requestIDKey, "req-1"), "user-1"))
	rr := httptest.NewRecorder()

	h.Search(rr, req)

	out := decodeSearch(t, rr)
	if len(out.Results) != 1 || out.Results[0].Rating != "4.5" {
		t.Errorf("unexpected results %+v", out.Results)
	}

	got := s.last()
	if got.UserID != "user-1" || got.RequestID != "req-1" {
		t.Errorf("expected user and request id propagated, got %+v", got)
	}
	if _, ok := got.Location.(models.Coordinates); !ok {
		t.Errorf("expected coordinates, got %T", got.Location)
	}
}

func TestSearch_ValidationOutcomesAre200(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		err         error
		wantError   string
		wantSummary string
		wantCat     models.ServiceCategory
	}{
		{"empty query", `{"query":"  ","serviceType":"cab-booking"}`, orchestrator.ErrEmptyQuery, "Query parameter is required", "Please provide a search query", models.CategoryCab},
		{"sign in", `{"query":"hotels in goa"}`, orchestrator.ErrSignInRequired, "Please sign in to search", "Sign in to your Onehub Express account to start searching", models.CategoryGeneral},
		{"malformed body", `{"query":`, nil, "Invalid request body", "Please check your search and try again", models.CategoryGeneral},
		{"bad location", `{"query":"x","location":{"latitude":200,"longitude":0}}`, nil, "Invalid request body", "Please check your search and try again", models.CategoryGeneral},
		{"unexpected error", `{"query":"x"}`, errors.New("boom"), "Search is temporarily unavailable", "Please try again in a moment", models.CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeSearcher{err: tt.err, resp: okResponse()})
			rr := httptest.NewRecorder()
			h.Search(rr, httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(tt.body)))

			out := decodeSearch(t, rr)
			if out.Error != tt.wantError {
				t.Errorf("error = %q, want %q", out.Error, tt.wantError)
			}
			if out.Summary != tt.wantSummary {
				t.Errorf("summary = %q, want %q", out.Summary, tt.wantSummary)
			}
			if out.Results == nil || len(out.Results) != 0 {
				t.Errorf("expected empty results array, got %v", out.Results)
			}
			if len(out.Suggestions) == 0 {
				t.Error("expected suggestions on a validation response")
			}
			if out.Source != models.SourceValidation {
				t.Errorf("expected validation source, got %q", out.Source)
			}
			if out.ServiceCategory != tt.wantCat {
				t.Errorf("category = %q, want %q", out.ServiceCategory, tt.wantCat)
			}
		})
	}
}

func TestSearch_ValidationBodyHasEmptyResultsArray(t *testing.T) {
	h := newTestHandler(&fakeSearcher{err: orchestrator.ErrEmptyQuery})
	rr := httptest.NewRecorder()
	h.Search(rr, httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":""}`)))

	if !strings.Contains(rr.Body.String(), `"results":[]`) {
		t.Errorf("expected literal empty results array, got %s", rr.Body.String())
	}
}

func TestParseSearchRequest_GET(t *testing.T) {
	h := newTestHandler(&fakeSearcher{})

	tests := []struct {
		name    string
		url     string
		wantLoc models.Location
		wantCat models.ServiceCategory
		wantErr bool
	}{
		{"coordinates", "/search?q=cab&serviceType=cab&lat=12.97&lng=77.59", models.Coordinates{Latitude: 12.97, Longitude: 77.59}, models.CategoryCab, false},
		{"address", "/search?q=hotel&address=Baga%20Beach%2C%20Goa", models.AddressText("Baga Beach, Goa"), models.CategoryGeneral, false},
		{"no location", "/search?q=petrol&serviceType=fuel-delivery", nil, models.CategoryFuel, false},
		{"bad latitude", "/search?q=x&lat=abc&lng=1", nil, "", true},
		{"latitude out of range", "/search?q=x&lat=91&lng=1", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, err := h.parseSearchRequest(httptest.NewRequest(http.MethodGet, tt.url, nil))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, models.ErrInvalidLocation) {
					t.Errorf("expected ErrInvalidLocation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sr.Location != tt.wantLoc {
				t.Errorf("location = %#v, want %#v", sr.Location, tt.wantLoc)
			}
			if sr.ServiceType != tt.wantCat {
				t.Errorf("category = %q, want %q", sr.ServiceType, tt.wantCat)
			}
		})
	}
}

func TestParseSearchRequest_TruncatesLongQuery(t *testing.T) {
	h := newTestHandler(&fakeSearcher{})
	long := strings.Repeat("a", maxQueryLen+50)
	sr, err := h.parseSearchRequest(httptest.NewRequest(http.MethodGet, "/search?q="+long, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sr.Query) != maxQueryLen {
		t.Errorf("expected query truncated to %d, got %d", maxQueryLen, len(sr.Query))
	}
}

func TestTruncate_CountsRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"ascii", "biryani", 3, "bir"},
		{"multibyte kept whole", "ab₹c", 3, "ab₹"},
		{"devanagari", "बिरयानी", 2, "बि"},
		{"shorter than limit", "ab₹", 10, "ab₹"},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestParseSearchRequest_TruncatesByRunes(t *testing.T) {
	h := newTestHandler(&fakeSearcher{})
	long := strings.Repeat("न", maxQueryLen+20)
	body := `{"query":"` + long + `"}`
	sr, err := h.parseSearchRequest(httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := utf8.RuneCountInString(sr.Query); n != maxQueryLen {
		t.Errorf("expected %d runes, got %d", maxQueryLen, n)
	}
}

func TestSuggestions(t *testing.T) {
	s := &fakeSearcher{suggest: func(req *models.SearchRequest) (*models.SuggestionResult, error) {
		if req.ServiceType != models.CategoryHotel {
			t.Errorf("expected hotel category, got %q", req.ServiceType)
		}
		return &models.SuggestionResult{Query: req.Query, Suggestions: []string{"Hotels in Goa with pool"}, Source: models.SourceModel}, nil
	}}
	h := newTestHandler(s)

	rr := httptest.NewRecorder()
	h.Suggestions(rr, httptest.NewRequest(http.MethodGet, "/api/v1/suggestions?q=hotels+in+goa&serviceType=hotel", nil))

	var out models.SuggestionResult
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if out.Source != models.SourceModel || len(out.Suggestions) != 1 {
		t.Errorf("unexpected result %+v", out)
	}
}

func TestSuggestions_ErrorYieldsEmpty(t *testing.T) {
	s := &fakeSearcher{suggest: func(*models.SearchRequest) (*models.SuggestionResult, error) {
		return nil, orchestrator.ErrSignInRequired
	}}
	h := newTestHandler(s)

	rr := httptest.NewRecorder()
	h.Suggestions(rr, httptest.NewRequest(http.MethodGet, "/api/v1/suggestions?q=cab", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"suggestions":[]`) {
		t.Errorf("expected empty suggestions array, got %s", rr.Body.String())
	}
}

func TestHistory(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := &fakeHistory{entries: []models.SearchHistoryEntry{{UserID: "u1", Query: "biryani", ServiceType: "food-delivery", Timestamp: ts}}}

	tests := []struct {
		name     string
		user     string
		history  HistoryReader
		wantCode int
	}{
		{"anonymous", "", store, http.StatusUnauthorized},
		{"no store", "u1", nil, http.StatusServiceUnavailable},
		{"store error", "u1", &fakeHistory{err: errors.New("unavailable")}, http.StatusServiceUnavailable},
		{"signed in", "u1", store, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeSearcher{}, tt.history, nil, nil, suggest.Options{}, zap.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=5", nil)
			if tt.user != "" {
				req = req.WithContext(auth.WithUserID(req.Context(), tt.user))
			}
			rr := httptest.NewRecorder()
			h.History(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}
		})
	}

	if store.userID != "u1" || store.limit != 5 {
		t.Errorf("expected store called with u1/5, got %s/%d", store.userID, store.limit)
	}
}

func TestTrending(t *testing.T) {
	redisTop := []models.TrendingQuery{{Query: "biryani", Score: 12}}
	chTop := []models.TrendingQuery{{Query: "cab to airport", Score: 4}}

	tests := []struct {
		name       string
		trending   *fakeTrending
		stats      *fakeStats
		wantSource string
		wantFirst  string
	}{
		{"redis", &fakeTrending{top: redisTop}, &fakeStats{top: chTop}, "redis", "biryani"},
		{"redis empty falls back", &fakeTrending{}, &fakeStats{top: chTop}, "clickhouse", "cab to airport"},
		{"redis error falls back", &fakeTrending{err: errors.New("down")}, &fakeStats{top: chTop}, "clickhouse", "cab to airport"},
		{"nothing", &fakeTrending{}, &fakeStats{}, "none", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeSearcher{}, nil, tt.trending, tt.stats, suggest.Options{}, zap.NewNop())
			rr := httptest.NewRecorder()
			h.Trending(rr, httptest.NewRequest(http.MethodGet, "/api/v1/trending?category=food&limit=500", nil))

			var out struct {
				Category string                 `json:"category"`
				Trending []models.TrendingQuery `json:"trending"`
				Source   string                 `json:"source"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if out.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", out.Source, tt.wantSource)
			}
			if out.Category != "food-delivery" {
				t.Errorf("expected canonical category, got %q", out.Category)
			}
			if tt.wantFirst == "" {
				if out.Trending == nil || len(out.Trending) != 0 {
					t.Errorf("expected empty list, got %v", out.Trending)
				}
			} else if len(out.Trending) == 0 || out.Trending[0].Query != tt.wantFirst {
				t.Errorf("unexpected trending %v", out.Trending)
			}
			if tt.trending.limit != maxTrendingLimit {
				t.Errorf("expected limit clamped to %d, got %d", maxTrendingLimit, tt.trending.limit)
			}
		})
	}
}

func TestCategoryStats(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		h := newTestHandler(&fakeSearcher{})
		rr := httptest.NewRecorder()
		h.CategoryStats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/stats/categories", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rr.Code)
		}
	})

	t.Run("bad window", func(t *testing.T) {
		h := NewHandler(&fakeSearcher{}, nil, nil, &fakeStats{}, suggest.Options{}, zap.NewNop())
		rr := httptest.NewRecorder()
		h.CategoryStats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/stats/categories?window=-1h", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("ok", func(t *testing.T) {
		stats := &fakeStats{breakdown: []clickhouse.CategoryStats{{Category: "cab-booking", Searches: 10, FallbackRate: 0.1}}}
		h := NewHandler(&fakeSearcher{}, nil, nil, stats, suggest.Options{}, zap.NewNop())
		rr := httptest.NewRecorder()
		h.CategoryStats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/stats/categories?window=2h", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"cab-booking"`) {
			t.Errorf("unexpected body %s", rr.Body.String())
		}
		if d := time.Since(stats.since); d < 2*time.Hour || d > 2*time.Hour+time.Minute {
			t.Errorf("expected window of 2h, got %v", d)
		}
	})
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 10},
		{"abc", 10},
		{"-3", 10},
		{"7", 7},
		{"99", 50},
	}
	for _, tt := range tests {
		if got := clampInt(tt.raw, 10, 50); got != tt.want {
			t.Errorf("clampInt(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
