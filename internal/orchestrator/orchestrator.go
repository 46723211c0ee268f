package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/config"
	"github.com/onehubexpress/search/internal/gemini"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/observability"
	"github.com/onehubexpress/search/internal/resilience"
)

var (
	ErrEmptyQuery     = errors.New("query is required")
	ErrSignInRequired = errors.New("please sign in to search")
)

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type HistoryStore interface {
	Record(ctx context.Context, entry models.SearchHistoryEntry) error
}

type ResponseCache interface {
	GetSearchResponse(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
	SetSearchResponse(ctx context.Context, req *models.SearchRequest, resp *models.SearchResponse) error
	GetStaleResponse(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
	GetSuggestions(ctx context.Context, req *models.SearchRequest) ([]string, error)
	SetSuggestions(ctx context.Context, req *models.SearchRequest, suggestions []string) error
}

type EventPublisher interface {
	PublishSearchEvent(ctx context.Context, event *models.SearchEvent) error
}

const sideEffectTimeout = 2 * time.Second

type Orchestrator struct {
	generator Generator
	history   HistoryStore
	cache     ResponseCache
	events    EventPublisher
	slowCall  *observability.SlowCallDetector

	extractor *IntentExtractor
	prompts   *PromptBuilder
	parser    *ResponseParser
	fallback  *FallbackGenerator

	cfg    config.SearchConfig
	logger *zap.Logger
}

// New wires the pipeline. history, cache, events and slowCall may be nil.
func New(
	generator Generator,
	history HistoryStore,
	cache ResponseCache,
	events EventPublisher,
	slowCall *observability.SlowCallDetector,
	cfg config.SearchConfig,
	logger *zap.Logger,
) *Orchestrator {
	extractor := NewIntentExtractor()
	return &Orchestrator{
		generator: generator,
		history:   history,
		cache:     cache,
		events:    events,
		slowCall:  slowCall,
		extractor: extractor,
		prompts:   NewPromptBuilder(cfg.Market, cfg.Currency, cfg.MaxResults, cfg.MaxSuggestions),
		parser:    NewResponseParser(extractor, cfg.MaxResults, cfg.MaxSuggestions),
		fallback:  NewFallbackGenerator(extractor, nil, cfg.MaxResults),
		cfg:       cfg,
		logger:    logger,
	}
}

// Search always yields a complete response. The only errors are ErrEmptyQuery
// and ErrSignInRequired, both returned before any I/O.
func (o *Orchestrator) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if o.cfg.RequireAuth && req.UserID == "" {
		return nil, ErrSignInRequired
	}
	requested := req.ServiceType
	if !requested.Valid() {
		requested = models.CategoryGeneral
	}

	ctx, span := observability.StartSpan(ctx, "orchestrator.search",
		attribute.String("requested_category", requested.String()),
	)
	defer span.End()

	o.recordHistory(ctx, req.UserID, query, requested)

	local, facets := o.extractor.Analyze(query)
	promptCategory := requested
	if !promptCategory.IsDomain() {
		promptCategory = local
	}
	reconcileFallback := local
	if !reconcileFallback.IsDomain() {
		reconcileFallback = requested
	}

	var (
		resp           *models.SearchResponse
		fallbackReason string
	)

	if cached := o.lookupCache(ctx, req); cached != nil {
		resp = cached
	} else {
		var stage string
		var err error
		resp, stage, err = o.generate(ctx, query, promptCategory, req.Location, facets, reconcileFallback)
		if err != nil {
			fallbackReason = reasonFor(stage, err)
			o.logger.Warn("model path failed, falling back",
				zap.String("request_id", req.RequestID),
				zap.String("stage", stage),
				zap.Error(err),
			)
			resp = o.recover(ctx, req, query, requested, stage, fallbackReason)
		} else {
			o.storeCache(ctx, req, resp)
		}
	}

	if resp.ServiceCategory != requested && resp.ServiceCategory.IsDomain() {
		resp.Redirect = &models.Redirect{
			Category: resp.ServiceCategory,
			Path:     "/services/" + string(resp.ServiceCategory),
			Query:    query,
			Location: req.Location,
		}
		observability.RedirectsTotal.WithLabelValues(resp.ServiceCategory.String()).Inc()
	}

	elapsed := time.Since(start)
	resp.TookMs = elapsed.Milliseconds()

	status := "ok"
	if resp.Error != "" {
		status = "degraded"
	}
	observability.SearchRequestsTotal.WithLabelValues(resp.ServiceCategory.String(), status).Inc()
	observability.SearchRequestDuration.WithLabelValues(resp.ServiceCategory.String(), resp.Source).Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.String("category", resp.ServiceCategory.String()),
		attribute.String("source", resp.Source),
		attribute.Int("results", len(resp.Results)),
	)

	o.publish(ctx, req, query, requested, resp, fallbackReason, elapsed)

	return resp, nil
}

// generate runs prompt, model call and parse. stage names the step that
// failed.
func (o *Orchestrator) generate(ctx context.Context, query string, category models.ServiceCategory, loc models.Location, facets models.ExtractedFacets, reconcile models.ServiceCategory) (*models.SearchResponse, string, error) {
	if o.generator == nil {
		return nil, "credentials", gemini.ErrMissingCredentials
	}

	prompt := o.prompts.Build(query, category, loc, facets)

	callStart := time.Now()
	raw, err := o.generator.Generate(ctx, prompt)
	callDur := time.Since(callStart)

	callStatus := "ok"
	if err != nil {
		callStatus = "error"
	}
	observability.ModelCallDuration.WithLabelValues(callStatus).Observe(callDur.Seconds())
	o.slowCall.Intercept(ctx, query, category.String(), callStatus, callDur)

	if err != nil {
		switch {
		case errors.Is(err, gemini.ErrMissingCredentials):
			return nil, "credentials", err
		case resilience.IsOpen(err):
			return nil, "circuit_open", err
		default:
			return nil, "model_call", err
		}
	}

	parsed, err := o.parser.Parse(raw)
	if err != nil {
		return nil, "parse", err
	}
	return o.parser.Normalize(parsed, query, facets, reconcile), "", nil
}

func reasonFor(stage string, err error) string {
	switch stage {
	case "credentials":
		return fmt.Sprintf("model unavailable: %v", err)
	case "circuit_open":
		return fmt.Sprintf("model call failed: circuit open: %v", err)
	case "parse":
		// UnparsableResponseError already reads "model response unparsable: ...".
		var upe *UnparsableResponseError
		if errors.As(err, &upe) {
			return upe.Error()
		}
		return fmt.Sprintf("model response unparsable: %v", err)
	default:
		return fmt.Sprintf("model call failed: %v", err)
	}
}

// recover prefers a stale cached model response and falls back to the static
// catalog.
func (o *Orchestrator) recover(ctx context.Context, req *models.SearchRequest, query string, requested models.ServiceCategory, stage, reason string) *models.SearchResponse {
	if o.cfg.StaleFallback && o.cache != nil {
		stale, err := o.cache.GetStaleResponse(ctx, req)
		if err != nil {
			o.logger.Warn("stale cache lookup failed", zap.Error(err))
		}
		if stale != nil {
			if verr := stale.CheckComplete(); verr == nil {
				observability.FallbackCounter.WithLabelValues(stage, "stale_cache").Inc()
				out := stale.Clone()
				out.Error = reason
				out.Source = models.SourceStaleCache
				out.Redirect = nil
				return out
			}
		}
	}

	observability.FallbackCounter.WithLabelValues(stage, "static").Inc()
	return o.fallback.Generate(query, requested, req.Location, reason)
}

func (o *Orchestrator) lookupCache(ctx context.Context, req *models.SearchRequest) *models.SearchResponse {
	if o.cache == nil {
		return nil
	}
	cached, err := o.cache.GetSearchResponse(ctx, req)
	if err != nil {
		o.logger.Warn("cache lookup error", zap.Error(err))
		return nil
	}
	if cached == nil || cached.CheckComplete() != nil {
		return nil
	}
	out := cached.Clone()
	out.Source = models.SourceCache
	out.Redirect = nil
	return out
}

func (o *Orchestrator) storeCache(ctx context.Context, req *models.SearchRequest, resp *models.SearchResponse) {
	if o.cache == nil {
		return
	}
	if err := o.cache.SetSearchResponse(ctx, req, resp.Clone()); err != nil {
		o.logger.Warn("cache set error", zap.Error(err))
	}
}

// recordHistory is best-effort; failures never affect the search.
func (o *Orchestrator) recordHistory(ctx context.Context, userID, query string, category models.ServiceCategory) {
	if o.history == nil || userID == "" {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	entry := models.SearchHistoryEntry{
		UserID:      userID,
		Query:       query,
		ServiceType: category.String(),
		Timestamp:   time.Now().UTC(),
	}
	if err := o.history.Record(writeCtx, entry); err != nil {
		observability.HistoryWriteFailures.Inc()
		o.logger.Warn("search history write failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, req *models.SearchRequest, query string, requested models.ServiceCategory, resp *models.SearchResponse, reason string, elapsed time.Duration) {
	if o.events == nil {
		return
	}
	event := &models.SearchEvent{
		EventID:           uuid.NewString(),
		RequestID:         req.RequestID,
		UserID:            req.UserID,
		Query:             query,
		RequestedCategory: requested.String(),
		Category:          resp.ServiceCategory.String(),
		Source:            resp.Source,
		FallbackReason:    reason,
		ResultCount:       len(resp.Results),
		Redirected:        resp.Redirect != nil,
		DurationMs:        float64(elapsed.Microseconds()) / 1000,
		Timestamp:         time.Now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := o.events.PublishSearchEvent(pubCtx, event); err != nil {
		observability.EventsPublishedTotal.WithLabelValues("error").Inc()
		o.logger.Warn("search event publish failed", zap.Error(err))
		return
	}
	observability.EventsPublishedTotal.WithLabelValues("ok").Inc()
}

// Suggest is the lighter pipeline used while the user types. It writes no
// history and never calls the model for queries under the minimum length.
func (o *Orchestrator) Suggest(ctx context.Context, req *models.SearchRequest) (*models.SuggestionResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if o.cfg.RequireAuth && req.UserID == "" {
		return nil, ErrSignInRequired
	}

	result := &models.SuggestionResult{Query: req.Query, Suggestions: []string{}}

	minLen := o.cfg.MinSuggestionLength
	if minLen <= 0 {
		minLen = 3
	}
	if utf8.RuneCountInString(query) < minLen {
		result.Source = "too_short"
		observability.SuggestionRequestsTotal.WithLabelValues(result.Source).Inc()
		return result, nil
	}

	ctx, span := observability.StartSpan(ctx, "orchestrator.suggest")
	defer span.End()

	if o.cache != nil {
		cached, err := o.cache.GetSuggestions(ctx, req)
		if err != nil {
			o.logger.Warn("suggestion cache lookup error", zap.Error(err))
		}
		if len(cached) > 0 {
			result.Suggestions = cached
			result.Source = models.SourceCache
			observability.SuggestionRequestsTotal.WithLabelValues(result.Source).Inc()
			return result, nil
		}
	}

	category := req.ServiceType
	local, facets := o.extractor.Analyze(query)
	if !category.IsDomain() {
		category = local
	}

	suggestions, err := o.modelSuggestions(ctx, query, category, facets)
	if err != nil || len(suggestions) == 0 {
		if err != nil && ctx.Err() == nil {
			o.logger.Debug("model suggestions failed", zap.Error(err))
		}
		result.Suggestions = cleanList(o.fallback.Suggestions(query, category), o.parser.maxSuggestions)
		result.Source = models.SourceFallback
	} else {
		result.Suggestions = suggestions
		result.Source = models.SourceModel
		if o.cache != nil {
			if err := o.cache.SetSuggestions(ctx, req, suggestions); err != nil {
				o.logger.Warn("suggestion cache set error", zap.Error(err))
			}
		}
	}

	observability.SuggestionRequestsTotal.WithLabelValues(result.Source).Inc()
	return result, nil
}

func (o *Orchestrator) modelSuggestions(ctx context.Context, query string, category models.ServiceCategory, facets models.ExtractedFacets) ([]string, error) {
	if o.generator == nil {
		return nil, gemini.ErrMissingCredentials
	}
	raw, err := o.generator.Generate(ctx, o.prompts.BuildSuggestions(query, category, facets))
	if err != nil {
		return nil, err
	}
	parsed, err := o.parser.Parse(raw)
	if err != nil {
		return nil, err
	}
	return cleanList(parsed.Suggestions, o.parser.maxSuggestions), nil
}
