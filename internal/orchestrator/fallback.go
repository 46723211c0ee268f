package orchestrator

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/onehubexpress/search/internal/models"
)

// FallbackGenerator builds a complete response from the static catalog when
// the model path fails.
type FallbackGenerator struct {
	extractor  *IntentExtractor
	maxResults int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewFallbackGenerator uses rnd for listing distances. Pass a seeded source
// for reproducible output.
func NewFallbackGenerator(extractor *IntentExtractor, rnd *rand.Rand, maxResults int) *FallbackGenerator {
	if extractor == nil {
		extractor = NewIntentExtractor()
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &FallbackGenerator{extractor: extractor, rnd: rnd, maxResults: maxResults}
}

// Generate never fails. The domain comes from category unless it is general,
// in which case the query is classified locally.
func (g *FallbackGenerator) Generate(query string, category models.ServiceCategory, loc models.Location, reason string) *models.SearchResponse {
	domain := category
	if !domain.IsDomain() {
		domain = g.extractor.Classify(query)
	}
	facets := g.extractor.Extract(query)
	subject := subjectFor(query, facets)

	listings := catalogListings(domain)
	results := make([]models.SearchResult, 0, len(listings))
	for _, l := range listings {
		if len(results) >= g.maxResults {
			break
		}
		r := l.result(subject)
		if r.Image == "" {
			r.Image = placeholderImage(r.Title)
		}
		if l.hasDistance {
			r.Distance = g.distance(loc)
		}
		results = append(results, r)
	}

	if reason == "" {
		reason = "live results unavailable"
	}

	return &models.SearchResponse{
		Results:         results,
		Suggestions:     CategorySuggestions(domain),
		Summary:         fallbackSummary(domain, query),
		Extracted:       &facets,
		ServiceCategory: domain,
		Error:           reason,
		Source:          models.SourceFallback,
	}
}

// Suggestions returns canned related queries for the query's domain.
func (g *FallbackGenerator) Suggestions(query string, category models.ServiceCategory) []string {
	domain := category
	if !domain.IsDomain() {
		domain = g.extractor.Classify(query)
	}
	return CategorySuggestions(domain)
}

// distance is tighter when the caller's coordinates are known.
func (g *FallbackGenerator) distance(loc models.Location) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	spread := 6.0
	if _, ok := loc.(models.Coordinates); ok {
		spread = 4.0
	}
	km := 0.5 + g.rnd.Float64()*spread
	return fmt.Sprintf("%.1f km", km)
}
