package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/onehubexpress/search/internal/models"
)

// UnparsableResponseError means no JSON object could be recovered from the
// model text.
type UnparsableResponseError struct {
	Raw string
	Err error
}

func (e *UnparsableResponseError) Error() string {
	return fmt.Sprintf("model response unparsable: %v", e.Err)
}

func (e *UnparsableResponseError) Unwrap() error {
	return e.Err
}

var (
	errNoJSONObject = errors.New("no JSON object found")

	fencePattern         = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// flexString accepts any JSON scalar. Models regularly emit ratings and
// prices as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case '{', '[':
		return fmt.Errorf("expected scalar, got %s", data[:1])
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err == nil {
			*f = flexString(n.String())
			return nil
		}
		b, err := strconv.ParseBool(string(data))
		if err != nil {
			return fmt.Errorf("unexpected scalar %s", data)
		}
		*f = flexString(strconv.FormatBool(b))
	}
	return nil
}

// flexList accepts an array of scalars or a single scalar.
type flexList []string

func (l *flexList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []flexString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, string(it))
		}
		*l = out
		return nil
	}
	var one flexString
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if one == "" {
		*l = nil
		return nil
	}
	*l = flexList{string(one)}
	return nil
}

type wireResult struct {
	Title       flexString `json:"title"`
	Description flexString `json:"description"`
	Provider    flexString `json:"provider"`
	Price       flexString `json:"price"`
	Rating      flexString `json:"rating"`
	ETA         flexString `json:"eta"`
	Distance    flexString `json:"distance"`
	Image       flexString `json:"image"`
}

type wireExtracted struct {
	Item       flexString `json:"item"`
	Priorities flexList   `json:"priorities"`
	Cuisine    flexString `json:"cuisine"`
}

type wireResponse struct {
	Results         []wireResult   `json:"results"`
	Suggestions     flexList       `json:"suggestions"`
	Summary         flexString     `json:"summary"`
	Extracted       *wireExtracted `json:"extracted"`
	ServiceCategory flexString     `json:"serviceCategory"`
}

func (w *wireResponse) toResponse() *models.SearchResponse {
	resp := &models.SearchResponse{
		Results:         make([]models.SearchResult, 0, len(w.Results)),
		Suggestions:     []string(w.Suggestions),
		Summary:         string(w.Summary),
		ServiceCategory: models.ParseServiceCategory(string(w.ServiceCategory)),
		Source:          models.SourceModel,
	}
	for _, r := range w.Results {
		resp.Results = append(resp.Results, models.SearchResult{
			Title:       string(r.Title),
			Description: string(r.Description),
			Provider:    string(r.Provider),
			Price:       string(r.Price),
			Rating:      string(r.Rating),
			ETA:         string(r.ETA),
			Distance:    string(r.Distance),
			Image:       string(r.Image),
		})
	}
	if w.Extracted != nil {
		resp.Extracted = &models.ExtractedFacets{
			Item:       string(w.Extracted.Item),
			Priorities: []string(w.Extracted.Priorities),
			Cuisine:    string(w.Extracted.Cuisine),
		}
	}
	return resp
}

// ResponseParser turns raw model text into a complete SearchResponse.
type ResponseParser struct {
	extractor      *IntentExtractor
	maxResults     int
	maxSuggestions int
}

func NewResponseParser(extractor *IntentExtractor, maxResults, maxSuggestions int) *ResponseParser {
	if extractor == nil {
		extractor = NewIntentExtractor()
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if maxSuggestions <= 0 {
		maxSuggestions = 5
	}
	return &ResponseParser{extractor: extractor, maxResults: maxResults, maxSuggestions: maxSuggestions}
}

// Parse tries, in order, a fenced json block, the outermost brace span, and a
// whitespace-collapsed copy of each with trailing commas removed. The
// returned response is not normalized.
func (p *ResponseParser) Parse(raw string) (*models.SearchResponse, error) {
	var candidates []string
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}
	if len(candidates) == 0 {
		return nil, &UnparsableResponseError{Raw: raw, Err: errNoJSONObject}
	}

	var lastErr error
	for _, c := range candidates {
		for _, text := range []string{c, repairJSON(c)} {
			resp, err := decodeResponse(text)
			if err == nil {
				return resp, nil
			}
			lastErr = err
		}
	}
	return nil, &UnparsableResponseError{Raw: raw, Err: lastErr}
}

func repairJSON(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

func decodeResponse(text string) (*models.SearchResponse, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return nil, errNoJSONObject
	}
	var w wireResponse
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, err
	}
	return w.toResponse(), nil
}

// Normalize fills every gap in resp so the result satisfies the
// renderable-shape invariant. category is the locally classified category
// and is used when the model reports none.
func (p *ResponseParser) Normalize(resp *models.SearchResponse, query string, facets models.ExtractedFacets, category models.ServiceCategory) *models.SearchResponse {
	if resp == nil {
		resp = &models.SearchResponse{}
	}
	out := resp.Clone()

	if !out.ServiceCategory.IsDomain() {
		out.ServiceCategory = category
	}
	if !out.ServiceCategory.Valid() {
		out.ServiceCategory = models.CategoryGeneral
	}

	merged := p.mergeFacets(facets, out.Extracted)
	out.Extracted = &merged

	results := make([]models.SearchResult, 0, p.maxResults)
	for _, r := range out.Results {
		if len(results) >= p.maxResults {
			break
		}
		if r, ok := normalizeResult(r); ok {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		results = catalogResults(out.ServiceCategory, subjectFor(query, merged), p.maxResults)
	}
	out.Results = results

	out.Suggestions = cleanList(out.Suggestions, p.maxSuggestions)
	if len(out.Suggestions) == 0 {
		out.Suggestions = CategorySuggestions(out.ServiceCategory)
		if len(out.Suggestions) > p.maxSuggestions {
			out.Suggestions = out.Suggestions[:p.maxSuggestions]
		}
	}

	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		out.Summary = defaultSummary(query)
	}
	if out.Source == "" {
		out.Source = models.SourceModel
	}
	return out
}

func normalizeResult(r models.SearchResult) (models.SearchResult, bool) {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Provider = strings.TrimSpace(r.Provider)
	if r.Title == "" && r.Description == "" && r.Provider == "" {
		return r, false
	}

	if r.Title == "" {
		r.Title = r.Provider
	}
	if r.Description == "" {
		r.Description = "No description available"
	}
	if r.Provider == "" {
		r.Provider = "Partner"
	}
	r.Price = orDefault(r.Price, "Price not available")
	r.Rating = orDefault(r.Rating, "N/A")
	r.ETA = orDefault(r.ETA, "N/A")
	r.Distance = strings.TrimSpace(r.Distance)

	img := strings.TrimSpace(r.Image)
	if !strings.HasPrefix(img, "https://") && !strings.HasPrefix(img, "http://") {
		img = placeholderImage(r.Title)
	}
	r.Image = img
	return r, true
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func cleanList(in []string, limit int) []string {
	out := make([]string, 0, limit)
	seen := make(map[string]bool)
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// mergeFacets keeps the local extraction and fills its gaps from the model.
// Model priorities are mapped onto the local vocabulary.
func (p *ResponseParser) mergeFacets(local models.ExtractedFacets, model *models.ExtractedFacets) models.ExtractedFacets {
	merged := models.ExtractedFacets{
		Item:       local.Item,
		Cuisine:    local.Cuisine,
		Priorities: append([]string{}, local.Priorities...),
	}
	if model == nil {
		return merged
	}
	if merged.Item == "" {
		if item := p.extractor.items.first(normalizeQuery(model.Item)); item != "" {
			merged.Item = item
		} else {
			merged.Item = strings.ToLower(strings.TrimSpace(model.Item))
		}
	}
	if merged.Cuisine == "" {
		if c := p.extractor.cuisines.first(normalizeQuery(model.Cuisine)); c != "" {
			merged.Cuisine = c
		}
	}
	if len(merged.Priorities) == 0 {
		merged.Priorities = p.extractor.Extract(strings.Join(model.Priorities, " ")).Priorities
	}
	return merged
}
