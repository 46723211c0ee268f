package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type ServiceCategory string

const (
	CategoryFood    ServiceCategory = "food-delivery"
	CategoryCab     ServiceCategory = "cab-booking"
	CategoryHotel   ServiceCategory = "hotel-reservation"
	CategoryFuel    ServiceCategory = "fuel-delivery"
	CategoryTrain   ServiceCategory = "train-booking"
	CategoryGeneral ServiceCategory = "general"
)

// DomainCategories lists the five verticals in classification priority order.
var DomainCategories = []ServiceCategory{
	CategoryFood,
	CategoryCab,
	CategoryHotel,
	CategoryFuel,
	CategoryTrain,
}

var categoryAliases = map[string]ServiceCategory{
	"food-delivery":     CategoryFood,
	"food":              CategoryFood,
	"restaurant":        CategoryFood,
	"restaurants":       CategoryFood,
	"cab-booking":       CategoryCab,
	"cab":               CategoryCab,
	"cabs":              CategoryCab,
	"taxi":              CategoryCab,
	"hotel-reservation": CategoryHotel,
	"hotel":             CategoryHotel,
	"hotels":            CategoryHotel,
	"fuel-delivery":     CategoryFuel,
	"fuel":              CategoryFuel,
	"train-booking":     CategoryTrain,
	"train":             CategoryTrain,
	"trains":            CategoryTrain,
	"general":           CategoryGeneral,
}

// ParseServiceCategory maps wire and model spellings to a category.
// Unknown or empty values map to CategoryGeneral.
func ParseServiceCategory(s string) ServiceCategory {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "_", "-")
	key = strings.ReplaceAll(key, " ", "-")
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	return CategoryGeneral
}

func (c ServiceCategory) Valid() bool {
	switch c {
	case CategoryFood, CategoryCab, CategoryHotel, CategoryFuel, CategoryTrain, CategoryGeneral:
		return true
	default:
		return false
	}
}

func (c ServiceCategory) IsDomain() bool {
	return c.Valid() && c != CategoryGeneral
}

func (c ServiceCategory) String() string {
	if c == "" {
		return string(CategoryGeneral)
	}
	return string(c)
}

func (c *ServiceCategory) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("service category must be a string: %w", err)
	}
	*c = ParseServiceCategory(s)
	return nil
}

// Location is either Coordinates or AddressText. It is resolved once when a
// request is decoded so downstream code never re-inspects the wire shape.
type Location interface {
	PromptText() string
	isLocation()
}

type Coordinates struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

func (Coordinates) isLocation() {}

func (c Coordinates) PromptText() string {
	return fmt.Sprintf("Latitude %g, Longitude %g", c.Latitude, c.Longitude)
}

func (c Coordinates) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %g out of range", ErrInvalidLocation, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %g out of range", ErrInvalidLocation, c.Longitude)
	}
	return nil
}

type AddressText string

func (AddressText) isLocation() {}

func (a AddressText) PromptText() string {
	return string(a)
}

func (a AddressText) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"address": string(a)})
}

var ErrInvalidLocation = errors.New("invalid location")

// DecodeLocation accepts null, a bare address string, {"address": "..."} or
// {"latitude": .., "longitude": .., "accuracy": ..}. Unrecognised shapes decode
// to nil so the search proceeds without a location.
func DecodeLocation(raw json.RawMessage) (Location, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
		}
		if s = strings.TrimSpace(s); s == "" {
			return nil, nil
		}
		return AddressText(s), nil
	}

	var obj struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Accuracy  *float64 `json:"accuracy"`
		Address   string   `json:"address"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	if obj.Latitude != nil && obj.Longitude != nil {
		c := Coordinates{Latitude: *obj.Latitude, Longitude: *obj.Longitude, Accuracy: obj.Accuracy}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	}
	if addr := strings.TrimSpace(obj.Address); addr != "" {
		return AddressText(addr), nil
	}
	return nil, nil
}

type SearchRequest struct {
	Query       string          `json:"query"`
	ServiceType ServiceCategory `json:"serviceType"`
	Location    Location        `json:"location"`

	// Set by the transport layer, never decoded from the body.
	UserID    string `json:"-"`
	RequestID string `json:"-"`
}

func (r *SearchRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Query       string          `json:"query"`
		ServiceType string          `json:"serviceType"`
		Location    json.RawMessage `json:"location"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	loc, err := DecodeLocation(raw.Location)
	if err != nil {
		return err
	}
	r.Query = raw.Query
	r.ServiceType = ParseServiceCategory(raw.ServiceType)
	r.Location = loc
	return nil
}

type ExtractedFacets struct {
	Item       string   `json:"item,omitempty"`
	Priorities []string `json:"priorities"`
	Cuisine    string   `json:"cuisine,omitempty"`
}

func (f ExtractedFacets) IsEmpty() bool {
	return f.Item == "" && f.Cuisine == "" && len(f.Priorities) == 0
}

// SearchResult is one marketplace listing. Every non-omitempty field is
// populated before a response leaves the orchestrator.
type SearchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Provider    string `json:"provider"`
	Price       string `json:"price"`
	Rating      string `json:"rating"`
	ETA         string `json:"eta"`
	Distance    string `json:"distance,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Redirect tells the caller to navigate to a category's domain page. The
// response carrying it is the handoff payload.
type Redirect struct {
	Category ServiceCategory `json:"category"`
	Path     string          `json:"path"`
	Query    string          `json:"query"`
	Location Location        `json:"location,omitempty"`
}

func (r *Redirect) UnmarshalJSON(data []byte) error {
	var raw struct {
		Category ServiceCategory `json:"category"`
		Path     string          `json:"path"`
		Query    string          `json:"query"`
		Location json.RawMessage `json:"location"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	loc, err := DecodeLocation(raw.Location)
	if err != nil {
		return err
	}
	*r = Redirect{Category: raw.Category, Path: raw.Path, Query: raw.Query, Location: loc}
	return nil
}

const (
	SourceModel      = "model"
	SourceCache      = "cache"
	SourceStaleCache = "stale_cache"
	SourceFallback   = "fallback"
	SourceValidation = "validation"
)

type SearchResponse struct {
	Results         []SearchResult   `json:"results"`
	Suggestions     []string         `json:"suggestions"`
	Summary         string           `json:"summary"`
	Extracted       *ExtractedFacets `json:"extracted,omitempty"`
	ServiceCategory ServiceCategory  `json:"serviceCategory"`
	Error           string           `json:"error,omitempty"`
	Source          string           `json:"source,omitempty"`
	Redirect        *Redirect        `json:"redirect,omitempty"`
	TookMs          int64            `json:"tookMs"`
}

// CheckComplete reports the first violation of the renderable-shape invariant.
func (r *SearchResponse) CheckComplete() error {
	if r == nil {
		return errors.New("nil response")
	}
	if r.Results == nil {
		return errors.New("results is nil")
	}
	if r.Suggestions == nil {
		return errors.New("suggestions is nil")
	}
	if strings.TrimSpace(r.Summary) == "" {
		return errors.New("summary is empty")
	}
	if !r.ServiceCategory.Valid() {
		return fmt.Errorf("invalid service category %q", r.ServiceCategory)
	}
	for i, res := range r.Results {
		fields := map[string]string{
			"title":       res.Title,
			"description": res.Description,
			"provider":    res.Provider,
			"price":       res.Price,
			"rating":      res.Rating,
			"eta":         res.ETA,
		}
		for name, v := range fields {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("result %d: %s is empty", i, name)
			}
		}
	}
	return nil
}

// Clone returns a deep copy so cached responses are never shared.
func (r *SearchResponse) Clone() *SearchResponse {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Results = append([]SearchResult(nil), r.Results...)
	cp.Suggestions = append([]string(nil), r.Suggestions...)
	if cp.Results == nil {
		cp.Results = []SearchResult{}
	}
	if cp.Suggestions == nil {
		cp.Suggestions = []string{}
	}
	if r.Extracted != nil {
		ex := *r.Extracted
		ex.Priorities = append([]string{}, r.Extracted.Priorities...)
		cp.Extracted = &ex
	}
	if r.Redirect != nil {
		rd := *r.Redirect
		cp.Redirect = &rd
	}
	return &cp
}

type SuggestionResult struct {
	Query       string   `json:"query"`
	Suggestions []string `json:"suggestions"`
	Source      string   `json:"source"`
}

// SearchHistoryEntry is the insert-only history row.
type SearchHistoryEntry struct {
	UserID      string    `json:"user_id" firestore:"user_id"`
	Query       string    `json:"query" firestore:"query"`
	ServiceType string    `json:"service_type" firestore:"service_type"`
	Timestamp   time.Time `json:"timestamp" firestore:"timestamp"`
}

// SearchEvent is published once per completed search.
type SearchEvent struct {
	EventID           string    `json:"event_id"`
	RequestID         string    `json:"request_id,omitempty"`
	UserID            string    `json:"user_id,omitempty"`
	Query             string    `json:"query"`
	RequestedCategory string    `json:"requested_category"`
	Category          string    `json:"category"`
	Source            string    `json:"source"`
	FallbackReason    string    `json:"fallback_reason,omitempty"`
	ResultCount       int       `json:"result_count"`
	Redirected        bool      `json:"redirected"`
	DurationMs        float64   `json:"duration_ms"`
	Timestamp         time.Time `json:"timestamp"`
}

type AnalyticsEvent struct {
	EventType  string    `json:"event_type"`
	QueryHash  string    `json:"query_hash"`
	Category   string    `json:"category"`
	DurationMs float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"trace_id"`
	Source     string    `json:"source"`
}

type TrendingQuery struct {
	Query string  `json:"query"`
	Score float64 `json:"score"`
}
