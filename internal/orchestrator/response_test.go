package orchestrator

import (
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/onehubexpress/search/internal/models"
)

func newParser() *ResponseParser {
	return NewResponseParser(NewIntentExtractor(), 5, 5)
}

func TestParse_Shapes(t *testing.T) {
	body := `{"results":[{"title":"A","rating":4.5}],"summary":"s","serviceCategory":"cab-booking"}`

	tests := []struct {
		name string
		raw  string
	}{
		{"bare", body},
		{"fenced", "Here you go:\n```json\n" + body + "\n```\nEnjoy!"},
		{"fenced without language", "```\n" + body + "\n```"},
		{"prose around braces", "Sure! " + body + " Hope that helps."},
		{"trailing commas", `{"results":[{"title":"A","rating":4.5,},],"summary":"s","serviceCategory":"cab-booking",}`},
		{"multi-line", "{\n  \"results\": [\n    {\"title\": \"A\", \"rating\": 4.5}\n  ],\n  \"summary\": \"s\",\n  \"serviceCategory\": \"cab-booking\"\n}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := newParser().Parse(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(resp.Results) != 1 || resp.Results[0].Title != "A" {
				t.Fatalf("unexpected results %+v", resp.Results)
			}
			if resp.Results[0].Rating != "4.5" {
				t.Errorf("expected rating 4.5, got %q", resp.Results[0].Rating)
			}
			if resp.ServiceCategory != models.CategoryCab {
				t.Errorf("expected cab-booking, got %s", resp.ServiceCategory)
			}
		})
	}
}

func TestParse_ShapesNormalizeIdentically(t *testing.T) {
	body := `{"results":[{"title":"Paradise Biryani","provider":"Swiggy","price":"₹350","rating":4.5,"eta":"30 min"}],` +
		`"suggestions":["veg biryani"],"summary":"Top picks.","serviceCategory":"food-delivery"}`
	shapes := map[string]string{
		"fenced": "```json\n" + body + "\n```",
		"prose":  "Here is what I found: " + body + " Enjoy your meal!",
	}

	p := newParser()
	ex := NewIntentExtractor()
	query := "biryani fast"
	category, facets := ex.Analyze(query)

	normalize := func(raw string) *models.SearchResponse {
		t.Helper()
		resp, err := p.Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		return p.Normalize(resp, query, facets, category)
	}

	want := normalize(body)
	for name, raw := range shapes {
		t.Run(name, func(t *testing.T) {
			if got := normalize(raw); !reflect.DeepEqual(got, want) {
				t.Errorf("normalized response differs from bare JSON:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestParseOrFallback_AlwaysComplete(t *testing.T) {
	corpus := []string{
		"",
		"   ",
		`{"results":[{"title":"A"`,
		`{"results":[{"title":"A"}]`,
		`{"results":[}`,
		`}{`,
		`{]`,
		"\xff\xfe{\"results\":[]}",
		"{\"summary\":\"\xff\xfe\"}",
		"```json\n```",
		`{"results":[{"title":null,"price":{},"rating":[1,2]}],"suggestions":null}`,
		`{"results":[{}, {}, {}, {}, {}, {}, {}],"serviceCategory":"laundry"}`,
		`[1,2,3]`,
		`{"results":"none","summary":42}`,
		strings.Repeat("{", 200) + strings.Repeat("}", 199),
	}

	p := newParser()
	ex := NewIntentExtractor()
	fb := NewFallbackGenerator(ex, rand.New(rand.NewSource(7)), 5)

	for _, query := range []string{"biryani", "cab to airport"} {
		category, facets := ex.Analyze(query)
		for i, raw := range corpus {
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Errorf("input %d panicked: %v", i, r)
					}
				}()
				var resp *models.SearchResponse
				if parsed, err := p.Parse(raw); err != nil {
					resp = fb.Generate(query, category, nil, reasonFor("parse", err))
				} else {
					resp = p.Normalize(parsed, query, facets, category)
				}
				if err := resp.CheckComplete(); err != nil {
					t.Errorf("input %d (%q): incomplete response: %v", i, raw, err)
				}
				if len(resp.Results) > 5 || len(resp.Suggestions) > 5 {
					t.Errorf("input %d: caps exceeded: %d results, %d suggestions", i, len(resp.Results), len(resp.Suggestions))
				}
			}()
		}
	}
}

func TestParse_Unparsable(t *testing.T) {
	for _, raw := range []string{
		"",
		"I am unable to answer that.",
		"{not json at all}",
		`{"results": "nope"}`,
	} {
		_, err := newParser().Parse(raw)
		var upe *UnparsableResponseError
		if !errors.As(err, &upe) {
			t.Errorf("Parse(%q): expected UnparsableResponseError, got %v", raw, err)
			continue
		}
		if upe.Raw != raw {
			t.Errorf("expected raw text kept, got %q", upe.Raw)
		}
		if !strings.HasPrefix(upe.Error(), "model response unparsable:") {
			t.Errorf("unexpected message %q", upe.Error())
		}
	}
}

func TestParse_SingleSuggestionString(t *testing.T) {
	resp, err := newParser().Parse(`{"suggestions":"veg biryani","summary":"s"}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0] != "veg biryani" {
		t.Errorf("unexpected suggestions %v", resp.Suggestions)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	p := newParser()
	in := &models.SearchResponse{
		Results: []models.SearchResult{
			{Provider: "Swiggy"},
			{Title: "  ", Description: " ", Provider: ""},
			{Title: "Paradise", Image: "https://img.example/p.jpg"},
		},
	}

	out := p.Normalize(in, "biryani", models.ExtractedFacets{Item: "biryani"}, models.CategoryFood)
	if err := out.CheckComplete(); err != nil {
		t.Fatalf("normalized response incomplete: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected blank result dropped, got %d results", len(out.Results))
	}

	first := out.Results[0]
	if first.Title != "Swiggy" || first.Description != "No description available" {
		t.Errorf("unexpected defaults %+v", first)
	}
	if first.Price != "Price not available" || first.Rating != "N/A" || first.ETA != "N/A" {
		t.Errorf("unexpected defaults %+v", first)
	}
	if !strings.HasPrefix(first.Image, "https://via.placeholder.com/") {
		t.Errorf("expected placeholder image, got %q", first.Image)
	}
	if out.Results[1].Image != "https://img.example/p.jpg" {
		t.Errorf("expected real image kept, got %q", out.Results[1].Image)
	}
	if out.Results[1].Provider != "Partner" {
		t.Errorf("expected default provider, got %q", out.Results[1].Provider)
	}

	if out.Summary != `Here are some results for "biryani" you might like to try.` {
		t.Errorf("unexpected summary %q", out.Summary)
	}
	if len(out.Suggestions) == 0 {
		t.Error("expected category suggestions")
	}
	if out.ServiceCategory != models.CategoryFood {
		t.Errorf("expected food-delivery, got %s", out.ServiceCategory)
	}
}

func TestNormalize_EmptyResultsFromCatalog(t *testing.T) {
	p := newParser()
	out := p.Normalize(&models.SearchResponse{}, "pizza", models.ExtractedFacets{Item: "pizza"}, models.CategoryFood)

	if len(out.Results) == 0 {
		t.Fatal("expected catalog results")
	}
	if !strings.Contains(out.Results[0].Description, "pizza") {
		t.Errorf("expected item interpolated, got %q", out.Results[0].Description)
	}

	again := p.Normalize(&models.SearchResponse{}, "pizza", models.ExtractedFacets{Item: "pizza"}, models.CategoryFood)
	for i := range out.Results {
		if out.Results[i] != again.Results[i] {
			t.Errorf("catalog results not deterministic at %d", i)
		}
	}
}

func TestNormalize_Caps(t *testing.T) {
	p := newParser()
	in := &models.SearchResponse{}
	for i := 0; i < 8; i++ {
		in.Results = append(in.Results, models.SearchResult{Title: "t", Provider: "p"})
		in.Suggestions = append(in.Suggestions, string(rune('a'+i)))
	}
	out := p.Normalize(in, "q", models.ExtractedFacets{}, models.CategoryCab)
	if len(out.Results) != 5 {
		t.Errorf("expected 5 results, got %d", len(out.Results))
	}
	if len(out.Suggestions) != 5 {
		t.Errorf("expected 5 suggestions, got %d", len(out.Suggestions))
	}
}

func TestNormalize_CategoryReconciliation(t *testing.T) {
	p := newParser()
	tests := []struct {
		name  string
		model models.ServiceCategory
		local models.ServiceCategory
		want  models.ServiceCategory
	}{
		{"model wins", models.CategoryHotel, models.CategoryFood, models.CategoryHotel},
		{"general model uses local", models.CategoryGeneral, models.CategoryTrain, models.CategoryTrain},
		{"missing model uses local", "", models.CategoryFuel, models.CategoryFuel},
		{"nothing known", "", models.CategoryGeneral, models.CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Normalize(&models.SearchResponse{ServiceCategory: tt.model}, "q", models.ExtractedFacets{}, tt.local)
			if out.ServiceCategory != tt.want {
				t.Errorf("got %s, want %s", out.ServiceCategory, tt.want)
			}
		})
	}
}

func TestNormalize_MergesFacets(t *testing.T) {
	p := newParser()
	in := &models.SearchResponse{
		Extracted: &models.ExtractedFacets{Item: "Biriyani", Cuisine: "South Indian", Priorities: []string{"quick", "cheap"}},
	}

	out := p.Normalize(in, "q", models.ExtractedFacets{Priorities: []string{"best"}}, models.CategoryFood)
	if out.Extracted.Item != "biryani" {
		t.Errorf("expected canonical item from model, got %q", out.Extracted.Item)
	}
	if out.Extracted.Cuisine != "south indian" {
		t.Errorf("expected cuisine from model, got %q", out.Extracted.Cuisine)
	}
	if len(out.Extracted.Priorities) != 1 || out.Extracted.Priorities[0] != "best" {
		t.Errorf("expected local priorities kept, got %v", out.Extracted.Priorities)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	p := newParser()
	in := &models.SearchResponse{Results: []models.SearchResult{{Title: "A"}}}
	p.Normalize(in, "q", models.ExtractedFacets{}, models.CategoryFood)
	if in.Results[0].Rating != "" {
		t.Error("Normalize must work on a copy")
	}
}
