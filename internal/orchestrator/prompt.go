package orchestrator

import (
	"fmt"
	"strings"

	"github.com/onehubexpress/search/internal/models"
)

const responseSchema = `{
  "results": [
    {
      "title": "string",
      "description": "string",
      "provider": "string",
      "price": "string",
      "rating": "string",
      "eta": "string",
      "distance": "string",
      "image": "string"
    }
  ],
  "suggestions": ["string"],
  "summary": "string",
  "extracted": {
    "item": "string",
    "priorities": ["string"],
    "cuisine": "string"
  },
  "serviceCategory": "food-delivery | cab-booking | hotel-reservation | fuel-delivery | train-booking | general"
}`

const suggestionSchema = `{
  "suggestions": ["string"],
  "summary": "string"
}`

type categoryBrief struct {
	role      string
	providers string
	eta       string
}

var categoryBriefs = map[models.ServiceCategory]categoryBrief{
	models.CategoryFood: {
		role:      "The user is browsing food delivery. Suggest restaurants or dishes that can be delivered.",
		providers: "Swiggy, Zomato or EatSure",
		eta:       `the estimated delivery time, for example "30 min"`,
	},
	models.CategoryCab: {
		role:      "The user is booking a cab. Suggest ride options such as mini, sedan, SUV or bike taxi.",
		providers: "Uber, Ola or Rapido",
		eta:       `how long until the driver arrives, for example "5 min"`,
	},
	models.CategoryHotel: {
		role:      "The user is reserving a hotel. Suggest places to stay.",
		providers: "Booking.com, MakeMyTrip or OYO",
		eta:       `the check-in time, for example "Check-in: 2 PM"`,
	},
	models.CategoryFuel: {
		role:      "The user wants fuel delivered. Suggest petrol, diesel or CNG delivery services.",
		providers: "Repos, FuelBuddy or MyPetrolPump",
		eta:       `the estimated fuel delivery time, for example "45 min"`,
	},
	models.CategoryTrain: {
		role:      "The user is booking train travel. Suggest trains and ticket options.",
		providers: "IRCTC, ConfirmTkt or ixigo",
		eta:       `the departure time, for example "Departs 06:00"`,
	},
	models.CategoryGeneral: {
		role:      "Work out which service fits the query best and answer for that service. Mix services only if the query is genuinely ambiguous.",
		providers: "a well-known provider for the chosen service",
		eta:       "when the service can be delivered, picked up or used",
	},
}

// PromptBuilder renders model prompts. Its output depends only on its inputs
// and the construction-time settings.
type PromptBuilder struct {
	market         string
	currency       string
	maxResults     int
	maxSuggestions int
}

func NewPromptBuilder(market, currency string, maxResults, maxSuggestions int) *PromptBuilder {
	if market == "" {
		market = "India"
	}
	if currency == "" {
		currency = "INR"
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if maxSuggestions <= 0 {
		maxSuggestions = 5
	}
	return &PromptBuilder{
		market:         market,
		currency:       currency,
		maxResults:     maxResults,
		maxSuggestions: maxSuggestions,
	}
}

func (pb *PromptBuilder) Build(query string, category models.ServiceCategory, loc models.Location, facets models.ExtractedFacets) string {
	brief, ok := categoryBriefs[category]
	if !ok {
		brief = categoryBriefs[models.CategoryGeneral]
	}

	minResults := 3
	if pb.maxResults < minResults {
		minResults = pb.maxResults
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the search assistant for a multi-service app in %s covering food delivery, cab booking, hotel reservations, fuel delivery and train booking.\n", pb.market)
	b.WriteString(brief.role)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "The user is searching for: %q.\n", strings.TrimSpace(query))
	if loc != nil {
		if text := strings.TrimSpace(loc.PromptText()); text != "" {
			fmt.Fprintf(&b, "User's location: %s.\n", text)
		}
	}
	if hints := facetHints(facets); hints != "" {
		fmt.Fprintf(&b, "Hints detected from the query, keep your own extraction consistent with them: %s.\n", hints)
	}

	b.WriteString("\nRespond with a JSON object that follows this schema exactly:\n")
	b.WriteString(responseSchema)
	b.WriteString("\n\nRules:\n")
	fmt.Fprintf(&b, "- Include between %d and %d results that are realistic for %s.\n", minResults, pb.maxResults, pb.market)
	fmt.Fprintf(&b, "- provider must be a real service such as %s.\n", brief.providers)
	fmt.Fprintf(&b, "- price is a string in %s with the currency symbol.\n", pb.currency)
	b.WriteString("- rating is a string out of 5, for example \"4.5\".\n")
	fmt.Fprintf(&b, "- eta is %s.\n", brief.eta)
	b.WriteString("- distance is the distance from the user, for example \"2.5 km\", or an empty string when unknown.\n")
	b.WriteString("- image is a short description of what the listing looks like.\n")
	fmt.Fprintf(&b, "- suggestions holds up to %d related search queries the user might try next.\n", pb.maxSuggestions)
	b.WriteString("- summary is one user-friendly sentence describing the results.\n")
	b.WriteString("- extracted repeats the item, cuisine and priorities (fast, cheap, best, nearby, healthy, vegetarian, premium) you found in the query.\n")
	b.WriteString("- serviceCategory is the single service that best matches the query.\n")
	b.WriteString("\nReturn only the JSON object. Do not wrap it in markdown and do not add any text before or after it.\n")
	return b.String()
}

// BuildSuggestions renders the lighter prompt used while the user is typing.
func (pb *PromptBuilder) BuildSuggestions(query string, category models.ServiceCategory, facets models.ExtractedFacets) string {
	label := categoryLabels[category]
	if label == "" {
		label = "food delivery, cab, hotel, fuel delivery or train"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You suggest search queries for a multi-service app in %s.\n", pb.market)
	fmt.Fprintf(&b, "The user is typing a %s search: %q.\n", label, strings.TrimSpace(query))
	if hints := facetHints(facets); hints != "" {
		fmt.Fprintf(&b, "Hints detected from the query: %s.\n", hints)
	}
	b.WriteString("\nRespond with a JSON object that follows this schema exactly:\n")
	b.WriteString(suggestionSchema)
	b.WriteString("\n\nRules:\n")
	fmt.Fprintf(&b, "- suggestions holds up to %d short, complete search queries that extend what the user typed.\n", pb.maxSuggestions)
	b.WriteString("- summary is one short sentence.\n")
	b.WriteString("\nReturn only the JSON object. Do not wrap it in markdown and do not add any text before or after it.\n")
	return b.String()
}

func facetHints(f models.ExtractedFacets) string {
	if f.IsEmpty() {
		return ""
	}
	var parts []string
	if f.Item != "" {
		parts = append(parts, "item: "+f.Item)
	}
	if f.Cuisine != "" {
		parts = append(parts, "cuisine: "+f.Cuisine)
	}
	if len(f.Priorities) > 0 {
		parts = append(parts, "priorities: "+strings.Join(f.Priorities, ", "))
	}
	return strings.Join(parts, "; ")
}
