package orchestrator

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"github.com/onehubexpress/search/internal/models"
)

const subjectToken = "{subject}"

type listing struct {
	title       string
	description string
	provider    string
	price       string
	rating      string
	eta         string
	image       string
	hasDistance bool
}

func (l listing) result(subject string) models.SearchResult {
	return models.SearchResult{
		Title:       l.title,
		Description: strings.ReplaceAll(l.description, subjectToken, subject),
		Provider:    l.provider,
		Price:       l.price,
		Rating:      l.rating,
		ETA:         l.eta,
		Image:       l.image,
	}
}

const unsplashParams = "?auto=format&fit=crop&w=1170&q=80"

var catalog = map[models.ServiceCategory][]listing{
	models.CategoryFood: {
		{"Spice Junction", "Authentic Indian kitchen serving popular " + subjectToken, "Swiggy", "₹200-₹500", "4.6", "25 min", "https://images.unsplash.com/photo-1589302168068-964664d93dc0" + unsplashParams, true},
		{"Biryani House", "Family recipes and generous portions of " + subjectToken, "Zomato", "₹250-₹450", "4.3", "35 min", "https://images.unsplash.com/photo-1563379091339-03b21ab4a4f8" + unsplashParams, true},
		{"Paradise Restaurant", "Long-running favourite for " + subjectToken + " and North Indian classics", "Swiggy", "₹300-₹600", "4.8", "30 min", "https://images.unsplash.com/photo-1633945274405-b6c8069047b0" + unsplashParams, true},
		{"Green Bowl Kitchen", "Fresh, lighter takes on " + subjectToken, "EatSure", "₹180-₹350", "4.4", "20 min", "", true},
	},
	models.CategoryCab: {
		{"Economy Sedan", "Comfortable ride for up to 4 passengers", "Uber", "₹250", "4.5", "5 min", "https://images.unsplash.com/photo-1549317661-bd32c8ce0db2" + unsplashParams, true},
		{"Premium SUV", "Spacious ride for up to 6 passengers with extra luggage space", "Ola", "₹350", "4.7", "7 min", "https://images.unsplash.com/photo-1533473359331-0135ef1b58bf" + unsplashParams, true},
		{"Mini", "Affordable ride for up to 3 passengers", "Uber", "₹150", "4.3", "3 min", "https://images.unsplash.com/photo-1494905998402-395d579af36f" + unsplashParams, true},
		{"Bike Taxi", "Quickest way through traffic for one passenger", "Rapido", "₹60", "4.2", "2 min", "", true},
	},
	models.CategoryHotel: {
		{"Grand Luxury Hotel", "5-star hotel with pool, spa and fine dining", "Booking.com", "₹8,000/night", "4.8", "Check-in: 2 PM", "https://images.unsplash.com/photo-1566073771259-6a8506099945" + unsplashParams, true},
		{"Business Inn", "3-star hotel suited to business travellers", "MakeMyTrip", "₹3,500/night", "4.2", "Check-in: 12 PM", "https://images.unsplash.com/photo-1551918120-9739cb430c6d" + unsplashParams, true},
		{"Budget Stay", "Affordable accommodation with basic amenities", "OYO", "₹1,200/night", "3.8", "Check-in: 1 PM", "https://images.unsplash.com/photo-1625244724120-1fd1d34d00f6" + unsplashParams, true},
	},
	models.CategoryFuel: {
		{"Doorstep Diesel", "Metered diesel delivered to homes, sites and generators", "Repos", "₹94.50/litre", "4.5", "45 min", "", true},
		{"Petrol Express", "Petrol top-ups delivered wherever your vehicle is parked", "FuelBuddy", "₹102.80/litre", "4.3", "60 min", "", true},
		{"Fuel on Wheels", "Scheduled bulk refills for fleets and housing societies", "MyPetrolPump", "₹96.20/litre", "4.1", "90 min", "", true},
	},
	models.CategoryTrain: {
		{"Rajdhani Express", "Overnight AC service with meals included", "IRCTC", "₹2,800 (3A)", "4.4", "Departs 16:55", "", false},
		{"Shatabdi Express", "Daytime chair car service between major cities", "ConfirmTkt", "₹1,250 (CC)", "4.5", "Departs 06:00", "", false},
		{"Duronto Express", "Non-stop long-distance service with sleeper and AC berths", "ixigo", "₹2,100 (3A)", "4.2", "Departs 22:10", "", false},
	},
}

var categorySuggestions = map[models.ServiceCategory][]string{
	models.CategoryFood: {
		"Best biryani places nearby",
		"Affordable dinner options",
		"Fast food delivery under 30 minutes",
		"Top-rated restaurants in your area",
		"Vegetarian dinner options",
	},
	models.CategoryCab: {
		"Book a premium cab now",
		"Affordable cab options near me",
		"Schedule a ride for tomorrow",
		"Airport pickup services",
		"Shared rides for commuting",
	},
	models.CategoryHotel: {
		"5-star hotels with pool",
		"Budget stays under ₹2000",
		"Hotels with free breakfast",
		"Business hotels with conference rooms",
		"Hotels with late check-out option",
	},
	models.CategoryFuel: {
		"Diesel delivery for generators",
		"Petrol delivery near me",
		"Bulk fuel for housing societies",
		"Schedule a fuel refill",
		"CNG stations nearby",
	},
	models.CategoryTrain: {
		"Tatkal tickets for tomorrow",
		"Rajdhani trains from Delhi",
		"Check PNR status",
		"Sleeper class availability this weekend",
		"Overnight trains to Goa",
	},
	models.CategoryGeneral: {
		"Food delivery services nearby",
		"Book a cab for airport pickup",
		"Best hotels for weekend stay",
		"Quick meal delivery options",
		"Services available in your area",
	},
}

var categoryLabels = map[models.ServiceCategory]string{
	models.CategoryFood:    "food delivery",
	models.CategoryCab:     "cab",
	models.CategoryHotel:   "hotel",
	models.CategoryFuel:    "fuel delivery",
	models.CategoryTrain:   "train",
	models.CategoryGeneral: "",
}

// CategorySuggestions returns a copy of the canned related queries for c.
func CategorySuggestions(c models.ServiceCategory) []string {
	s, ok := categorySuggestions[c]
	if !ok {
		s = categorySuggestions[models.CategoryGeneral]
	}
	return append([]string(nil), s...)
}

// KnownProviders lists every provider a fallback listing of c can carry.
// General covers all domains.
func KnownProviders(c models.ServiceCategory) []string {
	cats := []models.ServiceCategory{c}
	if !c.IsDomain() {
		cats = models.DomainCategories
	}
	seen := make(map[string]bool)
	var out []string
	for _, cat := range cats {
		for _, l := range catalog[cat] {
			if !seen[l.provider] {
				seen[l.provider] = true
				out = append(out, l.provider)
			}
		}
	}
	return out
}

// catalogListings returns the listings for a domain, or one from each domain
// for general.
func catalogListings(c models.ServiceCategory) []listing {
	if c.IsDomain() {
		return catalog[c]
	}
	mixed := make([]listing, 0, len(models.DomainCategories))
	for _, cat := range models.DomainCategories {
		mixed = append(mixed, catalog[cat][0])
	}
	return mixed
}

// catalogResults is the deterministic list used when a model reply parses
// but carries no results.
func catalogResults(c models.ServiceCategory, subject string, limit int) []models.SearchResult {
	listings := catalogListings(c)
	out := make([]models.SearchResult, 0, len(listings))
	for _, l := range listings {
		if len(out) >= limit {
			break
		}
		r := l.result(subject)
		if r.Image == "" {
			r.Image = placeholderImage(r.Title)
		}
		out = append(out, r)
	}
	return out
}

// subjectFor picks what fallback copy talks about: the item, the cuisine or
// the raw query.
func subjectFor(query string, facets models.ExtractedFacets) string {
	switch {
	case facets.Item != "" && facets.Cuisine != "":
		return facets.Cuisine + " " + facets.Item
	case facets.Item != "":
		return facets.Item
	case facets.Cuisine != "":
		return facets.Cuisine + " food"
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return "local favourites"
	}
	return q
}

var placeholderLabels = []string{
	"Popular+Pick",
	"Top+Rated",
	"Nearby",
	"Recommended",
	"Great+Value",
}

// placeholderImage is stable for a given title.
func placeholderImage(title string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(title))))
	label := placeholderLabels[h.Sum32()%uint32(len(placeholderLabels))]
	if title != "" {
		label = url.QueryEscape(title)
	}
	return fmt.Sprintf("https://via.placeholder.com/300x200?text=%s&seed=%08x", label, h.Sum32())
}

func defaultSummary(query string) string {
	return fmt.Sprintf("Here are some results for %q you might like to try.", strings.TrimSpace(query))
}

func fallbackSummary(c models.ServiceCategory, query string) string {
	label := categoryLabels[c]
	if label == "" {
		return defaultSummary(query)
	}
	return fmt.Sprintf("Here are some popular %s options for %q you might like to try.", label, strings.TrimSpace(query))
}
