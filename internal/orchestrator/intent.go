package orchestrator

import (
	"regexp"
	"strings"

	"github.com/onehubexpress/search/internal/models"
)

var (
	multiSpacePattern = regexp.MustCompile(`\s+`)
	punctPattern      = regexp.MustCompile(`[^\p{L}\p{N}\s-]+`)
	nonVegPattern     = regexp.MustCompile(`\bnon[\s-]?veg\w*`)
)

// normalizeQuery lowercases, drops punctuation and collapses whitespace.
func normalizeQuery(q string) string {
	q = strings.ToLower(q)
	q = punctPattern.ReplaceAllString(q, " ")
	q = multiSpacePattern.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

type lexEntry struct {
	canonical string
	terms     []string
}

// lexicon matches any of its terms on word boundaries and reports the
// canonical token of each hit in order of appearance.
type lexicon struct {
	re    *regexp.Regexp
	names []string
}

func newLexicon(entries []lexEntry) *lexicon {
	groups := make([]string, 0, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		quoted := make([]string, len(e.terms))
		for i, t := range e.terms {
			quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(t), " ", `\s+`)
		}
		groups = append(groups, "("+strings.Join(quoted, "|")+")")
		names = append(names, e.canonical)
	}
	re := regexp.MustCompile(`\b(?:` + strings.Join(groups, "|") + `)\b`)
	re.Longest()
	return &lexicon{re: re, names: names}
}

func (l *lexicon) all(text string) []string {
	var out []string
	for _, m := range l.re.FindAllStringSubmatchIndex(text, -1) {
		for g := range l.names {
			if m[2+2*g] >= 0 {
				out = append(out, l.names[g])
				break
			}
		}
	}
	return out
}

func (l *lexicon) first(text string) string {
	if hits := l.all(text); len(hits) > 0 {
		return hits[0]
	}
	return ""
}

var foodItems = []lexEntry{
	{"biryani", []string{"biryani", "biriyani", "briyani", "biriani", "biryanis"}},
	{"pizza", []string{"pizza", "pizzas"}},
	{"burger", []string{"burger", "burgers"}},
	{"pasta", []string{"pasta"}},
	{"noodles", []string{"noodles", "hakka noodles", "chowmein", "chow mein"}},
	{"fried rice", []string{"fried rice"}},
	{"momos", []string{"momo", "momos"}},
	{"dosa", []string{"dosa", "dosas", "masala dosa"}},
	{"idli", []string{"idli", "idlis"}},
	{"thali", []string{"thali", "thalis"}},
	{"paneer", []string{"paneer"}},
	{"kebab", []string{"kebab", "kebabs", "kabab", "kababs", "tikka"}},
	{"shawarma", []string{"shawarma", "shawarmas"}},
	{"rolls", []string{"roll", "rolls", "kathi roll", "wrap", "wraps"}},
	{"sandwich", []string{"sandwich", "sandwiches"}},
	{"sushi", []string{"sushi"}},
	{"salad", []string{"salad", "salads"}},
	{"curry", []string{"curry", "curries", "butter chicken"}},
	{"chicken", []string{"chicken"}},
	{"dessert", []string{"dessert", "desserts", "ice cream", "cake", "cakes"}},
	{"coffee", []string{"coffee", "chai", "tea"}},
}

var cuisines = []lexEntry{
	{"south indian", []string{"south indian"}},
	{"north indian", []string{"north indian", "punjabi"}},
	{"hyderabadi", []string{"hyderabadi"}},
	{"mughlai", []string{"mughlai"}},
	{"indian", []string{"indian", "desi"}},
	{"chinese", []string{"chinese", "indo chinese"}},
	{"italian", []string{"italian"}},
	{"mexican", []string{"mexican"}},
	{"thai", []string{"thai"}},
	{"japanese", []string{"japanese"}},
	{"korean", []string{"korean"}},
	{"continental", []string{"continental"}},
	{"american", []string{"american"}},
	{"mediterranean", []string{"mediterranean", "lebanese", "arabic"}},
}

var priorityWords = []lexEntry{
	{"fast", []string{"fast", "faster", "fastest", "quick", "quickly", "asap", "express", "urgent", "speedy", "instant"}},
	{"cheap", []string{"cheap", "cheaper", "cheapest", "budget", "affordable", "inexpensive", "low cost", "economical", "economy"}},
	{"best", []string{"best", "top", "top rated", "highest rated", "popular", "famous"}},
	{"nearby", []string{"nearby", "near me", "near", "nearest", "closest", "around me"}},
	{"healthy", []string{"healthy", "low calorie", "diet", "keto", "high protein"}},
	{"vegetarian", []string{"vegetarian", "veg", "vegan", "pure veg", "jain"}},
	{"premium", []string{"premium", "luxury", "luxurious", "5 star", "five star", "fancy", "fine dining"}},
}

type domainPattern struct {
	category models.ServiceCategory
	re       *regexp.Regexp
}

// IntentExtractor pre-classifies a query into a service category and pulls
// coarse facets out of it without any I/O.
type IntentExtractor struct {
	domains    []domainPattern
	items      *lexicon
	cuisines   *lexicon
	priorities *lexicon
}

func NewIntentExtractor() *IntentExtractor {
	// Listed in classification priority order; the first match wins.
	domains := []domainPattern{
		{models.CategoryFood, regexp.MustCompile(`\b(food|foods|restaurants?|meals?|eat|eating|dinner|lunch|breakfast|brunch|snacks?|hungry|cuisine|dish(es)?|takeaway|swiggy|zomato)\b`)},
		{models.CategoryCab, regexp.MustCompile(`\b(cabs?|taxis?|rides?|car|uber|ola|rapido|lift|auto ?rickshaw|airport drop|pick ?up)\b`)},
		{models.CategoryHotel, regexp.MustCompile(`\b(hotels?|stay|stays|rooms?|accommodation|lodge|lodging|resorts?|hostels?|check[\s-]?in|oyo)\b`)},
		{models.CategoryFuel, regexp.MustCompile(`\b(fuel|gas|petrol|diesel|cng|refuel|refill)\b`)},
		{models.CategoryTrain, regexp.MustCompile(`\b(trains?|rail|railways?|travel|tickets?|irctc|tatkal|pnr|berth|sleeper)\b`)},
	}
	return &IntentExtractor{
		domains:    domains,
		items:      newLexicon(foodItems),
		cuisines:   newLexicon(cuisines),
		priorities: newLexicon(priorityWords),
	}
}

// Classify returns the highest-priority domain whose pattern matches, or
// CategoryGeneral.
func (ie *IntentExtractor) Classify(query string) models.ServiceCategory {
	text := normalizeQuery(query)
	if text == "" {
		return models.CategoryGeneral
	}
	for _, d := range ie.domains {
		if d.category == models.CategoryFood && ie.items.re.MatchString(text) {
			return d.category
		}
		if d.re.MatchString(text) {
			return d.category
		}
	}
	return models.CategoryGeneral
}

func (ie *IntentExtractor) Extract(query string) models.ExtractedFacets {
	text := normalizeQuery(query)
	facets := models.ExtractedFacets{Priorities: []string{}}
	if text == "" {
		return facets
	}

	facets.Item = ie.items.first(text)
	facets.Cuisine = ie.cuisines.first(text)

	seen := make(map[string]bool)
	for _, p := range ie.priorities.all(nonVegPattern.ReplaceAllString(text, " ")) {
		if !seen[p] {
			seen[p] = true
			facets.Priorities = append(facets.Priorities, p)
		}
	}
	return facets
}

// Analyze runs Classify and Extract over the same query.
func (ie *IntentExtractor) Analyze(query string) (models.ServiceCategory, models.ExtractedFacets) {
	return ie.Classify(query), ie.Extract(query)
}
