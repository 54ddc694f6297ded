// Package intent routes an utterance to exactly one handling path using an
// ordered list of deterministic rules. The first matching rule wins.
package intent

import (
	"strings"
	"unicode"
)

type Tag string

const (
	Forecast      Tag = "forecast"
	Weather       Tag = "weather"
	ClockTime     Tag = "clock_time"
	CalendarDate  Tag = "calendar_date"
	CurrentEvents Tag = "current_events"
	GeneralChat   Tag = "general_chat"
)

// Parameter names extracted by the rules.
const (
	ParamCity      = "city"
	ParamCityQuery = "city_query"
	ParamDayOffset = "day_offset"
	ParamQuery     = "query"
)

// Params carries the values a rule extracted from the utterance.
type Params map[string]string

// Result is the outcome of classification.
type Result struct {
	Tag    Tag
	Params Params
}

// City returns the extracted city, or "" when the rule has none.
func (r Result) City() string { return r.Params[ParamCity] }

// CityQuery returns the provider-facing location for the extracted city.
func (r Result) CityQuery() string {
	if q := r.Params[ParamCityQuery]; q != "" {
		return q
	}
	return r.Params[ParamCity]
}

// DayOffset returns the extracted day offset (0 = today).
func (r Result) DayOffset() int {
	switch r.Params[ParamDayOffset] {
	case "1":
		return 1
	case "2":
		return 2
	default:
		return 0
	}
}

// Query returns the extracted search terms.
func (r Result) Query() string { return r.Params[ParamQuery] }

// Rule is one entry of the ordered rule list.
type Rule struct {
	Tag     Tag
	Match   func(normalized string) bool
	Extract func(r *Router, raw, normalized string) Params
}

// Router classifies utterances. It is safe for concurrent use.
type Router struct {
	rules       []Rule
	defaultCity string
	cities      []City
}

// Option configures a Router.
type Option func(*Router)

// WithDefaultCity sets the city used when a weather utterance names none.
func WithDefaultCity(city string) Option {
	return func(r *Router) {
		if c := strings.TrimSpace(city); c != "" {
			r.defaultCity = c
		}
	}
}

// WithCities replaces the known-city table.
func WithCities(cities []City) Option {
	return func(r *Router) {
		r.cities = append([]City(nil), cities...)
	}
}

// DefaultCity is used when no option overrides it.
const DefaultCity = "東京"

// NewRouter builds a router with the standard ordered rules.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		rules:       defaultRules(),
		defaultCity: DefaultCity,
		cities:      KnownCities(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rules returns the ordered rule tags, top to bottom.
func (r *Router) Rules() []Tag {
	out := make([]Tag, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule.Tag)
	}
	return out
}

// DefaultCityName returns the configured fallback city.
func (r *Router) DefaultCityName() string { return r.defaultCity }

// Classify returns the first matching rule's tag and parameters.
// It never panics on odd input; anything unmatched is GeneralChat.
func (r *Router) Classify(utterance string) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Result{Tag: GeneralChat, Params: Params{}}
		}
	}()

	raw := strings.TrimSpace(utterance)
	if raw == "" {
		return Result{Tag: GeneralChat, Params: Params{}}
	}
	normalized := normalize(raw)
	for _, rule := range r.rules {
		if !rule.Match(normalized) {
			continue
		}
		params := Params{}
		if rule.Extract != nil {
			if p := rule.Extract(r, raw, normalized); p != nil {
				params = p
			}
		}
		return Result{Tag: rule.Tag, Params: params}
	}
	return Result{Tag: GeneralChat, Params: Params{}}
}

// normalize lower-cases, folds full-width ASCII and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r >= '！' && r <= '～' {
			r = r - '！' + '!'
		}
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimSpace(b.String())
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func matchedTerms(s string, needles []string) []string {
	var out []string
	for _, n := range needles {
		if strings.Contains(s, n) {
			out = append(out, n)
		}
	}
	return out
}
