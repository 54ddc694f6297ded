// Package provider holds the external data collaborators (weather, forecast,
// news) and the fail-soft boundary the dispatch pipeline talks to.
//
// Concrete providers return errors classified by package upstream. The Facts
// wrapper turns every failure into a "could not retrieve" sentence so callers
// never handle provider-specific errors.
package provider

import (
	"context"
	"time"
)

// Location is a normalized place to look up.
type Location struct {
	Name  string // display name, used in replies
	Query string // provider query, e.g. "Tokyo,JP"
}

// Report is a weather observation or a daily forecast.
type Report struct {
	Location    string
	Description string
	Temperature float64

	// Forecast-only range. HasRange is false for current observations.
	HasRange bool
	TempMax  float64
	TempMin  float64

	DayOffset int
}

// WeatherProvider looks up current weather (dayOffset 0) or a daily forecast.
type WeatherProvider interface {
	Weather(ctx context.Context, loc Location, dayOffset int) (*Report, error)
}

// Headline is a single news item.
type Headline struct {
	Title  string
	Source string
	URL    string
}

// NewsProvider returns recent headlines filtered by query terms.
// An empty query returns the top headlines.
type NewsProvider interface {
	Headlines(ctx context.Context, query string) ([]Headline, error)
}

// Fact is a natural-language statement produced at the provider boundary.
// OK is false when the text is a fallback. Count is the number of items
// (headlines) the fact was built from.
type Fact struct {
	Text  string
	OK    bool
	Count int
}

// DefaultTimeout bounds every provider lookup.
const DefaultTimeout = 6 * time.Second
