package provider

import (
	"context"
	"sync"
)

// WeatherCall records one MockWeather invocation.
type WeatherCall struct {
	Location  Location
	DayOffset int
}

// MockWeather is a WeatherProvider for tests.
type MockWeather struct {
	mu     sync.Mutex
	calls  []WeatherCall
	Report *Report
	Err    error

	// Func, when set, overrides Report/Err.
	Func func(ctx context.Context, loc Location, dayOffset int) (*Report, error)
}

// Weather implements WeatherProvider.
func (m *MockWeather) Weather(ctx context.Context, loc Location, dayOffset int) (*Report, error) {
	m.mu.Lock()
	m.calls = append(m.calls, WeatherCall{Location: loc, DayOffset: dayOffset})
	m.mu.Unlock()

	if m.Func != nil {
		return m.Func(ctx, loc, dayOffset)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Report == nil {
		return &Report{Location: loc.Name, Description: "晴れ", Temperature: 20, DayOffset: dayOffset}, nil
	}
	r := *m.Report
	if r.Location == "" {
		r.Location = loc.Name
	}
	r.DayOffset = dayOffset
	return &r, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockWeather) Calls() []WeatherCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WeatherCall(nil), m.calls...)
}

// MockNews is a NewsProvider for tests.
type MockNews struct {
	mu      sync.Mutex
	queries []string
	Items   []Headline
	Err     error
}

// Headlines implements NewsProvider.
func (m *MockNews) Headlines(_ context.Context, query string) ([]Headline, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]Headline(nil), m.Items...), nil
}

// Queries returns the queries seen so far.
func (m *MockNews) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}
