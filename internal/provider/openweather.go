package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mago-voice-backend/internal/httpc"
	"mago-voice-backend/internal/upstream"
)

const (
	openWeatherBaseURL  = "https://api.openweathermap.org"
	providerOpenWeather = "openweather"
)

// OpenWeather implements WeatherProvider using the OpenWeatherMap 2.5 API.
type OpenWeather struct {
	apiKey  string
	baseURL string
	lang    string
	zone    *time.Location
	client  *http.Client
	now     func() time.Time
}

// OpenWeatherOption configures an OpenWeather provider.
type OpenWeatherOption func(*OpenWeather)

// WithOpenWeatherBaseURL overrides the API base URL (tests).
func WithOpenWeatherBaseURL(u string) OpenWeatherOption {
	return func(o *OpenWeather) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithOpenWeatherClient sets the HTTP client.
func WithOpenWeatherClient(c *http.Client) OpenWeatherOption {
	return func(o *OpenWeather) { o.client = c }
}

// WithOpenWeatherClock sets the clock used to pick forecast days.
func WithOpenWeatherClock(now func() time.Time) OpenWeatherOption {
	return func(o *OpenWeather) { o.now = now }
}

// NewOpenWeather creates an OpenWeather provider. zone decides which calendar
// day "tomorrow" refers to.
func NewOpenWeather(apiKey string, zone *time.Location, opts ...OpenWeatherOption) (*OpenWeather, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openweather: %w: api key required", upstream.ErrAuth)
	}
	if zone == nil {
		zone = time.UTC
	}
	o := &OpenWeather{
		apiKey:  apiKey,
		baseURL: openWeatherBaseURL,
		lang:    "ja",
		zone:    zone,
		client:  httpc.Client,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type owCondition struct {
	Description string `json:"description"`
}

type owMain struct {
	Temp    *float64 `json:"temp"`
	TempMin *float64 `json:"temp_min"`
	TempMax *float64 `json:"temp_max"`
}

type owCurrent struct {
	Name    string        `json:"name"`
	Weather []owCondition `json:"weather"`
	Main    owMain        `json:"main"`
}

type owForecast struct {
	List []struct {
		Dt      int64         `json:"dt"`
		Main    owMain        `json:"main"`
		Weather []owCondition `json:"weather"`
	} `json:"list"`
}

func (o *OpenWeather) endpoint(path string, loc Location) string {
	q := url.Values{}
	q.Set("q", loc.Query)
	q.Set("appid", o.apiKey)
	q.Set("units", "metric")
	q.Set("lang", o.lang)
	return o.baseURL + path + "?" + q.Encode()
}

// Weather returns the current observation for dayOffset 0, otherwise the
// aggregated forecast of that calendar day.
func (o *OpenWeather) Weather(ctx context.Context, loc Location, dayOffset int) (*Report, error) {
	if dayOffset <= 0 {
		return o.current(ctx, loc)
	}
	return o.forecast(ctx, loc, dayOffset)
}

func (o *OpenWeather) current(ctx context.Context, loc Location) (*Report, error) {
	var body owCurrent
	if err := getJSON(ctx, o.client, providerOpenWeather, o.endpoint("/data/2.5/weather", loc), nil, &body); err != nil {
		return nil, err
	}
	if len(body.Weather) == 0 || body.Main.Temp == nil {
		return nil, upstream.Malformed(providerOpenWeather, "current weather missing weather/main.temp")
	}
	return &Report{
		Location:    loc.Name,
		Description: body.Weather[0].Description,
		Temperature: *body.Main.Temp,
	}, nil
}

func (o *OpenWeather) forecast(ctx context.Context, loc Location, dayOffset int) (*Report, error) {
	var body owForecast
	if err := getJSON(ctx, o.client, providerOpenWeather, o.endpoint("/data/2.5/forecast", loc), nil, &body); err != nil {
		return nil, err
	}

	target := o.now().In(o.zone).AddDate(0, 0, dayOffset).Format("2006-01-02")
	report := &Report{Location: loc.Name, HasRange: true, DayOffset: dayOffset}
	var (
		found    bool
		bestDiff = 24
		sum      float64
		n        int
	)
	for _, slot := range body.List {
		at := time.Unix(slot.Dt, 0).In(o.zone)
		if at.Format("2006-01-02") != target || slot.Main.Temp == nil {
			continue
		}
		temp := *slot.Main.Temp
		hi, lo := temp, temp
		if slot.Main.TempMax != nil {
			hi = *slot.Main.TempMax
		}
		if slot.Main.TempMin != nil {
			lo = *slot.Main.TempMin
		}
		if !found || hi > report.TempMax {
			report.TempMax = hi
		}
		if !found || lo < report.TempMin {
			report.TempMin = lo
		}
		found = true
		sum += temp
		n++

		// Describe the day by the slot closest to midday.
		if diff := abs(at.Hour() - 12); diff < bestDiff && len(slot.Weather) > 0 {
			bestDiff = diff
			report.Description = slot.Weather[0].Description
		}
	}
	if !found {
		return nil, upstream.Malformed(providerOpenWeather, "forecast has no slots for %s", target)
	}
	report.Temperature = sum / float64(n)
	return report, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
