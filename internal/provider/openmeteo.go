package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mago-voice-backend/internal/httpc"
	"mago-voice-backend/internal/upstream"
)

const (
	openMeteoBaseURL    = "https://api.open-meteo.com"
	openMeteoGeoBaseURL = "https://geocoding-api.open-meteo.com"
	providerOpenMeteo   = "open-meteo"
)

// wmoDescription maps WMO weather codes to Japanese descriptions.
var wmoDescription = map[int]string{
	0: "快晴", 1: "晴れ", 2: "一部曇り", 3: "曇り",
	45: "霧", 48: "着氷性の霧",
	51: "弱い霧雨", 53: "霧雨", 55: "強い霧雨",
	61: "小雨", 63: "雨", 65: "大雨",
	71: "小雪", 73: "雪", 75: "大雪", 77: "霧雪",
	80: "にわか雨", 81: "強いにわか雨", 82: "激しいにわか雨",
	85: "にわか雪", 86: "強いにわか雪",
	95: "雷雨", 96: "ひょうを伴う雷雨", 99: "激しいひょうを伴う雷雨",
}

// OpenMeteo implements WeatherProvider with the keyless Open-Meteo APIs.
type OpenMeteo struct {
	baseURL    string
	geoBaseURL string
	client     *http.Client
}

// NewOpenMeteo creates an Open-Meteo provider. Empty base URLs use the public endpoints.
func NewOpenMeteo(baseURL, geoBaseURL string, client *http.Client) *OpenMeteo {
	if baseURL == "" {
		baseURL = openMeteoBaseURL
	}
	if geoBaseURL == "" {
		geoBaseURL = openMeteoGeoBaseURL
	}
	if client == nil {
		client = httpc.Client
	}
	return &OpenMeteo{
		baseURL:    strings.TrimRight(baseURL, "/"),
		geoBaseURL: strings.TrimRight(geoBaseURL, "/"),
		client:     client,
	}
}

// Weather implements WeatherProvider.
func (m *OpenMeteo) Weather(ctx context.Context, loc Location, dayOffset int) (*Report, error) {
	lat, lon, err := m.geocode(ctx, loc)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("current", "temperature_2m,weather_code")
	q.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min")
	q.Set("timezone", "auto")
	q.Set("forecast_days", "3")

	var body struct {
		Current *struct {
			Temperature *float64 `json:"temperature_2m"`
			WeatherCode int      `json:"weather_code"`
		} `json:"current"`
		Daily struct {
			Time        []string  `json:"time"`
			WeatherCode []int     `json:"weather_code"`
			TempMax     []float64 `json:"temperature_2m_max"`
			TempMin     []float64 `json:"temperature_2m_min"`
		} `json:"daily"`
	}
	if err := getJSON(ctx, m.client, providerOpenMeteo, m.baseURL+"/v1/forecast?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}

	if dayOffset <= 0 {
		if body.Current == nil || body.Current.Temperature == nil {
			return nil, upstream.Malformed(providerOpenMeteo, "missing current block")
		}
		return &Report{
			Location:    loc.Name,
			Description: describeWMO(body.Current.WeatherCode),
			Temperature: *body.Current.Temperature,
		}, nil
	}

	d := body.Daily
	if dayOffset >= len(d.Time) || dayOffset >= len(d.WeatherCode) || dayOffset >= len(d.TempMax) || dayOffset >= len(d.TempMin) {
		return nil, upstream.Malformed(providerOpenMeteo, "daily forecast has %d days, need offset %d", len(d.Time), dayOffset)
	}
	return &Report{
		Location:    loc.Name,
		Description: describeWMO(d.WeatherCode[dayOffset]),
		Temperature: (d.TempMax[dayOffset] + d.TempMin[dayOffset]) / 2,
		HasRange:    true,
		TempMax:     d.TempMax[dayOffset],
		TempMin:     d.TempMin[dayOffset],
		DayOffset:   dayOffset,
	}, nil
}

func (m *OpenMeteo) geocode(ctx context.Context, loc Location) (float64, float64, error) {
	name := loc.Query
	if i := strings.Index(name, ","); i > 0 {
		name = name[:i]
	}
	if name == "" {
		name = loc.Name
	}
	q := url.Values{}
	q.Set("name", name)
	q.Set("count", "1")
	q.Set("language", "ja")

	var body struct {
		Results []struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := getJSON(ctx, m.client, providerOpenMeteo, m.geoBaseURL+"/v1/search?"+q.Encode(), nil, &body); err != nil {
		return 0, 0, err
	}
	if len(body.Results) == 0 {
		return 0, 0, upstream.Malformed(providerOpenMeteo, "location %q not found", name)
	}
	return body.Results[0].Latitude, body.Results[0].Longitude, nil
}

func describeWMO(code int) string {
	if d, ok := wmoDescription[code]; ok {
		return d
	}
	return "不明"
}
