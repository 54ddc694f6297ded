package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mago-voice-backend/internal/log"
	"mago-voice-backend/internal/upstream"
)

// maxHeadlines is how many headlines a news fact reads out.
const maxHeadlines = 3

// Facts is the fail-soft boundary between the pipeline and the providers.
// Its methods never return errors.
type Facts struct {
	weather WeatherProvider
	news    NewsProvider
	timeout time.Duration
	logger  *slog.Logger
}

// NewFacts wraps the given providers. Either may be nil, in which case its
// lookups always produce the fallback fact.
func NewFacts(weather WeatherProvider, news NewsProvider, timeout time.Duration) *Facts {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Facts{
		weather: weather,
		news:    news,
		timeout: timeout,
		logger:  log.Component("facts"),
	}
}

// Weather describes the weather at loc for dayOffset (0 today, 1 tomorrow, 2 the day after).
func (f *Facts) Weather(ctx context.Context, loc Location, dayOffset int) Fact {
	if loc.Name == "" {
		loc.Name = loc.Query
	}
	if f.weather == nil {
		return Fact{Text: weatherFallback(loc.Name)}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	report, err := f.weather.Weather(ctx, loc, dayOffset)
	if err == nil && report == nil {
		err = upstream.Malformed("weather", "nil report")
	}
	if err != nil {
		f.logFailure("weather", err, "location", loc.Name, "day_offset", dayOffset)
		return Fact{Text: weatherFallback(loc.Name)}
	}
	return Fact{Text: FormatReport(loc.Name, report), OK: true}
}

// News reads out up to three headlines matching query.
func (f *Facts) News(ctx context.Context, query string) Fact {
	if f.news == nil {
		return Fact{Text: newsFallback}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	items, err := f.news.Headlines(ctx, query)
	if err != nil {
		f.logFailure("news", err, "query", query)
		return Fact{Text: newsFallback}
	}
	return Fact{Text: FormatHeadlines(items), OK: true, Count: len(items)}
}

func (f *Facts) logFailure(kind string, err error, args ...any) {
	args = append(args, "kind", upstream.Kind(err), "error", err)
	f.logger.Warn(kind+" lookup failed", args...)
}

var dayWords = map[int]string{0: "今日", 1: "明日", 2: "明後日"}

const newsFallback = "ニュースを取得できませんでした。"

func weatherFallback(name string) string {
	if name == "" {
		return "天気情報を取得できませんでした。"
	}
	return name + "の天気情報を取得できませんでした。"
}

// FormatReport renders a report as one Japanese sentence.
func FormatReport(name string, r *Report) string {
	if name == "" {
		name = r.Location
	}
	desc := strings.TrimSpace(r.Description)
	if desc == "" {
		desc = "不明"
	}
	if r.DayOffset > 0 || r.HasRange {
		day := dayWords[r.DayOffset]
		if day == "" {
			day = fmt.Sprintf("%d日後", r.DayOffset)
		}
		if r.HasRange {
			return fmt.Sprintf("%sの%sの天気は%s、最高気温は%s度、最低気温は%s度の予想です。",
				name, day, desc, formatTemp(r.TempMax), formatTemp(r.TempMin))
		}
		return fmt.Sprintf("%sの%sの天気は%s、気温は%s度の予想です。", name, day, desc, formatTemp(r.Temperature))
	}
	return fmt.Sprintf("%sの現在の天気は%s、気温は%s度です。", name, desc, formatTemp(r.Temperature))
}

// FormatHeadlines renders the first few headlines.
func FormatHeadlines(items []Headline) string {
	if len(items) == 0 {
		return "該当するニュースは見つかりませんでした。"
	}
	if len(items) > maxHeadlines {
		items = items[:maxHeadlines]
	}
	var b strings.Builder
	b.WriteString("最新のニュースです。")
	for i, h := range items {
		fmt.Fprintf(&b, "%d. %s", i+1, h.Title)
		if !strings.HasSuffix(h.Title, "。") {
			b.WriteString("。")
		}
	}
	return b.String()
}

func formatTemp(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	s = strings.TrimSuffix(s, ".0")
	if s == "-0" {
		s = "0"
	}
	return s
}
