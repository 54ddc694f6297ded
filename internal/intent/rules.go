package intent

import (
	"strconv"
	"strings"
)

// Token tables. Entries are matched against the normalized utterance.
var (
	dayAfterTomorrowTokens = []string{"明後日", "あさって", "day after tomorrow"}
	tomorrowTokens         = []string{"明日", "あした", "tomorrow"}
	weatherTokens          = []string{"天気", "気温", "降水", "雨", "晴れ", "weather", "temperature"}
	clockTokens            = []string{"何時", "なんじ", "時刻", "今の時間", "what time"}
	dateTokens             = []string{"何日", "なんにち", "何曜日", "なんようび", "日付", "what day", "what's the date", "what is the date", "today's date"}
	primeMinisterTokens    = []string{"総理", "首相", "内閣", "prime minister"}
	newsTokens             = []string{"ニュース", "news", "headline"}
)

// defaultRules is the ordered rule list. Forecast must stay above Weather:
// an utterance naming a future day and the weather is a forecast request.
func defaultRules() []Rule {
	return []Rule{
		{
			Tag: Forecast,
			Match: func(s string) bool {
				return futureOffset(s) > 0 && containsAny(s, weatherTokens)
			},
			Extract: extractWeather,
		},
		{
			Tag:     Weather,
			Match:   func(s string) bool { return containsAny(s, weatherTokens) },
			Extract: extractWeather,
		},
		{
			Tag:   ClockTime,
			Match: func(s string) bool { return containsAny(s, clockTokens) },
		},
		{
			Tag:   CalendarDate,
			Match: func(s string) bool { return containsAny(s, dateTokens) },
			Extract: func(_ *Router, _, s string) Params {
				return Params{ParamDayOffset: strconv.Itoa(futureOffset(s))}
			},
		},
		{
			Tag: CurrentEvents,
			Match: func(s string) bool {
				return containsAny(s, primeMinisterTokens) || containsAny(s, newsTokens)
			},
			Extract: extractNews,
		},
	}
}

// futureOffset returns 2 for the day after tomorrow, 1 for tomorrow, else 0.
func futureOffset(s string) int {
	if containsAny(s, dayAfterTomorrowTokens) {
		return 2
	}
	if containsAny(s, tomorrowTokens) {
		return 1
	}
	return 0
}

func extractWeather(r *Router, raw, normalized string) Params {
	name, query := r.extractCity(raw, normalized)
	if name == "" {
		name, query = r.defaultCity, r.defaultCity
		if c, ok := lookupCity(r.cities, r.defaultCity); ok {
			query = c.Query
		}
	}
	return Params{
		ParamCity:      name,
		ParamCityQuery: query,
		ParamDayOffset: strconv.Itoa(futureOffset(normalized)),
	}
}

func extractNews(_ *Router, _, normalized string) Params {
	terms := matchedTerms(normalized, primeMinisterTokens)
	if len(terms) > 0 {
		// Headlines rarely repeat the user's exact word, so search the whole group.
		return Params{ParamQuery: strings.Join([]string{"首相", "総理", "内閣"}, " ")}
	}
	return Params{ParamQuery: ""}
}
