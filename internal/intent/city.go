package intent

import (
	"regexp"
	"strings"
)

// City maps a spoken place name to the query string sent to weather providers.
type City struct {
	Name    string // display name in replies
	English string // matched case-insensitively, shown when the user spoke English
	Query   string // provider query, e.g. "Tokyo,JP"
}

// KnownCities returns the built-in city table.
func KnownCities() []City {
	return []City{
		{Name: "東京", English: "Tokyo", Query: "Tokyo,JP"},
		{Name: "横浜", English: "Yokohama", Query: "Yokohama,JP"},
		{Name: "大阪", English: "Osaka", Query: "Osaka,JP"},
		{Name: "京都", English: "Kyoto", Query: "Kyoto,JP"},
		{Name: "神戸", English: "Kobe", Query: "Kobe,JP"},
		{Name: "名古屋", English: "Nagoya", Query: "Nagoya,JP"},
		{Name: "札幌", English: "Sapporo", Query: "Sapporo,JP"},
		{Name: "仙台", English: "Sendai", Query: "Sendai,JP"},
		{Name: "広島", English: "Hiroshima", Query: "Hiroshima,JP"},
		{Name: "福岡", English: "Fukuoka", Query: "Fukuoka,JP"},
		{Name: "那覇", English: "Naha", Query: "Naha,JP"},
		{Name: "沖縄", English: "Okinawa", Query: "Naha,JP"},
	}
}

var (
	jaPlacePattern = regexp.MustCompile(`([^\s、。,.!?！？の]{1,10})の(?:明日の|あしたの|明後日の|あさっての|今日の)?(?:天気|気温)`)
	enPlacePattern = regexp.MustCompile(`(?:weather|temperature) (?:in|for|at) ([a-z][a-z .'-]{1,30})`)

	// Words that look like a place in "Xの天気" but are not one.
	notAPlace = map[string]bool{
		"明日": true, "あした": true, "明後日": true, "あさって": true, "今日": true, "きょう": true,
		"今": true, "いま": true, "今週": true, "週末": true, "午後": true, "午前": true,
		"ここ": true, "うち": true, "外": true, "そっち": true, "こっち": true,
	}
	enTrailing = []string{" tomorrow", " today", " now", " please", " this week"}
)

// extractCity finds a city in the utterance. It returns empty strings when
// nothing usable is present; the caller substitutes the default.
func (r *Router) extractCity(raw, normalized string) (name, query string) {
	for _, c := range r.cities {
		if c.Name != "" && strings.Contains(raw, c.Name) {
			return c.Name, cityQuery(c)
		}
		if c.English != "" && strings.Contains(normalized, strings.ToLower(c.English)) {
			return c.English, cityQuery(c)
		}
	}

	if m := jaPlacePattern.FindStringSubmatch(raw); len(m) == 2 {
		place := strings.TrimSpace(m[1])
		if place != "" && !notAPlace[place] {
			return place, place
		}
	}

	if m := enPlacePattern.FindStringSubmatch(normalized); len(m) == 2 {
		place := strings.TrimSpace(m[1])
		for _, suffix := range enTrailing {
			place = strings.TrimSuffix(place, suffix)
		}
		place = strings.Trim(place, " .'-")
		if place != "" {
			place = titleCase(place)
			return place, place
		}
	}
	return "", ""
}

func cityQuery(c City) string {
	if c.Query != "" {
		return c.Query
	}
	return c.Name
}

func lookupCity(cities []City, name string) (City, bool) {
	for _, c := range cities {
		if c.Name == name || strings.EqualFold(c.English, name) {
			return c, true
		}
	}
	return City{}, false
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
