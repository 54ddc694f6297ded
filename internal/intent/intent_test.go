package intent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mago-voice-backend/internal/intent"
)

func TestRouter_RuleOrder(t *testing.T) {
	r := intent.NewRouter()
	rules := r.Rules()

	indexOf := func(tag intent.Tag) int {
		for i, got := range rules {
			if got == tag {
				return i
			}
		}
		return -1
	}
	assert.Less(t, indexOf(intent.Forecast), indexOf(intent.Weather), "forecast must be checked before weather")
	assert.NotContains(t, rules, intent.GeneralChat, "general chat is the fallthrough, not a rule")
}

func TestRouter_ForecastBeatsWeather(t *testing.T) {
	r := intent.NewRouter()
	for _, u := range []string{
		"明日の天気",
		"明日の東京の天気は？",
		"東京の明日の天気",
		"あしたの気温どう？",
		"明後日の大阪の天気",
		"What's the weather tomorrow?",
		"tomorrow weather in Osaka",
		"ＴＯＭＯＲＲＯＷ　ＷＥＡＴＨＥＲ",
	} {
		t.Run(u, func(t *testing.T) {
			assert.Equal(t, intent.Forecast, r.Classify(u).Tag)
		})
	}
}

func TestRouter_WeatherWithCity(t *testing.T) {
	r := intent.NewRouter()
	cases := map[string]string{
		"東京の天気":                       "東京",
		"大阪の天気を教えて":                   "大阪",
		"今日の札幌の気温は？":                  "札幌",
		"金沢の天気":                       "金沢",
		"what's the weather in Kyoto": "Kyoto",
		"weather in paris please":     "Paris",
	}
	for utterance, city := range cases {
		t.Run(utterance, func(t *testing.T) {
			res := r.Classify(utterance)
			assert.Equal(t, intent.Weather, res.Tag)
			assert.Equal(t, city, res.City())
			assert.Equal(t, 0, res.DayOffset())
			assert.NotEmpty(t, res.CityQuery())
		})
	}
}

func TestRouter_DefaultCityFallback(t *testing.T) {
	t.Run("built-in default", func(t *testing.T) {
		res := intent.NewRouter().Classify("明日の天気")
		assert.Equal(t, intent.Forecast, res.Tag)
		assert.Equal(t, intent.DefaultCity, res.City())
		assert.Equal(t, "Tokyo,JP", res.CityQuery())
		assert.Equal(t, 1, res.DayOffset())
	})

	t.Run("configured default", func(t *testing.T) {
		r := intent.NewRouter(intent.WithDefaultCity("福岡"))
		res := r.Classify("明日の天気")
		assert.Equal(t, "福岡", res.City())
		assert.Equal(t, "Fukuoka,JP", res.CityQuery())
	})

	t.Run("unknown default city is queried verbatim", func(t *testing.T) {
		r := intent.NewRouter(intent.WithDefaultCity("金沢"))
		res := r.Classify("天気は？")
		assert.Equal(t, intent.Weather, res.Tag)
		assert.Equal(t, "金沢", res.City())
		assert.Equal(t, "金沢", res.CityQuery())
	})

	t.Run("blank default keeps built-in", func(t *testing.T) {
		r := intent.NewRouter(intent.WithDefaultCity("   "))
		assert.Equal(t, intent.DefaultCity, r.DefaultCityName())
	})
}

func TestRouter_DayAfterTomorrow(t *testing.T) {
	res := intent.NewRouter().Classify("明後日の天気")
	assert.Equal(t, intent.Forecast, res.Tag)
	assert.Equal(t, 2, res.DayOffset())
}

func TestRouter_OtherIntents(t *testing.T) {
	r := intent.NewRouter()
	cases := []struct {
		utterance string
		want      intent.Tag
	}{
		{"今何時", intent.ClockTime},
		{"いま何時？", intent.ClockTime},
		{"what time is it", intent.ClockTime},
		{"今日は何日？", intent.CalendarDate},
		{"今日は何曜日", intent.CalendarDate},
		{"今の総理大臣は誰？", intent.CurrentEvents},
		{"最新のニュースある？", intent.CurrentEvents},
		{"こんにちは", intent.GeneralChat},
		{"おなかすいた", intent.GeneralChat},
	}
	for _, tc := range cases {
		t.Run(tc.utterance, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Classify(tc.utterance).Tag)
		})
	}
}

func TestRouter_CurrentEventsQuery(t *testing.T) {
	r := intent.NewRouter()
	assert.Contains(t, r.Classify("首相って誰だっけ").Query(), "総理")
	assert.Empty(t, r.Classify("ニュース教えて").Query())
}

func TestRouter_CalendarDateOffset(t *testing.T) {
	res := intent.NewRouter().Classify("明日は何日？")
	assert.Equal(t, intent.CalendarDate, res.Tag)
	assert.Equal(t, 1, res.DayOffset())
}

func TestRouter_EmptyInput(t *testing.T) {
	r := intent.NewRouter()
	for _, u := range []string{"", "   ", "\n\t", "　"} {
		res := r.Classify(u)
		assert.Equal(t, intent.GeneralChat, res.Tag)
		assert.NotNil(t, res.Params)
		assert.Empty(t, res.City())
	}
}
