package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mago-voice-backend/internal/intent"
	"mago-voice-backend/internal/provider"
	"mago-voice-backend/internal/reply"
)

var weekdays = [...]string{"日", "月", "火", "水", "木", "金", "土"}

// dayWords name the day offsets the router extracts.
var dayWords = [...]string{"今日", "明日", "明後日"}

// noPrimeMinisterNews is the reply when no headline mentions the prime minister.
const noPrimeMinisterNews = "最近のニュースに首相関連の記事が見つからなかったみたい。"

// handle produces the reply text for a routed utterance. It never fails.
func (p *Pipeline) handle(ctx context.Context, route intent.Result, text string, persona reply.Persona, sessionID string) string {
	switch route.Tag {
	case intent.Weather, intent.Forecast:
		return p.weather(ctx, route)
	case intent.ClockTime:
		return fmt.Sprintf("今は%sです。", p.now().In(p.Store.Zone()).Format("15:04"))
	case intent.CalendarDate:
		return calendarReply(p.now().In(p.Store.Zone()), route.DayOffset())
	case intent.CurrentEvents:
		return p.news(ctx, route, text, persona, sessionID)
	default:
		return p.Generator.Generate(ctx, reply.Request{
			Utterance: text,
			Persona:   persona,
			History:   p.history(sessionID),
		})
	}
}

func (p *Pipeline) weather(ctx context.Context, route intent.Result) string {
	loc := provider.Location{Name: route.City(), Query: route.CityQuery()}
	if loc.Name == "" {
		loc.Name = p.Router.DefaultCityName()
		loc.Query = loc.Name
	}
	return p.Facts.Weather(ctx, loc, route.DayOffset()).Text
}

// news reads out headlines. A query naming the prime minister is answered
// by the chat model from the matching headlines.
func (p *Pipeline) news(ctx context.Context, route intent.Result, text string, persona reply.Persona, sessionID string) string {
	query := route.Query()
	fact := p.Facts.News(ctx, query)
	if query == "" || !fact.OK {
		return fact.Text
	}
	if fact.Count == 0 {
		return noPrimeMinisterNews
	}
	return p.Generator.Generate(ctx, reply.Request{
		Utterance: text,
		Persona:   persona,
		History:   p.history(sessionID),
		Facts:     []string{strings.TrimSpace(fact.Text)},
	})
}

func calendarReply(now time.Time, offset int) string {
	if offset < 0 || offset >= len(dayWords) {
		offset = 0
	}
	t := now.AddDate(0, 0, offset)
	return fmt.Sprintf("%sは%d年%d月%d日、%s曜日です。", dayWords[offset], t.Year(), int(t.Month()), t.Day(), weekdays[t.Weekday()])
}
