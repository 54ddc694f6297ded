package provider

import (
	"context"
	"errors"
	"log/slog"

	"mago-voice-backend/internal/log"
)

// WeatherChain tries each provider in order and returns the first report.
type WeatherChain struct {
	providers []WeatherProvider
	logger    *slog.Logger
}

// NewWeatherChain builds a chain; nil providers are skipped.
func NewWeatherChain(providers ...WeatherProvider) *WeatherChain {
	c := &WeatherChain{logger: log.Component("weather-chain")}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Len returns the number of providers in the chain.
func (c *WeatherChain) Len() int { return len(c.providers) }

// Weather implements WeatherProvider. The returned error joins every failure.
func (c *WeatherChain) Weather(ctx context.Context, loc Location, dayOffset int) (*Report, error) {
	if len(c.providers) == 0 {
		return nil, errors.New("provider: no weather providers configured")
	}
	var errs []error
	for i, p := range c.providers {
		report, err := p.Weather(ctx, loc, dayOffset)
		if err == nil {
			return report, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("weather provider failed, trying next", "index", i, "location", loc.Name, "error", err)
	}
	return nil, errors.Join(errs...)
}
