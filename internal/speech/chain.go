package speech

import (
	"context"
	"errors"
	"log/slog"

	"mago-voice-backend/internal/log"
)

// Chain tries each synthesizer in order.
type Chain struct {
	synths []Synthesizer
	logger *slog.Logger
}

// NewChain builds a fallback chain; nil entries are skipped.
func NewChain(synths ...Synthesizer) *Chain {
	c := &Chain{logger: log.Component("speech-chain")}
	for _, s := range synths {
		if s != nil {
			c.synths = append(c.synths, s)
		}
	}
	return c
}

// Len returns the number of synthesizers.
func (c *Chain) Len() int { return len(c.synths) }

// Synthesize implements Synthesizer.
func (c *Chain) Synthesize(ctx context.Context, text, voiceID string) (*Result, error) {
	if len(c.synths) == 0 {
		return nil, errors.New("speech: no synthesizers configured")
	}
	var errs []error
	for i, s := range c.synths {
		res, err := s.Synthesize(ctx, text, voiceID)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrEmptyText) {
			return nil, err
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("synthesizer failed, trying next", "index", i, "error", err)
	}
	return nil, errors.Join(errs...)
}
