// Package speech turns reply text into audio. Providers implement
// Synthesizer; Runner executes synthesis on bounded background workers and
// hands back a Task that callers can poll or join.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Result is synthesized audio.
type Result struct {
	Audio       []byte
	ContentType string
	Provider    string
}

// Synthesizer converts text to speech with the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*Result, error)
}

// ErrEmptyText is returned when there is nothing to speak.
var ErrEmptyText = errors.New("speech: empty text")

// Policy decides whether the pipeline waits for synthesis.
type Policy string

const (
	// PolicyBlocking waits for synthesis before responding.
	PolicyBlocking Policy = "blocking"
	// PolicyBackground responds immediately with a pending marker.
	PolicyBackground Policy = "background"
)

// ParsePolicy parses an AUDIO_POLICY value. Empty means blocking.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyBlocking:
		return PolicyBlocking, nil
	case PolicyBackground:
		return PolicyBackground, nil
	default:
		return "", fmt.Errorf("speech: unknown audio policy %q (want blocking or background)", s)
	}
}

const contentTypeMP3 = "audio/mpeg"
