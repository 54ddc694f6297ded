package speech

import (
	"context"
	"sync"
	"time"
)

// Call records one Mock invocation.
type Call struct {
	Text    string
	VoiceID string
}

// Mock is a Synthesizer for tests. By default it returns the text bytes
// prefixed with "mp3:".
type Mock struct {
	mu    sync.Mutex
	calls []Call

	Delay time.Duration
	Err   error
	Func  func(ctx context.Context, text, voiceID string) (*Result, error)
}

// Synthesize implements Synthesizer.
func (m *Mock) Synthesize(ctx context.Context, text, voiceID string) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Text: text, VoiceID: voiceID})
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Func != nil {
		return m.Func(ctx, text, voiceID)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &Result{Audio: []byte("mp3:" + text), ContentType: contentTypeMP3, Provider: "mock"}, nil
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
