package types

import "mago-voice-backend/internal/store"

// ChatRequest is the body of POST /api/chat. Message is accepted as an alias
// of Text for older clients.
type ChatRequest struct {
	Text      string `json:"text"`
	Message   string `json:"message,omitempty"`
	PersonaID string `json:"persona_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Utterance returns the submitted text.
func (r ChatRequest) Utterance() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Message
}

type ChatResponse struct {
	TurnID     string       `json:"turn_id"`
	SessionID  string       `json:"session_id,omitempty"`
	Reply      string       `json:"reply"`
	Intent     string       `json:"intent"`
	PersonaID  string       `json:"persona_id"`
	Transcript string       `json:"transcript,omitempty"`
	AudioURL   string       `json:"audio_url,omitempty"`
	Voice      string       `json:"voice,omitempty"`
	Audio      *AudioStatus `json:"audio"`
}

// AudioStatus describes a turn's audio. URL is set when ready, PollURL
// while pending.
type AudioStatus struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Version string `json:"version,omitempty"`
	PollURL string `json:"poll_url,omitempty"`
}

type DaysResponse struct {
	Days   []store.Day `json:"days"`
	Pinned []store.Day `json:"pinned"`
}

type DayResponse struct {
	Day   store.Day    `json:"day"`
	Turns []store.Turn `json:"turns"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
