package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is a turn's position in its lifecycle.
type State string

const (
	StateCreated      State = "created"
	StateReplyReady   State = "reply_ready"
	StateAudioPending State = "audio_pending"
	StateAudioReady   State = "audio_ready"
	StateAudioFailed  State = "audio_failed"
	StatePersisted    State = "persisted"
)

// AudioRef points at a write-once audio artifact.
type AudioRef struct {
	Key     string `json:"key"`
	Version string `json:"version"`
}

// Turn is one utterance, its reply and its audio. Once persisted only
// Audio and State may change.
type Turn struct {
	ID        string    `json:"turn_id"`
	Timestamp time.Time `json:"timestamp"`
	Utterance string    `json:"user_utterance"`
	Intent    string    `json:"intent_tag"`
	Reply     string    `json:"reply_text"`
	Audio     *AudioRef `json:"audio_reference"`
	State     State     `json:"state"`
	PersonaID string    `json:"persona_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`

	// Seq is the turn's position in its day, assigned by AppendTurn. It
	// orders turns whose timestamps are equal.
	Seq int `json:"seq,omitempty"`
}

// AudioStatus reports what a client polling for the turn's audio should see.
func (t Turn) AudioStatus() string {
	switch {
	case t.Audio != nil:
		return "ready"
	case t.State == StateAudioPending || t.State == StateCreated || t.State == StateReplyReady:
		return "pending"
	default:
		return "failed"
	}
}

// Day is a calendar date key, "2006-01-02", in the store's time zone.
type Day string

const dayLayout = "2006-01-02"

// DayOf returns the calendar day of t in zone.
func DayOf(t time.Time, zone *time.Location) Day {
	return Day(t.In(zone).Format(dayLayout))
}

// ParseDay validates a day key.
func ParseDay(s string, zone *time.Location) (Day, time.Time, error) {
	t, err := time.ParseInLocation(dayLayout, s, zone)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("store: invalid day %q", s)
	}
	return Day(s), t, nil
}

const turnIDLayout = "20060102T150405.000000"

// NewTurnID returns a unique, time-ordered turn ID for ts in zone, e.g.
// "20240501T093000.123456-1a2b3c4d".
func NewTurnID(ts time.Time, zone *time.Location) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return ts.In(zone).Format(turnIDLayout) + "-" + suffix
}

// TurnDay returns the day encoded in a turn ID.
func TurnDay(turnID string) (Day, error) {
	if len(turnID) < len("20060102") {
		return "", fmt.Errorf("%w: turn %q", ErrNotFound, turnID)
	}
	t, err := time.Parse("20060102", turnID[:8])
	if err != nil {
		return "", fmt.Errorf("%w: turn %q", ErrNotFound, turnID)
	}
	return Day(t.Format(dayLayout)), nil
}

// ValidTurnID reports whether id is a well-formed turn ID that is safe to use in a key.
func ValidTurnID(id string) bool {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return false
	}
	_, err := TurnDay(id)
	return err == nil
}
