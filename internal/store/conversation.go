package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"mago-voice-backend/internal/log"
)

const (
	daysPrefix = "days/"
	keepDir    = "_keep"
	keepPrefix = daysPrefix + keepDir + "/"
)

var (
	// ErrTurnExists is returned when appending a turn ID that is already stored.
	ErrTurnExists = errors.New("store: turn already exists")

	// ErrAlreadySettled is returned when the audio of a turn was already set.
	ErrAlreadySettled = errors.New("store: turn audio already settled")

	// ErrDayMismatch is returned when a turn does not belong to the given day.
	ErrDayMismatch = errors.New("store: turn does not belong to day")
)

// ConversationStore persists turns as one object per turn, grouped by day.
// Writes to the same day are serialized; different days proceed in parallel.
type ConversationStore struct {
	backend Backend
	zone    *time.Location
	now     func() time.Time
	locks   *keyLock
	logger  *slog.Logger
}

// Option configures a ConversationStore.
type Option func(*ConversationStore)

// WithClock overrides the clock used to decide the current day.
func WithClock(now func() time.Time) Option {
	return func(s *ConversationStore) { s.now = now }
}

// NewConversationStore creates a store on backend. Days are computed in zone.
func NewConversationStore(backend Backend, zone *time.Location, opts ...Option) *ConversationStore {
	if zone == nil {
		zone = time.UTC
	}
	s := &ConversationStore{
		backend: backend,
		zone:    zone,
		now:     time.Now,
		locks:   newKeyLock(),
		logger:  log.Component("conversation-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying object store.
func (s *ConversationStore) Backend() Backend { return s.backend }

// Zone returns the time zone days are computed in.
func (s *ConversationStore) Zone() *time.Location { return s.zone }

// Today returns the current day.
func (s *ConversationStore) Today() Day { return DayOf(s.now(), s.zone) }

// DayFor returns the day a timestamp falls on.
func (s *ConversationStore) DayFor(t time.Time) Day { return DayOf(t, s.zone) }

func turnKey(day Day, turnID string) string {
	return daysPrefix + string(day) + "/" + turnID + ".json"
}

func dayPrefix(day Day) string { return daysPrefix + string(day) + "/" }

func (s *ConversationStore) checkDay(day Day) (time.Time, error) {
	_, t, err := ParseDay(string(day), s.zone)
	return t, err
}

// AppendTurn stores a new turn under day. The turn's object is written in
// one atomic put, so a crash never corrupts previously committed turns.
func (s *ConversationStore) AppendTurn(ctx context.Context, day Day, turn Turn) error {
	if _, err := s.checkDay(day); err != nil {
		return err
	}
	if !ValidTurnID(turn.ID) {
		return fmt.Errorf("store: invalid turn id %q", turn.ID)
	}
	if idDay, _ := TurnDay(turn.ID); idDay != day || s.DayFor(turn.Timestamp) != day {
		return fmt.Errorf("%w: turn %s, day %s", ErrDayMismatch, turn.ID, day)
	}
	if turn.State == "" {
		turn.State = StatePersisted
	}

	unlock := s.locks.Lock(string(day))
	defer unlock()

	key := turnKey(day, turn.ID)
	if _, err := s.backend.Get(ctx, key); err == nil {
		return fmt.Errorf("%w: %s", ErrTurnExists, turn.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	// Turns are only ever removed a whole day at a time, so the count of
	// existing turns is a per-day insertion sequence.
	keys, err := s.backend.List(ctx, dayPrefix(day))
	if err != nil {
		return err
	}
	turn.Seq = 1
	for _, k := range keys {
		if strings.HasSuffix(k, ".json") {
			turn.Seq++
		}
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, key, data)
}

// UpdateAudio settles a turn persisted in StateAudioPending: it sets the
// audio reference (nil when synthesis failed) and marks the turn Persisted.
// A second call returns ErrAlreadySettled, so the update happens once.
func (s *ConversationStore) UpdateAudio(ctx context.Context, turnID string, ref *AudioRef) (Turn, error) {
	if !ValidTurnID(turnID) {
		return Turn{}, fmt.Errorf("%w: turn %q", ErrNotFound, turnID)
	}
	day, _ := TurnDay(turnID)

	unlock := s.locks.Lock(string(day))
	defer unlock()

	key := turnKey(day, turnID)
	turn, err := s.readTurn(ctx, key)
	if err != nil {
		return Turn{}, err
	}
	if turn.State != StateAudioPending {
		return turn, fmt.Errorf("%w: %s is %s", ErrAlreadySettled, turnID, turn.State)
	}
	turn.Audio = ref
	turn.State = StatePersisted

	data, err := json.Marshal(turn)
	if err != nil {
		return Turn{}, err
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// GetTurn returns one turn or ErrNotFound.
func (s *ConversationStore) GetTurn(ctx context.Context, turnID string) (Turn, error) {
	if !ValidTurnID(turnID) {
		return Turn{}, fmt.Errorf("%w: turn %q", ErrNotFound, turnID)
	}
	day, _ := TurnDay(turnID)
	return s.readTurn(ctx, turnKey(day, turnID))
}

func (s *ConversationStore) readTurn(ctx context.Context, key string) (Turn, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return Turn{}, err
	}
	var t Turn
	if err := json.Unmarshal(data, &t); err != nil {
		return Turn{}, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return t, nil
}

// GetDay returns the day's turns ordered by timestamp, then turn ID. An
// absent day yields an empty slice and no error.
func (s *ConversationStore) GetDay(ctx context.Context, day Day) ([]Turn, error) {
	if _, err := s.checkDay(day); err != nil {
		return nil, err
	}
	keys, err := s.backend.List(ctx, dayPrefix(day))
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		t, err := s.readTurn(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("skipping unreadable turn", "key", key, "error", err)
			continue
		}
		turns = append(turns, t)
	}
	sort.SliceStable(turns, func(i, j int) bool {
		if !turns[i].Timestamp.Equal(turns[j].Timestamp) {
			return turns[i].Timestamp.Before(turns[j].Timestamp)
		}
		if turns[i].Seq != turns[j].Seq {
			return turns[i].Seq < turns[j].Seq
		}
		return turns[i].ID < turns[j].ID
	})
	return turns, nil
}

// ListDays returns the days that hold turns, oldest first. Pin markers are
// not listed.
func (s *ConversationStore) ListDays(ctx context.Context) ([]Day, error) {
	keys, err := s.backend.List(ctx, daysPrefix)
	if err != nil {
		return nil, err
	}
	return daysOf(keys), nil
}

// daysOf returns the distinct day collections the keys belong to, sorted.
func daysOf(keys []string) []Day {
	seen := map[Day]bool{}
	var days []Day
	for _, key := range keys {
		rest := strings.TrimPrefix(key, daysPrefix)
		i := strings.Index(rest, "/")
		if i <= 0 || rest[:i] == keepDir {
			continue
		}
		d := Day(rest[:i])
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// Pin exempts day from retention.
func (s *ConversationStore) Pin(ctx context.Context, day Day) error {
	if _, err := s.checkDay(day); err != nil {
		return err
	}
	return s.backend.Put(ctx, keepPrefix+string(day), []byte(s.now().UTC().Format(time.RFC3339)))
}

// Unpin removes day's retention exemption.
func (s *ConversationStore) Unpin(ctx context.Context, day Day) error {
	if _, err := s.checkDay(day); err != nil {
		return err
	}
	err := s.backend.Delete(ctx, keepPrefix+string(day))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// PinnedDays returns the days with a pin marker.
func (s *ConversationStore) PinnedDays(ctx context.Context) ([]Day, error) {
	keys, err := s.backend.List(ctx, keepPrefix)
	if err != nil {
		return nil, err
	}
	days := make([]Day, 0, len(keys))
	for _, key := range keys {
		days = append(days, Day(strings.TrimPrefix(key, keepPrefix)))
	}
	return days, nil
}
