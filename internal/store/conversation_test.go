package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mago-voice-backend/internal/store"
)

var jst = time.FixedZone("JST", 9*3600)

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newStore(t *testing.T, factory backendFactory, now time.Time) (*store.ConversationStore, *clock) {
	c := &clock{t: now}
	return store.NewConversationStore(factory(t), jst, store.WithClock(c.Now)), c
}

func newTurn(ts time.Time, utterance string) store.Turn {
	return store.Turn{
		ID:        store.NewTurnID(ts, jst),
		Timestamp: ts,
		Utterance: utterance,
		Intent:    "general_chat",
		Reply:     "reply to " + utterance,
		State:     store.StatePersisted,
	}
}

func at(day string, hour int) time.Time {
	t, _ := time.ParseInLocation("2006-01-02", day, jst)
	return t.Add(time.Duration(hour) * time.Hour)
}

func TestTurnID(t *testing.T) {
	ts := time.Date(2024, 5, 1, 23, 30, 0, 123456000, time.UTC) // 08:30 next day in JST
	id := store.NewTurnID(ts, jst)
	assert.Regexp(t, `^20240502T083000\.123456-[0-9a-f]{8}$`, id)

	day, err := store.TurnDay(id)
	require.NoError(t, err)
	assert.Equal(t, store.Day("2024-05-02"), day)
	assert.Equal(t, day, store.DayOf(ts, jst))

	assert.NotEqual(t, id, store.NewTurnID(ts, jst))
}

func TestConversationStore_RoundTrip(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := newStore(t, factory, at("2024-05-01", 12))

			turn := newTurn(at("2024-05-01", 9), "東京の天気")
			turn.Audio = &store.AudioRef{Key: "audio/" + turn.ID + "-abc.mp3", Version: "abc"}
			require.NoError(t, s.AppendTurn(ctx, "2024-05-01", turn))

			turns, err := s.GetDay(ctx, "2024-05-01")
			require.NoError(t, err)
			require.Len(t, turns, 1)
			got := turns[0]
			assert.Equal(t, turn.ID, got.ID)
			assert.True(t, turn.Timestamp.Equal(got.Timestamp))
			assert.Equal(t, turn.Utterance, got.Utterance)
			assert.Equal(t, turn.Intent, got.Intent)
			assert.Equal(t, turn.Reply, got.Reply)
			assert.Equal(t, turn.Audio, got.Audio)

			one, err := s.GetTurn(ctx, turn.ID)
			require.NoError(t, err)
			assert.Equal(t, turn.ID, one.ID)

			assert.ErrorIs(t, s.AppendTurn(ctx, "2024-05-01", turn), store.ErrTurnExists)
		})
	}
}

func TestConversationStore_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, fileBackend, at("2024-05-01", 12))

	turn := newTurn(at("2024-05-01", 9), "x")
	assert.ErrorIs(t, s.AppendTurn(ctx, "2024-05-02", turn), store.ErrDayMismatch)
	assert.Error(t, s.AppendTurn(ctx, "not-a-day", turn))

	turn.ID = "../../etc/passwd"
	assert.Error(t, s.AppendTurn(ctx, "2024-05-01", turn))

	_, err := s.GetTurn(ctx, "20240501T000000.000000-deadbeef")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTurn(ctx, "garbage")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversationStore_MissingDayIsEmpty(t *testing.T) {
	s, _ := newStore(t, fileBackend, at("2024-05-01", 12))
	turns, err := s.GetDay(context.Background(), "1999-01-01")
	require.NoError(t, err)
	assert.NotNil(t, turns)
	assert.Empty(t, turns)
}

func TestConversationStore_OrderedByTimestamp(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, boltBackend, at("2024-05-01", 12))

	late := newTurn(at("2024-05-01", 10), "late")
	early := newTurn(at("2024-05-01", 8), "early")
	same := at("2024-05-01", 9)
	tieA, tieB := newTurn(same, "tie-a"), newTurn(same, "tie-b")
	for _, turn := range []store.Turn{late, tieA, early, tieB} {
		require.NoError(t, s.AppendTurn(ctx, "2024-05-01", turn))
	}

	turns, err := s.GetDay(ctx, "2024-05-01")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "early", turns[0].Utterance)
	assert.Equal(t, "late", turns[3].Utterance)
	assert.Equal(t, "tie-a", turns[1].Utterance, "ties keep insertion order")
	assert.Equal(t, "tie-b", turns[2].Utterance)
}

func TestConversationStore_TiesKeepInsertionOrder(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := newStore(t, factory, at("2024-05-01", 12))
			same := at("2024-05-01", 9)

			var want []string
			for i := 0; i < 12; i++ {
				utt := fmt.Sprintf("turn-%02d", i)
				want = append(want, utt)
				require.NoError(t, s.AppendTurn(ctx, "2024-05-01", newTurn(same, utt)))
			}

			turns, err := s.GetDay(ctx, "2024-05-01")
			require.NoError(t, err)
			var got []string
			for i, turn := range turns {
				got = append(got, turn.Utterance)
				assert.Equal(t, i+1, turn.Seq)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestConversationStore_ListDaysIdempotent(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := newStore(t, factory, at("2024-05-03", 12))
			for _, day := range []string{"2024-05-03", "2024-05-01", "2024-05-01"} {
				require.NoError(t, s.AppendTurn(ctx, store.Day(day), newTurn(at(day, 9), day)))
			}
			require.NoError(t, s.Pin(ctx, "2024-05-01"))

			first, err := s.ListDays(ctx)
			require.NoError(t, err)
			second, err := s.ListDays(ctx)
			require.NoError(t, err)

			assert.Equal(t, []store.Day{"2024-05-01", "2024-05-03"}, first, "pin markers are not listed")
			assert.Equal(t, first, second)
		})
	}
}

func TestConversationStore_UpdateAudioOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, fileBackend, at("2024-05-01", 12))

	turn := newTurn(at("2024-05-01", 9), "hi")
	turn.State = store.StateAudioPending
	require.NoError(t, s.AppendTurn(ctx, "2024-05-01", turn))

	pending, err := s.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", pending.AudioStatus())

	ref := &store.AudioRef{Key: "audio/" + turn.ID + "-v1.mp3", Version: "v1"}
	updated, err := s.UpdateAudio(ctx, turn.ID, ref)
	require.NoError(t, err)
	assert.Equal(t, store.StatePersisted, updated.State)
	assert.Equal(t, "ready", updated.AudioStatus())

	_, err = s.UpdateAudio(ctx, turn.ID, &store.AudioRef{Key: "other", Version: "v2"})
	assert.ErrorIs(t, err, store.ErrAlreadySettled)

	got, err := s.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, got.Audio)
	assert.Equal(t, turn.Reply, got.Reply, "immutable fields survive the update")

	turns, err := s.GetDay(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Len(t, turns, 1, "update in place, not an append")
}

func TestConversationStore_UpdateAudioFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, fileBackend, at("2024-05-01", 12))

	turn := newTurn(at("2024-05-01", 9), "hi")
	turn.State = store.StateAudioPending
	require.NoError(t, s.AppendTurn(ctx, "2024-05-01", turn))

	updated, err := s.UpdateAudio(ctx, turn.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, updated.Audio)
	assert.Equal(t, store.StatePersisted, updated.State)
	assert.Equal(t, "failed", updated.AudioStatus())
}

func TestConversationStore_ConcurrentAppends(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := newStore(t, factory, at("2024-05-01", 12))

			const workers = 16
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- s.AppendTurn(ctx, "2024-05-01", newTurn(at("2024-05-01", 9), fmt.Sprintf("worker-%d", i)))
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			turns, err := s.GetDay(ctx, "2024-05-01")
			require.NoError(t, err)
			require.Len(t, turns, workers)
			seen := map[string]bool{}
			for _, turn := range turns {
				assert.Equal(t, "reply to "+turn.Utterance, turn.Reply)
				seen[turn.Utterance] = true
			}
			assert.Len(t, seen, workers)
		})
	}
}

func TestConversationStore_Pins(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, memBackend, at("2024-05-01", 12))

	require.NoError(t, s.Pin(ctx, "2024-04-01"))
	require.NoError(t, s.Pin(ctx, "2024-04-02"))
	require.NoError(t, s.Unpin(ctx, "2024-04-02"))
	require.NoError(t, s.Unpin(ctx, "2024-04-03"), "unpinning an unpinned day is fine")
	assert.Error(t, s.Pin(ctx, "yesterday"))

	pinned, err := s.PinnedDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.Day{"2024-04-01"}, pinned)
}
