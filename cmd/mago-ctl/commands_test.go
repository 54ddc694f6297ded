package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mago-voice-backend/internal/config"
	"mago-voice-backend/internal/store"
)

func seed(t *testing.T, dir string, stamps ...time.Time) *store.ConversationStore {
	t.Helper()
	zone, err := config.Config{TimeZone: "Asia/Tokyo"}.Location()
	require.NoError(t, err)
	backend, err := store.NewFileBackend(dir)
	require.NoError(t, err)
	s := store.NewConversationStore(backend, zone)
	for _, ts := range stamps {
		turn := store.Turn{
			ID:        store.NewTurnID(ts, zone),
			Timestamp: ts,
			Utterance: "今日の天気は？",
			Intent:    "weather",
			Reply:     "東京は晴れ、気温は21度です。",
			State:     store.StatePersisted,
		}
		require.NoError(t, s.AppendTurn(context.Background(), s.DayFor(ts), turn))
	}
	return s
}

func run(t *testing.T, dir string, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	base := []string{"--backend", "file", "--path", dir, "--tz", "Asia/Tokyo"}
	code := Run(append(base, args...), &out)
	return code, out.String()
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	old := time.Date(2020, 1, 5, 3, 0, 0, 0, time.UTC)
	now := time.Now()
	s := seed(t, dir, old, now)
	today := s.DayFor(now)

	t.Run("days", func(t *testing.T) {
		code, out := run(t, dir, "days")
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "2020-01-05\n")
		assert.Contains(t, out, string(today))
	})

	t.Run("show", func(t *testing.T) {
		code, out := run(t, dir, "show", "2020-01-05")
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "[weather] failed")
		assert.Contains(t, out, "> 今日の天気は？")

		code, out = run(t, dir, "show", "--json", "2020-01-05")
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, `"user_utterance": "今日の天気は？"`)
	})

	t.Run("pin protects from sweep", func(t *testing.T) {
		code, out := run(t, dir, "pin", "2020-01-05")
		require.Equal(t, 0, code, out)
		code, out = run(t, dir, "days")
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "2020-01-05\tpinned")

		code, out = run(t, dir, "sweep", "--max-age", "30")
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "deleted 0, pinned 1")
	})

	t.Run("unpin then sweep", func(t *testing.T) {
		code, out := run(t, dir, "unpin", "2020-01-05")
		require.Equal(t, 0, code, out)
		code, out = run(t, dir, "sweep", "--max-age", "30")
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "deleted 2020-01-05")

		days, err := s.ListDays(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []store.Day{today}, days)
	})

	t.Run("errors", func(t *testing.T) {
		code, _ := run(t, dir, "show", "not-a-day")
		assert.Equal(t, 1, code)
		code, _ = run(t, dir, "bogus")
		assert.Equal(t, 1, code)
		code, _ = run(t, dir, "pin")
		assert.Equal(t, 1, code, "pin needs a day")
	})
}
