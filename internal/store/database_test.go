package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mago-voice-backend/internal/db"
	"mago-voice-backend/internal/store"
)

// postgresBackend connects to MAGO_TEST_DB_URL and skips the test when it
// is unset. Every test works under its own key namespace.
func postgresBackend(t *testing.T) (*store.PostgresBackend, string) {
	t.Helper()
	dsn := os.Getenv("MAGO_TEST_DB_URL")
	if dsn == "" {
		t.Skip("MAGO_TEST_DB_URL not set")
	}
	database, err := db.Open(context.Background(), dsn, db.Options{MaxOpenConns: 4})
	require.NoError(t, err)
	require.NoError(t, database.Migrate())

	b := store.NewPostgresBackend(database)
	ns := "test-" + uuid.NewString() + "/"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := b.List(ctx, ns)
		for _, k := range keys {
			_ = b.Delete(ctx, k)
		}
		_ = database.Close()
	})
	return b, ns
}

func TestPostgresBackend(t *testing.T) {
	b, ns := postgresBackend(t)
	ctx := context.Background()

	_, err := b.Get(ctx, ns+"days/2024-05-01/missing.json")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, b.Put(ctx, ns+"days/2024-05-01/b.json", []byte("b")))
	require.NoError(t, b.Put(ctx, ns+"days/2024-05-01/a.json", []byte("a1")))
	require.NoError(t, b.Put(ctx, ns+"days/2024-05-01/a.json", []byte("a2")))
	require.NoError(t, b.Put(ctx, ns+"days/2024-05-01/A.json", []byte("upper")))
	require.NoError(t, b.Put(ctx, ns+"audio/x.mp3", []byte{0xff, 0x00, 0xfb}))

	got, err := b.Get(ctx, ns+"days/2024-05-01/a.json")
	require.NoError(t, err)
	assert.Equal(t, "a2", string(got), "put replaces")

	got, err = b.Get(ctx, ns+"audio/x.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00, 0xfb}, got, "binary data survives")

	keys, err := b.List(ctx, ns+"days/2024-05-01/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		ns + "days/2024-05-01/A.json",
		ns + "days/2024-05-01/a.json",
		ns + "days/2024-05-01/b.json",
	}, keys, "byte order regardless of collation")

	require.NoError(t, b.Delete(ctx, ns+"days/2024-05-01/a.json"))
	require.NoError(t, b.Delete(ctx, ns+"days/2024-05-01/a.json"), "delete is idempotent")
	_, err = b.Get(ctx, ns+"days/2024-05-01/a.json")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, b.Put(ctx, "../escape", nil), store.ErrInvalidKey)
	assert.NoError(t, b.HealthCheck(ctx))
}

func TestPostgresBackend_ConversationStore(t *testing.T) {
	b, _ := postgresBackend(t)
	ctx := context.Background()

	s := store.NewConversationStore(b, jst)
	turn := newTurn(at("2024-05-01", 9), "hello")
	require.NoError(t, s.AppendTurn(ctx, "2024-05-01", turn))
	t.Cleanup(func() { _ = b.Delete(context.Background(), "days/2024-05-01/"+turn.ID+".json") })

	got, err := s.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Utterance)
	assert.Equal(t, turn.Timestamp.UnixMicro(), got.Timestamp.UnixMicro())
}
