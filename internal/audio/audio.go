// Package audio stores synthesized speech as versioned artifacts on a
// store.Backend.
package audio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"mago-voice-backend/internal/log"
	"mago-voice-backend/internal/store"
)

// Ref points at stored audio bytes. It is persisted on the turn.
type Ref = store.AudioRef

// KeyMode selects how artifacts are keyed.
type KeyMode string

const (
	// KeyPerTurn writes each synthesis to its own write-once key.
	KeyPerTurn KeyMode = "per_turn"
	// KeyFixed overwrites one well-known key; clients bust caches with the version.
	KeyFixed KeyMode = "fixed"
)

const (
	prefix   = "audio/"
	FixedKey = prefix + "latest.mp3"
)

var (
	// ErrExists is returned when a per-turn key is already written.
	ErrExists = errors.New("audio: artifact already exists")

	// ErrInvalidKey is returned for keys outside the audio namespace.
	ErrInvalidKey = errors.New("audio: invalid key")
)

// ParseKeyMode parses AUDIO_KEY_MODE. Empty means per-turn.
func ParseKeyMode(s string) (KeyMode, error) {
	switch KeyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeyPerTurn, "per-turn":
		return KeyPerTurn, nil
	case KeyFixed:
		return KeyFixed, nil
	}
	return "", fmt.Errorf("audio: unknown key mode %q", s)
}

// Store writes and reads audio artifacts.
type Store struct {
	backend store.Backend
	mode    KeyMode
	logger  *slog.Logger

	mu    sync.Mutex // serializes writes to the fixed key
	reads singleflight.Group
}

func NewStore(backend store.Backend, mode KeyMode) *Store {
	if mode == "" {
		mode = KeyPerTurn
	}
	return &Store{
		backend: backend,
		mode:    mode,
		logger:  log.Component("audio-store"),
	}
}

func (s *Store) Mode() KeyMode { return s.mode }

// Version returns a token derived from the bytes plus a random part, so two
// writes of identical audio still get distinct tokens.
func Version(data []byte) string {
	sum := sha256.Sum256(data)
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return hex.EncodeToString(sum[:4]) + random[:8]
}

// Put stores the audio for turnID and returns its reference.
func (s *Store) Put(ctx context.Context, turnID string, data []byte) (Ref, error) {
	if len(data) == 0 {
		return Ref{}, errors.New("audio: empty artifact")
	}
	version := Version(data)

	if s.mode == KeyFixed {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.backend.Put(ctx, FixedKey, data); err != nil {
			return Ref{}, err
		}
		s.reads.Forget(FixedKey)
		return Ref{Key: FixedKey, Version: version}, nil
	}

	if !store.ValidTurnID(turnID) {
		return Ref{}, fmt.Errorf("%w: turn id %q", ErrInvalidKey, turnID)
	}
	key := prefix + turnID + "-" + version + ".mp3"
	if err := s.putOnce(ctx, key, data); err != nil {
		return Ref{}, err
	}
	return Ref{Key: key, Version: version}, nil
}

func (s *Store) putOnce(ctx context.Context, key string, data []byte) error {
	if _, err := s.backend.Get(ctx, key); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, key)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return s.backend.Put(ctx, key, data)
}

// Get returns the bytes stored at key. Concurrent reads of one key share a
// single backend fetch.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	v, err, shared := s.reads.Do(key, func() (any, error) {
		return s.backend.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("shared audio read", "key", key)
	}
	return v.([]byte), nil
}

// ValidKey reports whether key names an artifact in the audio namespace.
func ValidKey(key string) error {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") || strings.Contains(rest, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// URL returns the client-facing URL of ref under base (e.g. "/api/audio").
// The version is appended as a query parameter so fixed-key responses are
// never served from a stale cache.
func URL(base string, ref Ref) string {
	u := strings.TrimRight(base, "/") + "/" + strings.TrimPrefix(ref.Key, prefix)
	if ref.Version == "" {
		return u
	}
	return u + "?v=" + url.QueryEscape(ref.Version)
}
