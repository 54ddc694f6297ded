package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mago-voice-backend/internal/db"
	"mago-voice-backend/internal/log"
)

// Settings selects and locates a backend.
type Settings struct {
	Kind        string // file, bolt, afs, postgres
	Path        string // file root, or bolt file / directory
	URL         string // afs base URL
	DatabaseURL string
	RemoteURL   string // optional afs URL the primary is mirrored to
}

// Opened is a ready backend plus whatever must be closed with it. Mirror is
// nil unless Settings.RemoteURL was set.
type Opened struct {
	Backend Backend
	Mirror  *Mirror
	closers []func() error
}

// Close releases the backend, stopping the mirror first.
func (o *Opened) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i]())
	}
	return errors.Join(errs...)
}

// Open builds the backend described by s.
func Open(s Settings) (*Opened, error) {
	o := &Opened{}
	switch strings.ToLower(s.Kind) {
	case "", "file":
		b, err := NewFileBackend(s.Path)
		if err != nil {
			return nil, err
		}
		o.Backend = b
	case "bolt":
		path := s.Path
		if path == "" {
			path = "data"
		}
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "conversations.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ioErr("mkdir", path, err)
		}
		b, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		o.Backend = b
		o.closers = append(o.closers, b.Close)
	case "afs":
		b, err := NewAFSBackend(s.URL)
		if err != nil {
			return nil, err
		}
		o.Backend = b
	case "postgres":
		database, err := db.New(s.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		o.Backend = NewPostgresBackend(database)
		o.closers = append(o.closers, database.Close)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", s.Kind)
	}

	if s.RemoteURL != "" {
		remote, err := NewAFSBackend(s.RemoteURL)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("remote store: %w", err)
		}
		o.Mirror = NewMirror(o.Backend, remote)
		o.Backend = o.Mirror
		o.closers = append(o.closers, o.Mirror.Close)
	}
	log.Info("conversation store ready", "backend", s.Kind, "mirrored", o.Mirror != nil)
	return o, nil
}
