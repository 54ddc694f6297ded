package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mago-voice-backend/internal/db"
)

// PostgresBackend stores objects as rows of the conversation_objects table.
type PostgresBackend struct {
	db *db.DB
}

// NewPostgresBackend creates a backend on an open, migrated database.
func NewPostgresBackend(database *db.DB) *PostgresBackend {
	return &PostgresBackend{db: database}
}

// HealthCheck reports whether the database answers.
func (pb *PostgresBackend) HealthCheck(ctx context.Context) error {
	return pb.db.HealthCheck(ctx)
}

// Put saves or replaces the object at key
func (pb *PostgresBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}

	query := `
		INSERT INTO conversation_objects (key, data, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (key)
		DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()
	`

	if _, err := pb.db.ExecContext(ctx, query, key, data); err != nil {
		return fmt.Errorf("failed to save object %s: %w", key, err)
	}
	return nil
}

// Get retrieves the object at key
func (pb *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}

	var data []byte
	err := pb.db.QueryRowContext(ctx, `SELECT data FROM conversation_objects WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return data, nil
}

// List returns keys starting with prefix in byte order, like the other
// backends.
func (pb *PostgresBackend) List(ctx context.Context, prefix string) ([]string, error) {
	query := `
		SELECT key
		FROM conversation_objects
		WHERE starts_with(key, $1)
		ORDER BY key COLLATE "C"
	`

	rows, err := pb.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan object key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes the object at key
func (pb *PostgresBackend) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if _, err := pb.db.ExecContext(ctx, `DELETE FROM conversation_objects WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
