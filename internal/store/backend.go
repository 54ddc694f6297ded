package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend is a durable key/value object store. Keys are slash-separated
// relative paths such as "days/2024-05-01/<turn>.json".
//
// Put must be atomic per key: a reader sees either the old or the new value,
// never a partial write.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

var (
	// ErrNotFound is returned when a key, turn or day does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidKey is returned for empty keys or keys escaping the store root.
	ErrInvalidKey = errors.New("store: invalid key")
)

// IOError reports a local storage failure such as a full disk or a
// permission problem.
type IOError struct {
	Op  string
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var ioe *IOError
	if errors.As(err, &ioe) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &IOError{Op: op, Key: key, Err: err}
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// HealthChecker is implemented by backends that depend on a remote service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
