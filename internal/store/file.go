package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tmpSuffix = ".tmp"

// FileBackend stores each key as a file under a root directory.
type FileBackend struct {
	root string
}

func NewFileBackend(root string) (*FileBackend, error) {
	if root == "" {
		root = "data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, ioErr("mkdir", root, err)
	}
	return &FileBackend{root: root}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

// Put writes to a temp file in the target directory and renames it into place.
func (f *FileBackend) Put(_ context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	dst := f.path(key)
	var (
		tmp *os.File
		err error
	)
	// A concurrent Delete may prune the directory between mkdir and create.
	for attempt := 0; attempt < 2; attempt++ {
		if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return ioErr("mkdir", key, err)
		}
		tmp, err = os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*"+tmpSuffix)
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	if err != nil {
		return ioErr("put", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioErr("put", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioErr("sync", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ioErr("put", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return ioErr("rename", key, err)
	}
	return nil
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, ioErr("get", key, err)
	}
	return b, nil
}

// List returns the keys starting with prefix, sorted. Temp files are skipped.
func (f *FileBackend) List(_ context.Context, prefix string) ([]string, error) {
	dir := f.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = f.path(prefix[:i])
	}
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, ioErr("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key and any directories it leaves empty. Missing keys are
// not an error.
func (f *FileBackend) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	p := f.path(key)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioErr("delete", key, err)
	}
	root := filepath.Clean(f.root)
	for dir := filepath.Dir(p); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}
