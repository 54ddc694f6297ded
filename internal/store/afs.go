package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// AFSBackend stores objects through viant/afs, so the same code serves
// file://, mem://, s3:// and gs:// locations. Cloud schemes need their
// afsc driver imported by the binary.
type AFSBackend struct {
	fs      afs.Service
	baseURL string
}

// NewAFSBackend creates a backend rooted at baseURL, e.g. "s3://bucket/mago".
func NewAFSBackend(baseURL string) (*AFSBackend, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("store: afs base URL is required")
	}
	if url.Scheme(baseURL, "") == "" {
		return nil, fmt.Errorf("store: afs base URL %q has no scheme", baseURL)
	}
	return &AFSBackend{fs: afs.New(), baseURL: baseURL}, nil
}

// URL returns the root location.
func (a *AFSBackend) URL() string { return a.baseURL }

func (a *AFSBackend) objectURL(key string) string { return url.Join(a.baseURL, key) }

func (a *AFSBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := a.fs.Upload(ctx, a.objectURL(key), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return ioErr("put", key, err)
	}
	return nil
}

func (a *AFSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	u := a.objectURL(key)
	ok, err := a.fs.Exists(ctx, u)
	if err != nil {
		return nil, ioErr("get", key, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	data, err := a.fs.DownloadWithURL(ctx, u)
	if err != nil {
		return nil, ioErr("get", key, err)
	}
	return data, nil
}

func (a *AFSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}
	root := a.baseURL
	if dir != "" {
		root = url.Join(a.baseURL, dir)
	}
	ok, err := a.fs.Exists(ctx, root)
	if err != nil {
		return nil, ioErr("list", prefix, err)
	}
	if !ok {
		return nil, nil
	}

	seen := map[string]bool{}
	var keys []string
	err = a.fs.Walk(ctx, root, func(ctx context.Context, baseURL string, parent string, info os.FileInfo, _ io.Reader) (bool, error) {
		if info == nil || info.IsDir() {
			return true, nil
		}
		key := path.Join(dir, parent, info.Name())
		if strings.HasPrefix(key, prefix) && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		return true, nil
	})
	if err != nil {
		return nil, ioErr("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key. Missing keys are not an error.
func (a *AFSBackend) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	u := a.objectURL(key)
	ok, err := a.fs.Exists(ctx, u)
	if err != nil {
		return ioErr("delete", key, err)
	}
	if !ok {
		return nil
	}
	if err := a.fs.Delete(ctx, u); err != nil {
		return ioErr("delete", key, err)
	}
	return nil
}
