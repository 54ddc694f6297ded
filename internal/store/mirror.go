package store

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mago-voice-backend/internal/log"
)

type syncOp struct {
	key     string
	delete  bool
	attempt int
}

// tombstonePrefix holds one marker per key deleted from the primary whose
// remote copy may still exist. Markers live in the primary so they survive
// a restart.
const tombstonePrefix = "_mirror/deleted/"

func tombstoneKey(key string) string {
	return tombstonePrefix + base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Mirror writes to a primary backend and copies every change to a remote
// backend asynchronously. Callers only ever wait for the primary; remote
// failures are retried with backoff and then logged. Reconcile repairs
// anything the queue dropped.
//
// The remote is never trusted to know about deletes: a Delete leaves a
// tombstone until the remote copy is gone, reads do not fall back to the
// remote for tombstoned keys, and only tombstoned keys are deleted from the
// remote. Remote objects the primary has never seen are restored into it.
type Mirror struct {
	primary Backend
	remote  Backend

	tmu        sync.Mutex
	tombstones map[string]bool

	queue      chan syncOp
	maxRetries int
	backoff    time.Duration

	pending atomic.Int64
	wg      sync.WaitGroup
	stop    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithRetry sets the retry count and the base backoff for remote writes.
func WithRetry(maxRetries int, backoff time.Duration) MirrorOption {
	return func(m *Mirror) {
		m.maxRetries = maxRetries
		m.backoff = backoff
	}
}

// NewMirror starts the remote sync worker. Call Close to stop it.
func NewMirror(primary, remote Backend, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		primary:    primary,
		remote:     remote,
		queue:      make(chan syncOp, 1024),
		maxRetries: 5,
		backoff:    500 * time.Millisecond,
		tombstones: map[string]bool{},
		stop:       make(chan struct{}),
		logger:     log.Component("mirror"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.loadTombstones()
	m.wg.Add(1)
	go m.worker()
	return m
}

func (m *Mirror) Put(ctx context.Context, key string, data []byte) error {
	if err := m.primary.Put(ctx, key, data); err != nil {
		return err
	}
	// the queued put overwrites whatever the remote still holds
	m.clearTombstone(ctx, key)
	m.enqueue(syncOp{key: key})
	return nil
}

// Get reads the primary and falls back to the remote copy, unless the key
// was deleted here.
func (m *Mirror) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.primary.Get(ctx, key)
	if err == nil || !errors.Is(err, ErrNotFound) || m.deleted(key) {
		return data, err
	}
	data, rerr := m.remote.Get(ctx, key)
	if rerr != nil {
		return nil, err
	}
	return data, nil
}

func (m *Mirror) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := m.primary.List(ctx, prefix)
	if err != nil || !strings.HasPrefix(tombstonePrefix, prefix) {
		return keys, err
	}
	out := keys[:0]
	for _, k := range keys {
		if !strings.HasPrefix(k, tombstonePrefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Mirror) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	earlier := m.deleted(key)
	if err := m.setTombstone(ctx, key); err != nil {
		return err
	}
	if err := m.primary.Delete(ctx, key); err != nil {
		if !earlier {
			m.clearTombstone(ctx, key)
		}
		return err
	}
	m.enqueue(syncOp{key: key, delete: true})
	return nil
}

func (m *Mirror) deleted(key string) bool {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	return m.tombstones[key]
}

// setTombstone records the delete before it happens, so a crash between the
// two leaves a tombstone for a key that may still exist, never the reverse.
func (m *Mirror) setTombstone(ctx context.Context, key string) error {
	if err := m.primary.Put(ctx, tombstoneKey(key), []byte(key)); err != nil {
		return err
	}
	m.tmu.Lock()
	m.tombstones[key] = true
	m.tmu.Unlock()
	return nil
}

func (m *Mirror) clearTombstone(ctx context.Context, key string) {
	m.tmu.Lock()
	had := m.tombstones[key]
	delete(m.tombstones, key)
	m.tmu.Unlock()
	if !had {
		return
	}
	if err := m.primary.Delete(ctx, tombstoneKey(key)); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("clearing tombstone failed", "key", key, "error", err)
	}
}

func (m *Mirror) loadTombstones() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	keys, err := m.primary.List(ctx, tombstonePrefix)
	if err != nil {
		m.logger.Error("loading tombstones failed", "error", err)
		return
	}
	for _, k := range keys {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(k, tombstonePrefix))
		if err != nil {
			m.logger.Warn("skipping malformed tombstone", "key", k)
			continue
		}
		m.tombstones[string(raw)] = true
	}
	if len(keys) > 0 {
		m.logger.Info("remote deletes outstanding", "count", len(m.tombstones))
	}
}

// Tombstones returns the deleted keys whose remote copies are not yet
// known to be gone.
func (m *Mirror) Tombstones() []string {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	out := make([]string, 0, len(m.tombstones))
	for k := range m.tombstones {
		out = append(out, k)
	}
	return out
}

func (m *Mirror) enqueue(op syncOp) {
	m.pending.Add(1)
	select {
	case m.queue <- op:
	default:
		m.pending.Add(-1)
		m.logger.Warn("remote sync queue full, deferring to reconcile", "key", op.key)
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case op := <-m.queue:
			m.apply(op)
		}
	}
}

func (m *Mirror) apply(op syncOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := m.syncKey(ctx, op)
	cancel()
	if err == nil {
		m.pending.Add(-1)
		return
	}
	if op.attempt >= m.maxRetries {
		m.logger.Error("remote sync gave up", "key", op.key, "attempts", op.attempt+1, "error", err)
		m.pending.Add(-1)
		return
	}
	op.attempt++
	delay := m.backoff * time.Duration(1<<min(op.attempt-1, 6))
	m.logger.Warn("remote sync failed, retrying", "key", op.key, "attempt", op.attempt, "in", delay, "error", err)
	time.AfterFunc(delay, func() {
		select {
		case m.queue <- op:
		case <-m.stop:
			m.pending.Add(-1)
		}
	})
}

// syncKey copies the primary's current state of key to the remote.
func (m *Mirror) syncKey(ctx context.Context, op syncOp) error {
	if op.delete {
		return m.purge(ctx, op.key)
	}
	data, err := m.primary.Get(ctx, op.key)
	if errors.Is(err, ErrNotFound) {
		// deleted since; the delete op follows
		return nil
	}
	if err != nil {
		return err
	}
	return m.remote.Put(ctx, op.key, data)
}

// Flush waits until every queued change has been applied or given up on.
func (m *Mirror) Flush(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for m.pending.Load() > 0 {
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// HealthCheck checks the primary when it supports health checks. Remote
// trouble only shows up as Pending growing.
func (m *Mirror) HealthCheck(ctx context.Context) error {
	if hc, ok := m.primary.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// RemoteList lists the remote copy under prefix.
func (m *Mirror) RemoteList(ctx context.Context, prefix string) ([]string, error) {
	return m.remote.List(ctx, prefix)
}

// Pending returns the number of changes not yet applied to the remote.
func (m *Mirror) Pending() int64 { return m.pending.Load() }

// purge deletes key from the remote and drops its tombstone. A key put
// again since the delete keeps its remote copy.
func (m *Mirror) purge(ctx context.Context, key string) error {
	if !m.deleted(key) {
		return nil
	}
	if _, err := m.primary.Get(ctx, key); err == nil {
		m.clearTombstone(ctx, key)
		return nil
	}
	if err := m.remote.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	m.clearTombstone(ctx, key)
	return nil
}

// PurgeDeleted retries the remote delete of every tombstoned key and returns
// how many were applied.
func (m *Mirror) PurgeDeleted(ctx context.Context) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, key := range m.Tombstones() {
		if err := m.purge(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Reconcile repairs drift under prefix in both directions: objects missing
// or stale on the remote are uploaded, tombstoned objects are deleted from
// the remote, and remote objects the primary lacks are restored into it.
func (m *Mirror) Reconcile(ctx context.Context, prefix string) (int, error) {
	local, err := m.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	remote, err := m.remote.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	remoteSet := make(map[string]bool, len(remote))
	for _, k := range remote {
		remoteSet[k] = true
	}

	var (
		changed int
		errs    []error
	)
	for _, key := range local {
		data, err := m.primary.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		if remoteSet[key] {
			delete(remoteSet, key)
			if rdata, err := m.remote.Get(ctx, key); err == nil && string(rdata) == string(data) {
				continue
			}
		}
		if err := m.remote.Put(ctx, key, data); err != nil {
			errs = append(errs, err)
			continue
		}
		changed++
	}
	for key := range remoteSet {
		if m.deleted(key) {
			if err := m.purge(ctx, key); err != nil {
				errs = append(errs, err)
				continue
			}
			changed++
			continue
		}
		ok, err := m.restore(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// restore copies a remote-only object into the primary unless the primary
// gained the key in the meantime.
func (m *Mirror) restore(ctx context.Context, key string) (bool, error) {
	if _, err := m.primary.Get(ctx, key); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	data, err := m.remote.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := m.primary.Put(ctx, key, data); err != nil {
		return false, err
	}
	m.logger.Info("restored object from remote", "key", key)
	return true, nil
}

// Close stops the sync worker. Queued changes not yet applied are left to
// the next Reconcile.
func (m *Mirror) Close() error {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}
