package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mago-voice-backend/internal/log"
)

// Janitor runs the retention sweep and the remote reconcile on a schedule,
// off the request path.
type Janitor struct {
	store    *ConversationStore
	mirror   *Mirror
	sessions *MemoryStore
	policy   RetentionPolicy
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a janitor. mirror and sessions may be nil.
func NewJanitor(store *ConversationStore, mirror *Mirror, sessions *MemoryStore, policy RetentionPolicy, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		store:    store,
		mirror:   mirror,
		sessions: sessions,
		policy:   policy,
		interval: interval,
		logger:   log.Component("janitor"),
	}
}

// Policy returns the retention policy the janitor applies.
func (j *Janitor) Policy() RetentionPolicy { return j.policy }

// Run sweeps once immediately and then every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) {
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("janitor pass finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RunOnce performs one sweep and one reconcile. Overlapping calls return
// immediately with an empty report.
func (j *Janitor) RunOnce(ctx context.Context) (CleanupReport, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return CleanupReport{}, nil
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	report, err := j.store.Cleanup(ctx, j.policy)
	if err != nil {
		return report, err
	}
	if j.sessions != nil {
		if n := j.sessions.Expire(); n > 0 {
			j.logger.Debug("expired idle sessions", "count", n)
		}
	}
	if j.mirror == nil {
		return report, nil
	}
	return report, j.reconcile(ctx)
}

// reconcile retries outstanding remote deletes, then syncs each day known
// to either side under its day lock, plus audio and pin markers.
func (j *Janitor) reconcile(ctx context.Context) error {
	if n, err := j.mirror.PurgeDeleted(ctx); err != nil {
		j.logger.Warn("remote deletes still outstanding", "error", err)
	} else if n > 0 {
		j.logger.Info("applied outstanding remote deletes", "count", n)
	}
	days, err := j.store.ListDays(ctx)
	if err != nil {
		return err
	}
	remoteKeys, err := j.mirror.RemoteList(ctx, daysPrefix)
	if err != nil {
		return err
	}
	days = mergeDays(days, daysOf(remoteKeys))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, day := range days {
		day := day
		g.Go(func() error {
			unlock := j.store.locks.Lock(string(day))
			defer unlock()
			n, err := j.mirror.Reconcile(ctx, dayPrefix(day))
			if n > 0 {
				j.logger.Info("reconciled day", "day", day, "changed", n)
			}
			return err
		})
	}
	for _, prefix := range []string{keepPrefix, "audio/"} {
		prefix := prefix
		g.Go(func() error {
			_, err := j.mirror.Reconcile(ctx, prefix)
			return err
		})
	}
	return g.Wait()
}

func mergeDays(a, b []Day) []Day {
	seen := make(map[Day]bool, len(a)+len(b))
	var out []Day
	for _, d := range append(append([]Day{}, a...), b...) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i] < out[k] })
	return out
}
