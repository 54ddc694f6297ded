package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mago-voice-backend/internal/log"
	"mago-voice-backend/internal/upstream"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// DefaultTimeout bounds one synthesis, including the wait for a worker.
const DefaultTimeout = 30 * time.Second

// Task is the handle of one synthesis. It completes exactly once.
type Task struct {
	done chan struct{}

	mu     sync.Mutex
	status Status
	result *Result
	err    error
}

func newTask() *Task {
	return &Task{done: make(chan struct{}), status: StatusPending}
}

// Done is closed once the task has finished and its callback has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Status reports the current state without blocking.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (t *Task) Result() (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Wait blocks until the task completes or ctx ends. A ctx error does not
// cancel the task.
func (t *Task) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Task) finish(res *Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result, t.err = res, err
	if err != nil {
		t.status = StatusFailed
	} else {
		t.status = StatusReady
	}
}

// Runner executes synthesis on a bounded number of workers. Work started
// by a Runner outlives the request that started it.
type Runner struct {
	synth   Synthesizer
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewRunner creates a runner with workers concurrent syntheses.
func NewRunner(synth Synthesizer, workers int, timeout time.Duration) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		synth:   synth,
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
		logger:  log.Component("speech-runner"),
	}
}

// Timeout returns the per-task bound.
func (r *Runner) Timeout() time.Duration { return r.timeout }

// Start begins synthesizing text and returns immediately. onDone, if not
// nil, is called exactly once with the outcome before the task's Done
// channel closes. Cancelling ctx does not stop the work; only the runner's
// timeout does.
func (r *Runner) Start(ctx context.Context, text, voiceID string, onDone func(*Result, error)) *Task {
	t := newTask()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(t.done)
		defer cancel()

		res, err := r.run(ctx, text, voiceID)
		t.finish(res, err)
		if onDone != nil {
			r.callback(onDone, res, err)
		}
	}()
	return t
}

func (r *Runner) run(ctx context.Context, text, voiceID string) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("speech: synthesizer panic: %v", rec)
		}
	}()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, upstream.Classify("speech", fmt.Errorf("waiting for worker: %w", err))
	}
	defer r.sem.Release(1)

	start := time.Now()
	res, err = r.synth.Synthesize(ctx, text, voiceID)
	if err == nil && (res == nil || len(res.Audio) == 0) {
		err = upstream.Malformed("speech", "synthesizer returned no audio")
	}
	if err != nil {
		if !errors.Is(err, ErrEmptyText) {
			r.logger.Warn("synthesis failed", "voice", voiceID, "kind", upstream.Kind(err), "error", err)
		}
		return nil, err
	}
	r.logger.Debug("synthesis finished", "voice", voiceID, "bytes", len(res.Audio), "took", time.Since(start))
	return res, nil
}

func (r *Runner) callback(onDone func(*Result, error), res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("synthesis callback panicked", "panic", rec)
		}
	}()
	onDone(res, err)
}

// Synthesize runs one synthesis and waits for it.
func (r *Runner) Synthesize(ctx context.Context, text, voiceID string) (*Result, error) {
	return r.Start(ctx, text, voiceID, nil).Wait(ctx)
}

// Shutdown waits for in-flight tasks or until ctx ends.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
