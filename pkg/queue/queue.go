// Package queue schedules episode processing: one FIFO per group with strict
// serial processing inside a group, bounded parallelism across groups, and a
// retry policy driven by error classification.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

// DefaultMaxInflight bounds cross-group parallelism when unconfigured.
const DefaultMaxInflight = 10

// DefaultTransientBase is the backoff base for transient graph-store errors,
// deliberately shorter than the LLM schedule.
const DefaultTransientBase = 500 * time.Millisecond

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("queue closed")

// Handler runs one episode through extraction and persistence. It reports
// phase transitions through the task and returns the terminal error, if any.
type Handler func(ctx context.Context, task *Task) error

// Config tunes the scheduler.
type Config struct {
	// MaxInflight bounds how many episodes are processed concurrently across
	// all groups.
	MaxInflight int
	// GroupSpacing is the minimum delay between dispatches within one group.
	GroupSpacing time.Duration
	// Retry is the LLM-error backoff schedule.
	Retry nlp.RetryConfig
	// TransientBase overrides the backoff base for transient graph errors.
	TransientBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxInflight <= 0 {
		c.MaxInflight = DefaultMaxInflight
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = *nlp.DefaultRetryConfig()
	}
	if c.TransientBase <= 0 {
		c.TransientBase = DefaultTransientBase
	}
	return c
}

// Queue is the sole entry point into mutating work.
type Queue struct {
	cfg      Config
	handler  Handler
	logger   *slog.Logger
	inflight *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	groups map[string]*groupQueue
	closed bool
	wg     sync.WaitGroup
}

// New creates a queue. Processing starts on the first Submit.
func New(cfg Config, handler Handler, logger *slog.Logger) *Queue {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		inflight: semaphore.NewWeighted(int64(cfg.MaxInflight)),
		ctx:      ctx,
		cancel:   cancel,
		groups:   make(map[string]*groupQueue),
	}
}

// Submit enqueues an episode and returns immediately with a task handle. The
// queue is in-memory; durability is the caller's concern.
func (q *Queue) Submit(episode *types.Episode) (*Task, error) {
	if err := episode.ValidateForCreate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	g, ok := q.groups[episode.GroupID]
	if !ok {
		g = newGroupQueue(episode.GroupID)
		q.groups[episode.GroupID] = g
		q.wg.Add(1)
		go q.runGroup(g)
	}
	task := newTask(episode)
	g.push(task)
	q.mu.Unlock()

	q.logger.Debug("episode queued",
		"group_id", episode.GroupID,
		"episode_id", episode.ID)
	return task, nil
}

// GroupDepth reports the number of episodes waiting or running in the group.
func (q *Queue) GroupDepth(groupID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[groupID]
	if !ok {
		return 0
	}
	return g.depth()
}

// Stats snapshots per-group queue depths.
func (q *Queue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.groups))
	for id, g := range q.groups {
		out[id] = g.depth()
	}
	return out
}

// Close stops accepting work, cancels in-flight tasks, and waits for the
// group workers to drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, g := range q.groups {
		g.close()
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// runGroup drains one group's FIFO. At most one episode per group is ever
// being processed; the inflight semaphore bounds parallelism across groups.
func (q *Queue) runGroup(g *groupQueue) {
	defer q.wg.Done()
	for {
		task, ok := g.pop(q.ctx)
		if !ok {
			return
		}
		if err := q.inflight.Acquire(q.ctx, 1); err != nil {
			task.finish(StateCancelled, context.Canceled)
			g.taskDone()
			return
		}
		q.process(task)
		q.inflight.Release(1)
		g.taskDone()

		if q.cfg.GroupSpacing > 0 {
			select {
			case <-time.After(q.cfg.GroupSpacing):
			case <-q.ctx.Done():
				return
			}
		}
	}
}

// process runs one task through the handler with the retry schedule.
func (q *Queue) process(task *Task) {
	for {
		if task.Cancelled() || q.ctx.Err() != nil {
			task.finish(StateCancelled, context.Canceled)
			return
		}
		task.setState(StateDispatched)

		ctx, cancel := context.WithCancel(q.ctx)
		task.armCancel(cancel)
		err := q.handler(ctx, task)
		cancel()

		if err == nil {
			task.finish(StateDone, nil)
			return
		}
		if errors.Is(err, context.Canceled) {
			task.finish(StateCancelled, err)
			return
		}

		attempt := task.bumpAttempts()
		delay, retryable := q.retryDelay(err, attempt)
		if !retryable || attempt >= q.cfg.Retry.MaxAttempts {
			q.logger.Error("episode failed",
				"group_id", task.episode.GroupID,
				"episode_id", task.episode.ID,
				"attempts", attempt,
				"error", err)
			task.finish(StateFailed, err)
			return
		}

		q.logger.Warn("episode retrying",
			"group_id", task.episode.GroupID,
			"episode_id", task.episode.ID,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		task.setState(StateRetrying)
		select {
		case <-time.After(delay):
		case <-q.ctx.Done():
			task.finish(StateCancelled, context.Canceled)
			return
		}
	}
}

// retryDelay classifies the error and computes the jittered backoff for the
// given attempt. Bad LLM output is terminal; rate limits and unavailability
// use the LLM schedule; transient graph errors use the shorter schedule.
func (q *Queue) retryDelay(err error, attempt int) (time.Duration, bool) {
	switch {
	case nlp.IsRetryable(err):
		return q.cfg.Retry.Backoff(attempt - 1), true
	case driver.IsTransient(err):
		schedule := q.cfg.Retry
		schedule.Base = q.cfg.TransientBase
		return schedule.Backoff(attempt - 1), true
	default:
		return 0, false
	}
}
