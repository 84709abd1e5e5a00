package queue

import (
	"context"
	"sync"

	"github.com/soundprediction/chronograph/pkg/types"
)

// State is an episode's position in the processing lifecycle.
type State string

const (
	StateQueued     State = "queued"
	StateDispatched State = "dispatched"
	StateExtracting State = "extracting"
	StateResolving  State = "resolving"
	StatePersisting State = "persisting"
	StateRetrying   State = "retrying"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Task is the handle returned by Submit. The handler advances its phase; the
// scheduler owns the terminal transition.
type Task struct {
	episode *types.Episode

	mu       sync.Mutex
	state    State
	attempts int
	err      error
	cancel   context.CancelFunc
	canceled bool
	done     chan struct{}
}

func newTask(episode *types.Episode) *Task {
	return &Task{
		episode: episode,
		state:   StateQueued,
		done:    make(chan struct{}),
	}
}

// Episode returns the submitted episode.
func (t *Task) Episode() *types.Episode { return t.episode }

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Retries reports how many re-dispatches the scheduler performed.
func (t *Task) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attempts == 0 {
		return 0
	}
	return t.attempts - 1
}

// Err returns the terminal error, nil before completion and on success.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel requests cancellation. Processing that has reached the persistence
// phase completes it; earlier phases stop at the next suspension point.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.canceled = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// SetPhase is called by the handler to report extract/resolve/persist
// progress. Terminal states are rejected; those belong to the scheduler.
func (t *Task) SetPhase(s State) {
	if s.Terminal() {
		return
	}
	t.setState(s)
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = s
}

func (t *Task) bumpAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	return t.attempts
}

func (t *Task) armCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancel = cancel
	canceled := t.canceled
	t.mu.Unlock()
	if canceled {
		cancel()
	}
}

func (t *Task) finish(s State, err error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state = s
	if s != StateDone {
		t.err = err
	}
	t.mu.Unlock()
	close(t.done)
}

// groupQueue is one group's FIFO plus the "group busy" flag implied by its
// single worker.
type groupQueue struct {
	groupID string

	mu      sync.Mutex
	pending []*Task
	// running tracks the task between pop and taskDone so depth counts it.
	running bool
	closed  bool
	wake    chan struct{}
}

func newGroupQueue(groupID string) *groupQueue {
	return &groupQueue{
		groupID: groupID,
		wake:    make(chan struct{}, 1),
	}
}

func (g *groupQueue) push(t *Task) {
	g.mu.Lock()
	g.pending = append(g.pending, t)
	g.mu.Unlock()
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// pop blocks until a task is available or the queue shuts down.
func (g *groupQueue) pop(ctx context.Context) (*Task, bool) {
	for {
		g.mu.Lock()
		if len(g.pending) > 0 {
			t := g.pending[0]
			g.pending = g.pending[1:]
			g.running = true
			g.mu.Unlock()
			return t, true
		}
		closed := g.closed
		g.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-g.wake:
		case <-ctx.Done():
			g.drain()
			return nil, false
		}
	}
}

func (g *groupQueue) taskDone() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

func (g *groupQueue) depth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.pending)
	if g.running {
		n++
	}
	return n
}

func (g *groupQueue) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// drain cancels tasks still pending at shutdown.
func (g *groupQueue) drain() {
	g.mu.Lock()
	pending := g.pending
	g.pending = nil
	g.mu.Unlock()
	for _, t := range pending {
		t.finish(StateCancelled, context.Canceled)
	}
}
