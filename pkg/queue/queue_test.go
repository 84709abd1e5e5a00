package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

func queueEpisode(id, group string) *types.Episode {
	return &types.Episode{
		ID:            id,
		Name:          "episode " + id,
		Body:          "body " + id,
		Kind:          types.EpisodeText,
		GroupID:       group,
		IngestedAt:    time.Now().UTC(),
		ReferenceTime: time.Now().UTC(),
	}
}

func fastRetry() nlp.RetryConfig {
	return nlp.RetryConfig{MaxAttempts: 5, Base: time.Millisecond, Cap: 5 * time.Millisecond}
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestQueueProcessesSerialWithinGroup(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var concurrent, maxConcurrent int32

	q := New(Config{Retry: fastRetry()}, func(ctx context.Context, task *Task) error {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			prev := atomic.LoadInt32(&maxConcurrent)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxConcurrent, prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, task.Episode().ID)
		mu.Unlock()
		atomic.AddInt32(&concurrent, -1)
		return nil
	}, nil)
	defer q.Close()

	var tasks []*Task
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		task, err := q.Submit(queueEpisode(id, "g1"))
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		waitDone(t, task)
		assert.Equal(t, StateDone, task.State())
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}, order)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))
}

func TestQueueParallelAcrossGroups(t *testing.T) {
	const groups = 10
	var concurrent, maxConcurrent int32
	release := make(chan struct{})

	q := New(Config{MaxInflight: groups, Retry: fastRetry()}, func(ctx context.Context, task *Task) error {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			prev := atomic.LoadInt32(&maxConcurrent)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxConcurrent, prev, cur) {
				break
			}
		}
		<-release
		atomic.AddInt32(&concurrent, -1)
		return nil
	}, nil)
	defer q.Close()

	var tasks []*Task
	for i := 0; i < groups; i++ {
		task, err := q.Submit(queueEpisode("ep", string(rune('a'+i))))
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	// All ten should reach the handler before any is released.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&concurrent) == groups
	}, 5*time.Second, time.Millisecond)
	close(release)

	for _, task := range tasks {
		waitDone(t, task)
	}
	assert.Equal(t, int32(groups), atomic.LoadInt32(&maxConcurrent))
}

func TestQueueInflightBound(t *testing.T) {
	var concurrent, maxConcurrent int32

	q := New(Config{MaxInflight: 2, Retry: fastRetry()}, func(ctx context.Context, task *Task) error {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			prev := atomic.LoadInt32(&maxConcurrent)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxConcurrent, prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	}, nil)
	defer q.Close()

	var tasks []*Task
	for i := 0; i < 6; i++ {
		task, err := q.Submit(queueEpisode("ep", string(rune('a'+i))))
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		waitDone(t, task)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(2))
}

func TestQueueRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	q := New(Config{Retry: fastRetry()}, func(ctx context.Context, task *Task) error {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nlp.NewRateLimitError("slow down")
		}
		return nil
	}, nil)
	defer q.Close()

	task, err := q.Submit(queueEpisode("ep1", "g1"))
	require.NoError(t, err)
	waitDone(t, task)

	assert.Equal(t, StateDone, task.State())
	assert.NoError(t, task.Err())
	assert.Equal(t, 2, task.Retries())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueExhaustsRetries(t *testing.T) {
	var calls int32
	q := New(Config{Retry: nlp.RetryConfig{MaxAttempts: 3, Base: time.Millisecond, Cap: time.Millisecond}},
		func(ctx context.Context, task *Task) error {
			atomic.AddInt32(&calls, 1)
			return nlp.NewUnavailableError("down")
		}, nil)
	defer q.Close()

	task, err := q.Submit(queueEpisode("ep1", "g1"))
	require.NoError(t, err)
	waitDone(t, task)

	assert.Equal(t, StateFailed, task.State())
	assert.Error(t, task.Err())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueBadOutputNotRetried(t *testing.T) {
	var calls int32
	q := New(Config{Retry: fastRetry()}, func(ctx context.Context, task *Task) error {
		atomic.AddInt32(&calls, 1)
		return nlp.NewBadOutputError("garbage")
	}, nil)
	defer q.Close()

	task, err := q.Submit(queueEpisode("ep1", "g1"))
	require.NoError(t, err)
	waitDone(t, task)

	assert.Equal(t, StateFailed, task.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueueFailedEpisodeDoesNotBlockGroup(t *testing.T) {
	q := New(Config{Retry: nlp.RetryConfig{MaxAttempts: 2, Base: time.Millisecond, Cap: time.Millisecond}},
		func(ctx context.Context, task *Task) error {
			if task.Episode().ID == "bad" {
				return errors.New("permanent")
			}
			return nil
		}, nil)
	defer q.Close()

	bad, err := q.Submit(queueEpisode("bad", "g1"))
	require.NoError(t, err)
	good, err := q.Submit(queueEpisode("good", "g1"))
	require.NoError(t, err)

	waitDone(t, bad)
	waitDone(t, good)
	assert.Equal(t, StateFailed, bad.State())
	assert.Equal(t, StateDone, good.State())
}

func TestQueueCancelBeforeDispatch(t *testing.T) {
	block := make(chan struct{})
	q := New(Config{Retry: fastRetry()}, func(ctx context.Context, task *Task) error {
		<-block
		return nil
	}, nil)
	defer q.Close()

	first, err := q.Submit(queueEpisode("ep1", "g1"))
	require.NoError(t, err)
	second, err := q.Submit(queueEpisode("ep2", "g1"))
	require.NoError(t, err)

	second.Cancel()
	close(block)

	waitDone(t, first)
	waitDone(t, second)
	assert.Equal(t, StateDone, first.State())
	assert.Equal(t, StateCancelled, second.State())
}

func TestQueueSubmitAfterClose(t *testing.T) {
	q := New(Config{Retry: fastRetry()}, func(ctx context.Context, task *Task) error {
		return nil
	}, nil)
	q.Close()

	_, err := q.Submit(queueEpisode("ep1", "g1"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueueSubmitValidation(t *testing.T) {
	q := New(Config{Retry: fastRetry()}, func(ctx context.Context, task *Task) error {
		return nil
	}, nil)
	defer q.Close()

	_, err := q.Submit(&types.Episode{Name: "no id", Body: "b", GroupID: "g1"})
	assert.ErrorIs(t, err, types.ErrEmptyID)
}

func TestQueueStats(t *testing.T) {
	block := make(chan struct{})
	q := New(Config{Retry: fastRetry()}, func(ctx context.Context, task *Task) error {
		<-block
		return nil
	}, nil)
	defer q.Close()

	t1, err := q.Submit(queueEpisode("ep1", "g1"))
	require.NoError(t, err)
	t2, err := q.Submit(queueEpisode("ep2", "g1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return q.GroupDepth("g1") == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, map[string]int{"g1": 2}, q.Stats())

	close(block)
	waitDone(t, t1)
	waitDone(t, t2)
}
