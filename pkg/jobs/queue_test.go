package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed int32
	queue := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 16})

	require.Error(t, queue.Enqueue(Job{ID: "early"}))

	queue.Start(context.Background())
	for i := 0; i < 10; i++ {
		require.NoError(t, queue.Enqueue(Job{ID: "job", Type: "notify"}))
	}
	queue.Stop()

	assert.Equal(t, int32(10), atomic.LoadInt32(&processed))
	assert.Error(t, queue.Enqueue(Job{ID: "late"}))
}

func TestQueueRetriesThenDeadLetters(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	var dead []Job
	done := make(chan struct{})

	queue := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("sink unavailable")
	}, QueueConfig{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: 5 * time.Millisecond,
		DeadLetter: func(job Job, err error) {
			mu.Lock()
			dead = append(dead, job)
			mu.Unlock()
			close(done)
		},
	})
	queue.Start(context.Background())
	defer queue.Stop()

	require.NoError(t, queue.Enqueue(Job{ID: "n-1", Type: "notify"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not dead-lettered")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempt)
}

func TestQueueEnqueueFailsFastWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	queue := NewQueue("test", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1, DrainTimeout: 50 * time.Millisecond})
	queue.Start(context.Background())
	defer queue.Stop()

	require.NoError(t, queue.Enqueue(Job{ID: "running"}))
	<-started
	require.NoError(t, queue.Enqueue(Job{ID: "buffered"}))

	err := queue.Enqueue(Job{ID: "overflow"})
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, queue.Len())
	close(release)
}
