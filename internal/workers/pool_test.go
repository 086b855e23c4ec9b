package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockJob implements the Job interface for testing
type MockJob struct {
	id       string
	jobType  string
	duration time.Duration
	err      error
	executed int32
	sawDone  int32
}

func NewMockJob(id, jobType string, duration time.Duration, err error) *MockJob {
	return &MockJob{
		id:       id,
		jobType:  jobType,
		duration: duration,
		err:      err,
	}
}

func (m *MockJob) Execute(ctx context.Context) error {
	atomic.AddInt32(&m.executed, 1)
	if m.duration > 0 {
		select {
		case <-time.After(m.duration):
		case <-ctx.Done():
			atomic.AddInt32(&m.sawDone, 1)
			return ctx.Err()
		}
	}
	return m.err
}

func (m *MockJob) ID() string {
	return m.id
}

func (m *MockJob) Type() string {
	return m.jobType
}

func (m *MockJob) ExecutedCount() int32 {
	return atomic.LoadInt32(&m.executed)
}

func TestNewPool(t *testing.T) {
	t.Run("keeps configured size", func(t *testing.T) {
		pool := New(Config{Size: 5, RateLimit: 10})
		assert.Equal(t, 5, pool.Size())
		assert.NotNil(t, pool.limiter)
	})

	t.Run("non-positive size becomes one", func(t *testing.T) {
		pool := New(Config{})
		assert.Equal(t, 1, pool.Size())
		assert.Nil(t, pool.limiter)
	})

	t.Run("default config", func(t *testing.T) {
		assert.Equal(t, 10, DefaultConfig().Size)
	})
}

func TestPoolRunsAllJobs(t *testing.T) {
	var mu sync.Mutex
	var results []Result
	pool := New(Config{Size: 3}, WithResultHandler(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}))

	jobs := make([]*MockJob, 10)
	for i := range jobs {
		jobs[i] = NewMockJob(fmt.Sprintf("job-%d", i), "test", time.Millisecond, nil)
		require.NoError(t, pool.Submit(context.Background(), jobs[i]))
	}
	pool.Wait()

	for _, job := range jobs {
		assert.Equal(t, int32(1), job.ExecutedCount())
	}
	assert.Len(t, results, 10)

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Admitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.Equal(t, int64(0), stats.InFlight)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 4
	pool := New(Config{Size: size})

	var running, peak int32
	for i := 0; i < 40; i++ {
		job := JobFunc{JobID: fmt.Sprint(i), JobType: "bounded", Fn: func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}}
		require.NoError(t, pool.Submit(context.Background(), job))
	}
	pool.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(size))
	assert.LessOrEqual(t, pool.Stats().PeakInFlight, int64(size))
	assert.Greater(t, pool.Stats().PeakInFlight, int64(1))
}

func TestPoolErrorsAndPanics(t *testing.T) {
	var mu sync.Mutex
	byID := map[string]Result{}
	pool := New(Config{Size: 2}, WithResultHandler(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		byID[r.JobID] = r
	}))

	failure := errors.New("lookup failed")
	require.NoError(t, pool.Submit(context.Background(), NewMockJob("fail", "test", 0, failure)))
	require.NoError(t, pool.Submit(context.Background(), JobFunc{JobID: "panic", JobType: "test", Fn: func(context.Context) error {
		panic("nil map write")
	}}))
	require.NoError(t, pool.Submit(context.Background(), NewMockJob("ok", "test", 0, nil)))
	pool.Wait()

	assert.ErrorIs(t, byID["fail"].Error, failure)
	assert.True(t, byID["panic"].Panicked)
	assert.Contains(t, byID["panic"].Error.Error(), "nil map write")
	assert.NoError(t, byID["ok"].Error)

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Panicked)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestPoolCancellation(t *testing.T) {
	t.Run("cancelled context rejects new jobs", func(t *testing.T) {
		pool := New(Config{Size: 1})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		job := NewMockJob("late", "test", 0, nil)
		err := pool.Submit(ctx, job)
		assert.ErrorIs(t, err, context.Canceled)
		pool.Wait()
		assert.Equal(t, int32(0), job.ExecutedCount())
	})

	t.Run("admitted jobs are not interrupted", func(t *testing.T) {
		pool := New(Config{Size: 1})
		ctx, cancel := context.WithCancel(context.Background())

		running := NewMockJob("running", "test", 30*time.Millisecond, nil)
		require.NoError(t, pool.Submit(ctx, running))

		waiting := make(chan error, 1)
		go func() {
			waiting <- pool.Submit(ctx, NewMockJob("queued", "test", 0, nil))
		}()

		time.Sleep(5 * time.Millisecond)
		cancel()

		assert.ErrorIs(t, <-waiting, context.Canceled)
		pool.Wait()
		assert.Equal(t, int32(1), running.ExecutedCount())
		assert.Equal(t, int32(0), atomic.LoadInt32(&running.sawDone))
		assert.Equal(t, int64(1), pool.Stats().Admitted)
	})

	t.Run("values survive detachment", func(t *testing.T) {
		type key struct{}
		pool := New(Config{Size: 1})
		ctx := context.WithValue(context.Background(), key{}, "run-1")

		var seen any
		require.NoError(t, pool.Submit(ctx, JobFunc{JobID: "v", Fn: func(ctx context.Context) error {
			seen = ctx.Value(key{})
			return nil
		}}))
		pool.Wait()
		assert.Equal(t, "run-1", seen)
	})
}

func TestPoolRateLimit(t *testing.T) {
	pool := New(Config{Size: 10, RateLimit: 50})

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(context.Background(), NewMockJob(fmt.Sprint(i), "test", 0, nil)))
	}
	pool.Wait()

	// Burst of one then four waits of 20ms each.
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}
