package engine

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

func TestWorkerPool_BasicExecution(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()
	batch := pool.NewBatch()

	var ran int64
	err := batch.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	require.NoError(t, err)

	batch.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Completed)
	assert.Equal(t, 2, m.Size)
}

func TestWorkerPool_ZeroSizeDefaultsToOne(t *testing.T) {
	pool := NewWorkerPool(0)
	defer pool.Shutdown()
	assert.Equal(t, 1, pool.Size())
}

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	poolSize := 3
	pool := NewWorkerPool(poolSize)
	defer pool.Shutdown()
	batch := pool.NewBatch()

	var maxConcurrent int64
	var current int64
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		err := batch.Submit(context.Background(), func(ctx context.Context) error {
			c := atomic.AddInt64(&current, 1)
			mu.Lock()
			if c > maxConcurrent {
				maxConcurrent = c
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		})
		require.NoError(t, err)
	}

	batch.Wait()

	assert.LessOrEqual(t, maxConcurrent, int64(poolSize))
	assert.Greater(t, maxConcurrent, int64(0))
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()
	batch := pool.NewBatch()

	err := batch.Submit(context.Background(), func(ctx context.Context) error {
		panic("test panic")
	})
	require.NoError(t, err)
	batch.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(1), m.Failed)

	// Pool should still work after panic.
	var ran int64
	err = batch.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	require.NoError(t, err)
	batch.Wait()
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestWorkerPool_ContextCancellation(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()
	batch := pool.NewBatch()

	block := make(chan struct{})

	// Fill the pool.
	require.NoError(t, batch.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- batch.Submit(ctx, func(ctx context.Context) error { return nil })
	}()

	// Give the goroutine time to start waiting.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after context cancellation")
	}

	close(block)
	batch.Wait()
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Shutdown()
	pool.Shutdown() // Should not panic.

	err := pool.NewBatch().Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_MetricsAccuracy(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Shutdown()
	batch := pool.NewBatch()

	errTarget := errors.New("intentional error")
	for i := 0; i < 3; i++ {
		require.NoError(t, batch.Submit(context.Background(), func(ctx context.Context) error { return nil }))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, batch.Submit(context.Background(), func(ctx context.Context) error { return errTarget }))
	}
	batch.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(3), m.Completed)
	assert.Equal(t, int64(2), m.Failed)
	assert.Equal(t, int64(0), m.Active)
}

func TestBatch_WaitsOnlyForItsOwnWork(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Shutdown()

	block := make(chan struct{})
	other := pool.NewBatch()
	require.NoError(t, other.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	batch := pool.NewBatch()
	var ran int64
	for i := 0; i < 3; i++ {
		require.NoError(t, batch.Submit(context.Background(), func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}))
	}

	done := make(chan struct{})
	go func() {
		batch.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, int64(3), atomic.LoadInt64(&ran))
	case <-time.After(time.Second):
		t.Fatal("batch wait blocked on unrelated work")
	}

	close(block)
	other.Wait()
}

func TestBatch_RejectedSubmitDoesNotHang(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	batch := pool.NewBatch()
	err := batch.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
	batch.Wait()
}
