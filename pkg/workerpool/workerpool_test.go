package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreAcquireRelease(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))
	assert.Equal(t, 0, s.Available())
	assert.False(t, s.TryAcquire())
	s.Release()
	assert.Equal(t, 1, s.Available())
}

func TestPoolLimitsConcurrency(t *testing.T) {
	p := New("test", 2)

	var inFlight int32

	var maxObserved int32

	done := make(chan struct{}, 5)

	work := func(ctx context.Context) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxObserved)
			if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		done <- struct{}{}

		return nil
	}

	for range 5 {
		require.NoError(t, p.Submit(context.Background(), work))
	}

	for range 5 {
		<-done
	}

	assert.LessOrEqual(t, int(maxObserved), 2)
}

func TestRegistryPerDomainCapacity(t *testing.T) {
	reg := NewRegistry(10, map[string]int{"aur.archlinux.org": 1})

	aur := reg.PoolFor("aur.archlinux.org")
	mirror := reg.PoolFor("mirror.example.com")

	assert.Equal(t, 1, aur.Available())
	assert.Equal(t, 10, mirror.Available())
	assert.Same(t, aur, reg.PoolFor("aur.archlinux.org"))
}

func TestRetryWithContextStopsOnSuccess(t *testing.T) {
	attempts := 0

	err := RetryWithContext(context.Background(), 3, time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return assert.AnError
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithContextExhausts(t *testing.T) {
	attempts := 0

	err := RetryWithContext(context.Background(), 2, time.Millisecond, func(context.Context) error {
		attempts++

		return assert.AnError
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}
