package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_DefaultSize(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultSize, New(0).Size())
	require.Equal(t, 5, New(5).Size())
}

func TestLimiter_NeverExceedsSize(t *testing.T) {
	t.Parallel()

	l := New(2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer release()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, l.Peak(), 2)
	require.Equal(t, 2, l.Peak())
	require.Equal(t, 0, l.Active())
}

func TestLimiter_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l := New(1)
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()
	require.Equal(t, 0, l.Active())

	// A double release must not have freed a phantom slot.
	first, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_AcquireCanceledHoldsNothing(t *testing.T) {
	t.Parallel()

	l := New(1)
	held, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release, err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	release()
	require.Equal(t, 1, l.Active())

	held()
	require.Equal(t, 0, l.Active())
}
