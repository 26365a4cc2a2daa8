package fetch

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	closed atomic.Bool
}

func (f *fakeRenderer) Render(_ context.Context, url string, _ RenderOptions) (*Page, error) {
	return &Page{URL: url, FinalURL: url, PDF: []byte("%PDF-1.4")}, nil
}

func (f *fakeRenderer) Close() error {
	f.closed.Store(true)
	return nil
}

func countingFactory(created *int32) Factory {
	return func() (Renderer, error) {
		atomic.AddInt32(created, 1)
		return &fakeRenderer{}, nil
	}
}

func TestResolvePoolSize(t *testing.T) {
	assert.Equal(t, 4, ResolvePoolSize(4))
	assert.Equal(t, 12, ResolvePoolSize(12))

	want := min(max(runtime.GOMAXPROCS(0)/cpuDivisor, MinPoolSize), MaxPoolSize)
	assert.Equal(t, want, ResolvePoolSize(0))
	assert.Equal(t, want, ResolvePoolSize(-1))
}

func TestSessionPool_CreatesLazily(t *testing.T) {
	var created int32
	pool := NewSessionPool(3, countingFactory(&created))
	defer func() { _ = pool.Close() }()

	assert.Equal(t, int32(0), atomic.LoadInt32(&created))

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(s)

	s2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, s, s2)
	pool.Release(s2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
}

func TestSessionPool_BoundsConcurrency(t *testing.T) {
	var created int32
	pool := NewSessionPool(2, countingFactory(&created))
	defer func() { _ = pool.Close() }()

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(a)
	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, c)

	pool.Release(b)
	pool.Release(c)
	assert.Equal(t, int32(2), atomic.LoadInt32(&created))
}

func TestSessionPool_FactoryErrorFreesSlot(t *testing.T) {
	calls := 0
	pool := NewSessionPool(1, func() (Renderer, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("chrome not found")
		}
		return &fakeRenderer{}, nil
	})
	defer func() { _ = pool.Close() }()

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(s)
}

func TestSessionPool_ConcurrentRender(t *testing.T) {
	var created int32
	pool := NewSessionPool(3, countingFactory(&created))
	defer func() { _ = pool.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			page, err := pool.Render(context.Background(), "https://example.com", RenderOptions{})
			assert.NoError(t, err)
			assert.Equal(t, "https://example.com", page.URL)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&created), int32(3))
}

func TestSessionPool_Close(t *testing.T) {
	pool := NewSessionPool(2, func() (Renderer, error) { return &fakeRenderer{}, nil })

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	idle, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(idle)

	require.NoError(t, pool.Close())
	assert.True(t, idle.(*fakeRenderer).closed.Load())

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	// Releasing after close shuts the session down instead of panicking.
	pool.Release(s)
	assert.True(t, s.(*fakeRenderer).closed.Load())

	assert.NoError(t, pool.Close())
}

func TestSessionPool_CloseDoesNotHandOutIdleSessions(t *testing.T) {
	var created int32
	pool := NewSessionPool(1, countingFactory(&created))

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(s)
	require.NoError(t, pool.Close())

	for i := 0; i < 3; i++ {
		got, err := pool.Acquire(context.Background())
		assert.Nil(t, got)
		assert.ErrorIs(t, err, ErrPoolClosed)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&created), "no session is launched after close")
}

func TestSessionPool_CloseWakesWaiters(t *testing.T) {
	pool := NewSessionPool(1, func() (Renderer, error) { return &fakeRenderer{}, nil })
	_, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pool.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released by Close")
	}
}

func TestSessionPool_RenderAfterClose(t *testing.T) {
	pool := NewSessionPool(1, func() (Renderer, error) { return &fakeRenderer{}, nil })
	require.NoError(t, pool.Close())

	_, err := pool.Render(context.Background(), "https://example.com", RenderOptions{})
	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.ErrorIs(t, err, ErrPoolClosed)
}
