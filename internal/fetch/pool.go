package fetch

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// Pool sizing constants.
const (
	// MinPoolSize ensures at least one session is available.
	MinPoolSize = 1

	// MaxPoolSize caps browser instances to limit memory (~200MB each).
	MaxPoolSize = 8

	// cpuDivisor leaves headroom for Chrome child processes.
	cpuDivisor = 2
)

// ErrPoolClosed is returned when acquiring from a closed pool.
var ErrPoolClosed = errors.New("render session pool is closed")

// Factory creates a new render session.
type Factory func() (Renderer, error)

// SessionPool bounds the number of browser sessions in use at once.
// Sessions are created lazily on first acquire and reused after release.
type SessionPool struct {
	size     int
	factory  Factory
	sessions []Renderer
	idle     chan Renderer
	done     chan struct{}
	mu       sync.Mutex
	created  int
	closed   bool
}

// NewSessionPool creates a pool with capacity for n sessions.
func NewSessionPool(n int, factory Factory) *SessionPool {
	if n < 1 {
		n = 1
	}
	return &SessionPool{
		size:     n,
		factory:  factory,
		sessions: make([]Renderer, 0, n),
		idle:     make(chan Renderer, n),
		done:     make(chan struct{}),
	}
}

// Acquire returns an idle session, creating one while under capacity.
// It blocks until a session is released, the pool is closed or ctx is done.
func (p *SessionPool) Acquire(ctx context.Context) (Renderer, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	select {
	case s := <-p.idle:
		p.mu.Unlock()
		return s, nil
	default:
	}
	if p.created < p.size {
		p.created++
		p.mu.Unlock()

		s, err := p.factory()
		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			p.created--
			return nil, err
		}
		if p.closed {
			_ = s.Close()
			return nil, ErrPoolClosed
		}
		p.sessions = append(p.sessions, s)
		return s, nil
	}
	p.mu.Unlock()

	select {
	case s := <-p.idle:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return nil, ErrPoolClosed
		}
		return s, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool. Sessions released after Close are shut down.
func (p *SessionPool) Release(s Renderer) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = s.Close()
		return
	}
	// Never blocks: the channel holds every session the pool can create.
	p.idle <- s
}

// Render acquires a session, renders url and releases the session on every path.
func (p *SessionPool) Render(ctx context.Context, url string, opts RenderOptions) (*Page, error) {
	s, err := p.Acquire(ctx)
	if err != nil {
		return nil, newRenderError(url, StageLaunch, err)
	}
	defer p.Release(s)
	return s.Render(ctx, url, opts)
}

// Close releases all browser resources.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	// Idle sessions are closed below with the rest; none may be handed out again.
	for drained := false; !drained; {
		select {
		case <-p.idle:
		default:
			drained = true
		}
	}
	sessions := p.sessions
	p.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Size returns the pool capacity.
func (p *SessionPool) Size() int {
	return p.size
}

// ResolvePoolSize returns n when positive, otherwise half of GOMAXPROCS
// clamped to [MinPoolSize, MaxPoolSize].
func ResolvePoolSize(n int) int {
	if n > 0 {
		return n
	}

	size := runtime.GOMAXPROCS(0) / cpuDivisor
	if size < MinPoolSize {
		return MinPoolSize
	}
	if size > MaxPoolSize {
		return MaxPoolSize
	}
	return size
}
