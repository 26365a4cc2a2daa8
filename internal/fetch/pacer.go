package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HostPacer spaces out navigations to the same host.
// A nil pacer or a non-positive rate never waits.
type HostPacer struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostPacer allows rps navigations per second to each host.
func NewHostPacer(rps float64, burst int) *HostPacer {
	if burst < 1 {
		burst = 1
	}
	return &HostPacer{
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a navigation to rawURL's host is permitted or ctx is done.
func (p *HostPacer) Wait(ctx context.Context, rawURL string) error {
	if p == nil || p.rps <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	return p.limiter(strings.ToLower(u.Hostname())).Wait(ctx)
}

func (p *HostPacer) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.rps), p.burst)
		p.limiters[host] = limiter
	}
	return limiter
}
