package crawling

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// DefaultRobotsTTL is how long fetched rules are reused for a host.
const DefaultRobotsTTL = 30 * time.Minute

// RobotsPolicy filters subpages by robots.txt rules. Lookup failures allow the URL.
type RobotsPolicy struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]robotsEntry
}

type robotsEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData
}

// NewRobotsPolicy builds a policy that evaluates rules for userAgent.
func NewRobotsPolicy(client *http.Client, userAgent string, ttl time.Duration, logger *slog.Logger) *RobotsPolicy {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultRobotsTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsPolicy{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		logger:    logger,
		cache:     make(map[string]robotsEntry),
	}
}

// Allowed reports whether target may be fetched.
func (p *RobotsPolicy) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}

	rules, err := p.rules(ctx, target)
	if err != nil {
		p.logger.Debug("robots lookup failed, allowing", "url", target.String(), "error", err)
		return true
	}

	path := target.EscapedPath()
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return rules.TestAgent(path, p.agentToken())
}

// Filter keeps the links that are allowed, preserving order, and returns the rejected ones separately.
func (p *RobotsPolicy) Filter(ctx context.Context, links []string) (allowed, blocked []string) {
	allowed = make([]string, 0, len(links))
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil || !p.Allowed(ctx, u) {
			blocked = append(blocked, link)
			continue
		}
		allowed = append(allowed, link)
	}
	return allowed, blocked
}

// agentToken is the name matched against robots.txt user-agent groups.
func (p *RobotsPolicy) agentToken() string {
	ua := strings.TrimSpace(p.userAgent)
	if ua == "" {
		return "*"
	}
	return ua
}

func (p *RobotsPolicy) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	p.mu.RLock()
	entry, ok := p.cache[host]
	p.mu.RUnlock()
	if ok && time.Since(entry.fetched) < p.ttl {
		return entry.rules, nil
	}

	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, &RobotsError{Host: host, Message: "failed to build request", Cause: err}
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &RobotsError{Host: host, Message: "failed to fetch robots.txt", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, &RobotsError{Host: host, Message: fmt.Sprintf("robots.txt returned status %d", resp.StatusCode)}
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, &RobotsError{Host: host, Message: "failed to parse robots.txt", Cause: err}
	}

	p.mu.Lock()
	p.cache[host] = robotsEntry{fetched: time.Now(), rules: data}
	p.mu.Unlock()

	return data, nil
}
