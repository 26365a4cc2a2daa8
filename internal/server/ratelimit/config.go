package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		Whitelist:       make(map[string]bool),
		Blacklist:       make(map[string]bool),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// LoadConfig builds the configuration from RATE_LIMIT_* variables read through getenv.
func LoadConfig(getenv func(string) string) *Config {
	if !envBool(getenv, "RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}

	cfg := DefaultConfig()
	cfg.DefaultLimit = envInt(getenv, "RATE_LIMIT_DEFAULT_LIMIT", cfg.DefaultLimit)
	cfg.DefaultWindow = envDuration(getenv, "RATE_LIMIT_DEFAULT_WINDOW", cfg.DefaultWindow)
	cfg.CleanupInterval = envDuration(getenv, "RATE_LIMIT_CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.Whitelist = parseIPList(getenv("RATE_LIMIT_WHITELIST"))
	cfg.Blacklist = parseIPList(getenv("RATE_LIMIT_BLACKLIST"))

	// Conversions launch a browser; their limit is tunable separately.
	convertLimit := envInt(getenv, "RATE_LIMIT_CONVERT_LIMIT", 0)
	convertWindow := envDuration(getenv, "RATE_LIMIT_CONVERT_WINDOW", 0)
	for i := range cfg.EndpointConfigs {
		ec := &cfg.EndpointConfigs[i]
		if !isConvertPath(ec.Path) {
			continue
		}
		if convertLimit > 0 {
			ec.Limit = convertLimit
			ec.Burst = min(ec.Burst, convertLimit)
		}
		if convertWindow > 0 {
			ec.Window = convertWindow
		}
	}
	return cfg
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Conversions render pages in a browser
		{Path: "/convert", Method: http.MethodPost, Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/api/convert", Method: http.MethodPost, Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/api/convert/stream", Method: http.MethodPost, Limit: 30, Window: time.Hour, Burst: 5},

		// Rewrites of existing documents and history changes
		{Path: "/update-metadata", Method: http.MethodPost, Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/api/history/", Method: http.MethodDelete, Limit: 60, Window: time.Minute, Burst: 10},

		// Reads use the default limit; /health and /metrics are unlimited
	}
}

func isConvertPath(path string) bool {
	return path == "/convert" || strings.HasPrefix(path, "/api/convert")
}

func envInt(getenv func(string) string, key string, defaultValue int) int {
	if value := getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func envBool(getenv func(string) string, key string, defaultValue bool) bool {
	if value := getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func envDuration(getenv func(string) string, key string, defaultValue time.Duration) time.Duration {
	if value := getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseIPList parses a comma-separated list of IP addresses into a map.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}

// policy resolves the limit that applies to a request. When the request is decided without
// counting (disabled, listed, unlimited) it returns nil and the final Info.
func (c *Config) policy(clientID, endpoint, method string) (*EndpointConfig, *Info) {
	switch {
	case !c.Enabled, c.Whitelist[clientID]:
		return nil, &Info{Allowed: true}
	case c.Blacklist[clientID]:
		return nil, &Info{Allowed: false}
	}

	ec := MatchEndpoint(endpoint, method, c.EndpointConfigs)
	if ec == nil {
		ec = &EndpointConfig{
			Limit:  c.DefaultLimit,
			Window: c.DefaultWindow,
			Burst:  c.DefaultLimit,
		}
	}
	if ec.Limit <= 0 || ec.Window <= 0 {
		return nil, &Info{Allowed: true}
	}
	return ec, nil
}
