package ratelimit

import (
	"net/http"
	"strings"
)

// unlimitedPaths are never counted.
var unlimitedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// MatchEndpoint returns the configuration for a request, or nil when none applies.
// A path ending in "/" covers everything below it; an exact path beats any prefix and a
// longer prefix beats a shorter one. Unlimited paths match a zero configuration.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if method == http.MethodGet && unlimitedPaths[path] {
		return &EndpointConfig{}
	}

	var best *EndpointConfig
	for i := range configs {
		ec := &configs[i]
		if ec.Method != method {
			continue
		}
		if ec.Path == path {
			return ec
		}
		if !strings.HasSuffix(ec.Path, "/") || !strings.HasPrefix(path, ec.Path) {
			continue
		}
		if best == nil || len(ec.Path) > len(best.Path) {
			best = ec
		}
	}
	return best
}
