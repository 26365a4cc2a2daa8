// Package ingestion accepts source URLs for conversion and derives the names of produced artifacts.
package ingestion

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned (wrapped in a ValidationError) when a source URL is rejected.
var ErrInvalidURL = errors.New("invalid URL")

// ValidationError describes why a request field was rejected.
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

var (
	domainLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	topLevel    = regexp.MustCompile(`^([a-z]{2,63}|xn--[a-z0-9-]{1,59})$`)
)

// ValidateSourceURL parses rawURL and enforces the source policy: http or https only,
// no local or loopback hosts, and a well-formed domain name or public IP address.
func ValidateSourceURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, invalid("URL is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ValidationError{Field: "url", Message: "URL is malformed", Cause: errors.Join(ErrInvalidURL, err)}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, invalid("protocol must be http or https")
	}
	if u.User != nil {
		return nil, invalid("credentials in URL are not allowed")
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return nil, invalid("URL must include a host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, invalid("local addresses are not allowed")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isLocalIP(ip) {
			return nil, invalid("local addresses are not allowed")
		}
		return u, nil
	}

	if !isWellFormedDomain(host) {
		return nil, invalid(fmt.Sprintf("malformed domain %q", host))
	}
	return u, nil
}

func invalid(message string) error {
	return &ValidationError{Field: "url", Message: message, Cause: ErrInvalidURL}
}

func isLocalIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsUnspecified() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast()
}

func isWellFormedDomain(host string) bool {
	if len(host) > 253 {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !domainLabel.MatchString(label) {
			return false
		}
	}
	return topLevel.MatchString(labels[len(labels)-1])
}
