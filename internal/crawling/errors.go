package crawling

import "fmt"

// LinkExtractionError represents a failure in extracting links from HTML
type LinkExtractionError struct {
	Message string
	Cause   error
}

func (e *LinkExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("link extraction error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("link extraction error: %s", e.Message)
}

func (e *LinkExtractionError) Unwrap() error {
	return e.Cause
}

// RobotsError represents a failure fetching or parsing robots.txt for a host
type RobotsError struct {
	Host    string
	Message string
	Cause   error
}

func (e *RobotsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("robots error for %s: %s: %v", e.Host, e.Message, e.Cause)
	}
	return fmt.Sprintf("robots error for %s: %s", e.Host, e.Message)
}

func (e *RobotsError) Unwrap() error {
	return e.Cause
}
