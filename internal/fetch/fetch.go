// Package fetch renders webpages to PDF in a headless browser.
// Two engines are available: chromedp (default) and go-rod.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Navigation timeouts applied inside Render, independent of the caller's deadline.
const (
	MainPageTimeout = 60 * time.Second
	SubpageTimeout  = 30 * time.Second
)

// DefaultUserAgent is a realistic desktop browser identity.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"

// settleDelay gives late scripts a moment after document.readyState reaches complete.
const settleDelay = 500 * time.Millisecond

// Engine names accepted by NewRenderer.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// Stage identifies where a render failed.
type Stage string

// Render stages.
const (
	StageLaunch   Stage = "launch"
	StageNavigate Stage = "navigate"
	StagePrint    Stage = "print"
)

// RenderError represents a failure to load or print a page.
type RenderError struct {
	URL     string
	Stage   Stage
	Timeout bool
	Cause   error
}

func (e *RenderError) Error() string {
	msg := fmt.Sprintf("render error for %s at %s", e.URL, e.Stage)
	if e.Timeout {
		msg += " (timeout)"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

func newRenderError(url string, stage Stage, err error) *RenderError {
	return &RenderError{
		URL:     url,
		Stage:   stage,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Cause:   err,
	}
}

// RenderOptions configures a single render.
type RenderOptions struct {
	Timeout        time.Duration
	Print          PrintOptions
	StyleOverrides string
	BlockImages    bool
}

func (o RenderOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return SubpageTimeout
	}
	return o.Timeout
}

// Page is the outcome of a successful render.
type Page struct {
	URL      string
	FinalURL string
	Title    string
	HTML     string
	PDF      []byte
}

// Renderer loads a URL in a browser tab and prints it.
// Each call uses its own tab, so a failed render never affects another.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (*Page, error)
	Close() error
}

// Config holds browser settings shared by both engines.
type Config struct {
	ExecPath  string
	UserAgent string
	NoSandbox bool
	Logger    *slog.Logger
}

func (c Config) userAgent() string {
	if ua := strings.TrimSpace(c.UserAgent); ua != "" {
		return ua
	}
	return DefaultUserAgent
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// NewRenderer builds a renderer for the named engine. An empty name selects chromedp.
func NewRenderer(engine string, cfg Config) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineChromedp:
		return NewChromeRenderer(cfg), nil
	case EngineRod:
		return NewRodRenderer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown renderer engine %q", engine)
	}
}

// injectStyleFunc appends its css argument to the document head as a style element.
const injectStyleFunc = `(css) => {
	const style = document.createElement('style');
	style.setAttribute('data-web2pdf', '');
	style.textContent = css;
	(document.head || document.documentElement).appendChild(style);
	return true;
}`

// injectStyleExpression applies injectStyleFunc to css as a self-contained expression.
func injectStyleExpression(css string) (string, error) {
	arg, err := json.Marshal(css)
	if err != nil {
		return "", fmt.Errorf("failed to encode style overrides: %w", err)
	}
	return "(" + injectStyleFunc + ")(" + string(arg) + ")", nil
}
