package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodRenderer renders pages with go-rod. Rod downloads Chromium on first run if none is found.
type RodRenderer struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodRenderer creates a go-rod renderer. The browser is launched lazily.
func NewRodRenderer(cfg Config) *RodRenderer {
	return &RodRenderer{cfg: cfg, logger: cfg.logger()}
}

func (r *RodRenderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().Headless(true)

	bin := r.cfg.ExecPath
	if bin == "" {
		bin = os.Getenv("ROD_BROWSER_BIN")
	}
	if bin != "" {
		l = l.Bin(bin)
	}
	if r.cfg.NoSandbox || os.Getenv("CI") == "true" {
		l = l.NoSandbox(true)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	r.browser = browser
	return browser, nil
}

// Render opens a new page, navigates to url and prints it.
func (r *RodRenderer) Render(ctx context.Context, url string, opts RenderOptions) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, newRenderError(url, StageNavigate, err)
	}

	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, newRenderError(url, StageLaunch, err)
	}

	pageCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	logger := r.logger.With("url", url, "engine", EngineRod, "timeout", opts.timeout().String())
	logger.Debug("starting render")
	start := time.Now()

	p, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, newRenderError(url, StageLaunch, err)
	}
	defer func() { _ = p.Close() }()
	p = p.Context(pageCtx)

	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.cfg.userAgent()}); err != nil {
		return nil, newRenderError(url, StageNavigate, err)
	}

	if opts.BlockImages {
		router := p.HijackRequests()
		if err := router.Add("*", proto.NetworkResourceTypeImage, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		}); err != nil {
			return nil, newRenderError(url, StageNavigate, err)
		}
		go router.Run()
		defer func() { _ = router.Stop() }()
	}

	if err := p.Navigate(url); err != nil {
		return nil, newRenderError(url, StageNavigate, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, newRenderError(url, StageNavigate, err)
	}
	if err := p.WaitIdle(settleDelay); err != nil {
		logger.Debug("page did not go idle", "error", err)
	}

	if opts.StyleOverrides != "" {
		if _, err := p.Eval(injectStyleFunc, opts.StyleOverrides); err != nil {
			logger.Warn("failed to inject style overrides", "error", err)
		}
	}

	result := &Page{URL: url}
	if info, err := p.Info(); err == nil {
		result.Title = info.Title
		result.FinalURL = info.URL
	}
	html, err := p.HTML()
	if err != nil {
		return nil, newRenderError(url, StageNavigate, err)
	}
	result.HTML = html

	reader, err := p.PDF(rodPrintParams(opts.Print))
	if err != nil {
		return nil, newRenderError(url, StagePrint, err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, newRenderError(url, StagePrint, fmt.Errorf("reading PDF stream: %w", err))
	}
	result.PDF = data

	logger.Debug("render complete",
		"final_url", result.FinalURL,
		"pdf_bytes", len(result.PDF),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Close releases browser resources.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

func rodPrintParams(p PrintOptions) *proto.PagePrintToPDF {
	return &proto.PagePrintToPDF{
		Landscape:       p.Landscape,
		PrintBackground: p.PrintBackground,
		Scale:           floatPtr(p.Scale),
		PaperWidth:      floatPtr(p.PaperWidth),
		PaperHeight:     floatPtr(p.PaperHeight),
		MarginTop:       floatPtr(p.MarginTop),
		MarginBottom:    floatPtr(p.MarginBottom),
		MarginLeft:      floatPtr(p.MarginLeft),
		MarginRight:     floatPtr(p.MarginRight),
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
