package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cdpfetch "github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromeRenderer renders pages with chromedp. The browser process starts on first use
// and every render opens its own tab.
type ChromeRenderer struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeRenderer creates a chromedp renderer. Chrome must be installed on the system.
func NewChromeRenderer(cfg Config) *ChromeRenderer {
	return &ChromeRenderer{cfg: cfg, logger: cfg.logger()}
}

func (r *ChromeRenderer) ensureBrowser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil {
		return r.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(r.cfg.userAgent()),
	)
	if r.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Running an empty action list starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}

	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	return browserCtx, nil
}

// Render navigates a fresh tab to url, waits for the document to settle and prints it.
func (r *ChromeRenderer) Render(ctx context.Context, url string, opts RenderOptions) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, newRenderError(url, StageNavigate, err)
	}

	browserCtx, err := r.ensureBrowser()
	if err != nil {
		return nil, newRenderError(url, StageLaunch, err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, opts.timeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	logger := r.logger.With("url", url, "engine", EngineChromedp, "timeout", opts.timeout().String())
	logger.Debug("starting render")
	start := time.Now()

	navigate := []chromedp.Action{network.Enable()}
	if opts.BlockImages {
		navigate = append(navigate, blockImages(tabCtx))
	}
	navigate = append(navigate,
		chromedp.Navigate(url),
		waitForDocumentReady(logger),
		chromedp.Sleep(settleDelay),
	)
	if err := chromedp.Run(tabCtx, navigate...); err != nil {
		return nil, newRenderError(url, StageNavigate, r.cause(ctx, err))
	}

	if opts.StyleOverrides != "" {
		expr, err := injectStyleExpression(opts.StyleOverrides)
		if err != nil {
			return nil, newRenderError(url, StageNavigate, err)
		}
		var ok bool
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(expr, &ok)); err != nil {
			logger.Warn("failed to inject style overrides", "error", err)
		}
	}

	result := &Page{URL: url}
	if err := chromedp.Run(tabCtx,
		chromedp.Title(&result.Title),
		chromedp.Location(&result.FinalURL),
		chromedp.OuterHTML("html", &result.HTML, chromedp.ByQuery),
	); err != nil {
		return nil, newRenderError(url, StageNavigate, r.cause(ctx, err))
	}

	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := printParams(opts.Print).Do(ctx)
		if err != nil {
			return err
		}
		result.PDF = data
		return nil
	})); err != nil {
		return nil, newRenderError(url, StagePrint, r.cause(ctx, err))
	}

	logger.Debug("render complete",
		"final_url", result.FinalURL,
		"pdf_bytes", len(result.PDF),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// cause prefers the caller's cancellation over the tab's own error.
func (r *ChromeRenderer) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close shuts down the browser process.
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(r.browserCtx)
	r.browserCancel()
	r.allocCancel()
	r.browserCtx = nil
	return err
}

func printParams(p PrintOptions) *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithPrintBackground(p.PrintBackground).
		WithLandscape(p.Landscape).
		WithPaperWidth(p.PaperWidth).
		WithPaperHeight(p.PaperHeight).
		WithMarginTop(p.MarginTop).
		WithMarginBottom(p.MarginBottom).
		WithMarginLeft(p.MarginLeft).
		WithMarginRight(p.MarginRight).
		WithScale(p.Scale)
}

// blockImages fails every image request of the tab before it leaves the browser.
func blockImages(tabCtx context.Context) chromedp.Action {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		paused, ok := ev.(*cdpfetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			_ = chromedp.Run(tabCtx, cdpfetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient))
		}()
	})
	return cdpfetch.Enable().WithPatterns([]*cdpfetch.RequestPattern{{
		ResourceType: network.ResourceTypeImage,
		RequestStage: cdpfetch.RequestStageRequest,
	}})
}

func waitForDocumentReady(logger *slog.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return fmt.Errorf("failed to read document state: %w", err)
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				logger.Warn("document never became ready", "error", ctx.Err())
				return ctx.Err()
			}
		}
	})
}
