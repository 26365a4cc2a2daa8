package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/web2pdf/internal/crawling"
	"github.com/jonathan/web2pdf/internal/db"
	"github.com/jonathan/web2pdf/internal/fetch"
	"github.com/jonathan/web2pdf/internal/ingestion"
	"github.com/jonathan/web2pdf/internal/types"
)

const (
	mergedFilename     = "merged.pdf"
	compressedFilename = "compressed.pdf"
)

// ErrMainPageUnreadable is returned when the main page rendered but its document cannot be parsed.
var ErrMainPageUnreadable = errors.New("main page document is unreadable")

// run carries the per-conversion state shared by the stages.
type run struct {
	id         uuid.UUID
	logger     *slog.Logger
	onProgress ProgressCallback

	mu     sync.Mutex
	stages []types.StageOutcome
}

func (r *run) emit(event ProgressEvent) {
	if r.onProgress == nil {
		return
	}
	event.RunID = r.id.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onProgress(event)
}

// finish records a stage outcome, logs it and reports it as progress.
func (o *Orchestrator) finish(r *run, name string, start time.Time, err error, skipped bool) {
	outcome := types.StageOutcome{Name: name, Err: err, Skipped: skipped}
	r.mu.Lock()
	r.stages = append(r.stages, outcome)
	r.mu.Unlock()

	elapsed := time.Since(start)
	o.opts.Metrics.ObserveStage(name, outcome.Status(), elapsed.Seconds())

	attrs := []any{"stage", name, "status", outcome.Status(), "latency_ms", elapsed.Milliseconds()}
	message := name + " " + outcome.Status()
	if err != nil {
		attrs = append(attrs, "error", err)
		message = fmt.Sprintf("%s failed: %v", name, err)
		r.logger.Warn("stage finished", attrs...)
	} else {
		r.logger.Info("stage finished", attrs...)
	}
	r.emit(ProgressEvent{Stage: name, Status: outcome.Status(), Message: message})
}

// Convert runs the whole pipeline for req and returns the published artifact.
func (o *Orchestrator) Convert(ctx context.Context, req types.ConversionRequest) (*types.FinalArtifact, error) {
	return o.ConvertWithProgress(ctx, req, nil)
}

// ConvertWithProgress is Convert with a callback invoked as each stage finishes.
//
// Validation, main page rendering, merging and publishing are fatal. Robots filtering,
// subpage renders, annotation, compression and history recording degrade gracefully.
func (o *Orchestrator) ConvertWithProgress(ctx context.Context, req types.ConversionRequest, onProgress ProgressCallback) (*types.FinalArtifact, error) {
	start := time.Now()
	id := uuid.New()
	r := &run{
		id:         id,
		logger:     o.opts.Logger.With("run_id", id.String(), "url", req.URL),
		onProgress: onProgress,
	}

	artifact, err := o.convert(ctx, r, req)

	outcome := "success"
	var validationErr *ingestion.ValidationError
	switch {
	case errors.As(err, &validationErr):
		outcome = "invalid"
	case err != nil:
		outcome = "failed"
	}
	o.opts.Metrics.ObserveConversion(outcome, time.Since(start).Seconds())

	if err != nil {
		r.logger.Error("conversion failed", "error", err, "outcome", outcome)
		return nil, err
	}
	artifact.Stages = r.stages
	r.logger.Info("conversion complete",
		"filename", artifact.Filename,
		"pages", artifact.PageCount,
		"bytes", artifact.FileSize,
		"subpages_rendered", artifact.SubpagesRendered,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return artifact, nil
}

func (o *Orchestrator) convert(ctx context.Context, r *run, req types.ConversionRequest) (*types.FinalArtifact, error) {
	stageStart := time.Now()
	sourceURL, settings, err := validate(req)
	o.finish(r, StageValidate, stageStart, err, false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	workDir, cleanup, err := o.store.NewWorkDir(r.id)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	renderOpts := fetch.RenderOptions{
		Print:          fetch.NewPrintOptions(settings),
		StyleOverrides: settings.StyleOverrides(),
		BlockImages:    !settings.ImagesEnabled(),
	}

	// Main page
	stageStart = time.Now()
	mainOpts := renderOpts
	mainOpts.Timeout = o.opts.MainTimeout
	mainPage, err := o.renderer.Render(ctx, sourceURL, mainOpts)
	if err == nil {
		err = writeDocument(filepath.Join(workDir, ingestion.MainPageFilename), mainPage.PDF)
	}
	o.finish(r, StageRender, stageStart, err, false)
	if err != nil {
		return nil, err
	}
	if wall := crawling.DetectBotWall(mainPage.HTML); wall.Detected {
		r.logger.Warn("page looks like a bot challenge, output may be incomplete", "signals", wall.Signals)
	}

	title := mainPage.Title
	if title == "" {
		title = crawling.PageTitle(mainPage.HTML)
	}

	inputs := []string{filepath.Join(workDir, ingestion.MainPageFilename)}
	var crawlSet, failed []string
	if settings.IncludeSubpages {
		crawlSet = o.crawl(ctx, r, mainPage, sourceURL, settings)

		stageStart = time.Now()
		paths, subFailed := o.renderSubpages(ctx, r, workDir, crawlSet, renderOpts)
		failed = subFailed
		for _, p := range paths {
			if p != "" {
				inputs = append(inputs, p)
			}
		}
		var subErr error
		if len(crawlSet) > 0 && len(failed) == len(crawlSet) {
			subErr = fmt.Errorf("all %d subpages failed to render", len(crawlSet))
		}
		o.finish(r, StageSubpages, stageStart, subErr, len(crawlSet) == 0)
	}

	// Merge. A single input is copied as is.
	stageStart = time.Now()
	mergedPath := filepath.Join(workDir, mergedFilename)
	merged, err := o.merger.Merge(ctx, inputs, mergedPath)
	if err == nil && (len(merged.Included) == 0 || merged.Included[0] != inputs[0]) {
		err = ErrMainPageUnreadable
	}
	o.finish(r, StageMerge, stageStart, err, false)
	if err != nil {
		return nil, fmt.Errorf("failed to merge documents: %w", err)
	}
	for _, skipped := range merged.Skipped {
		failed = append(failed, subpageURL(crawlSet, skipped.Path))
	}
	rendered := len(merged.Included) - 1

	displayTitle := ingestion.DisplayTitle(title, sourceURL)

	stageStart = time.Now()
	err = o.annotator.Annotate(mergedPath, types.DocumentMetadata{
		Title:   displayTitle,
		Subject: sourceURL,
	})
	o.finish(r, StageAnnotate, stageStart, err, false)

	stageStart = time.Now()
	finalPath := filepath.Join(workDir, compressedFilename)
	compressed, err := o.opts.Compressor.Compress(ctx, mergedPath, finalPath, settings.CompressionQuality)
	switch {
	case err != nil:
		finalPath = mergedPath
		compressed = nil
	case compressed.Err != nil:
		err = compressed.Err
	}
	o.finish(r, StageCompress, stageStart, err, false)

	stageStart = time.Now()
	now := o.opts.Now()
	filename := ingestion.Filename(title, sourceURL, now, r.id)
	publishedPath, err := o.store.Publish(finalPath, filename)
	var size int64
	if err == nil {
		var info os.FileInfo
		if info, err = os.Stat(publishedPath); err == nil {
			size = info.Size()
		}
	}
	o.finish(r, StagePublish, stageStart, err, false)
	if err != nil {
		return nil, err
	}
	o.opts.Metrics.ObserveOutput(size)

	publicURL := o.store.PublicURL(filename)
	artifact := &types.FinalArtifact{
		ID:                r.id,
		UserID:            req.UserID,
		SourceURL:         sourceURL,
		Filename:          filename,
		Path:              publishedPath,
		PublicURL:         publicURL,
		PreviewURL:        publicURL,
		Title:             displayTitle,
		FileSize:          size,
		CompressionLevel:  settings.CompressionQuality,
		Compressed:        compressed != nil && compressed.Applied,
		PageCount:         merged.Pages,
		SubpagesRequested: len(crawlSet),
		SubpagesRendered:  rendered,
		CreatedAt:         now.UTC(),
		FailedSubpages:    failed,
	}

	stageStart = time.Now()
	if o.opts.History == nil {
		o.finish(r, StageRecord, stageStart, nil, true)
	} else {
		err = o.opts.History.InsertConversion(ctx, db.ConversionFromArtifact(artifact, &settings))
		o.finish(r, StageRecord, stageStart, err, false)
	}

	return artifact, nil
}

// validate checks the source policy first so URL problems get a precise message.
func validate(req types.ConversionRequest) (string, types.RenderSettings, error) {
	u, err := ingestion.ValidateSourceURL(req.URL)
	if err != nil {
		return "", types.RenderSettings{}, err
	}
	if err := req.Validate(); err != nil {
		return "", types.RenderSettings{}, &ingestion.ValidationError{
			Field:   "settings",
			Message: err.Error(),
			Cause:   err,
		}
	}
	return u.String(), req.Settings.WithDefaults(), nil
}

// crawl extracts same-host links from the main page, applies the robots policy when
// requested and truncates to the budget.
func (o *Orchestrator) crawl(ctx context.Context, r *run, page *fetch.Page, sourceURL string, settings types.RenderSettings) []string {
	start := time.Now()

	base := page.FinalURL
	if base == "" {
		base = sourceURL
	}
	links, err := crawling.ExtractLinks(page.HTML, base)
	if err != nil {
		o.finish(r, StageCrawl, start, err, false)
		return nil
	}
	found := len(links)

	if settings.RespectRobots && o.opts.Robots != nil {
		var blocked []string
		links, blocked = o.opts.Robots.Filter(ctx, links)
		if len(blocked) > 0 {
			r.logger.Info("robots.txt excluded subpages", "count", len(blocked))
			o.opts.Metrics.AddSubpages("blocked", len(blocked))
		}
	}

	crawlSet := crawling.ApplyBudget(links, settings.MaxSubpages)
	r.logger.Info("subpages selected", "found", found, "selected", len(crawlSet), "budget", crawling.EffectiveBudget(settings.MaxSubpages))
	o.finish(r, StageCrawl, start, nil, false)
	return crawlSet
}

// renderSubpages renders crawlSet with bounded concurrency. A failure is recorded and
// never cancels the other renders. paths[i] is empty when crawlSet[i] failed.
func (o *Orchestrator) renderSubpages(ctx context.Context, r *run, workDir string, crawlSet []string, opts fetch.RenderOptions) (paths []string, failed []string) {
	paths = make([]string, len(crawlSet))
	errs := make([]error, len(crawlSet))
	if len(crawlSet) == 0 {
		return paths, nil
	}

	opts.Timeout = o.opts.SubpageTimeout

	var g errgroup.Group
	g.SetLimit(o.opts.SubpageConcurrency)
	var done int
	var doneMu sync.Mutex

	for i, link := range crawlSet {
		g.Go(func() error {
			path, err := o.renderSubpage(ctx, workDir, i, link, opts)
			if err != nil {
				errs[i] = err
				r.logger.Warn("subpage render failed", "subpage", link, "index", i, "error", err)
			} else {
				paths[i] = path
			}

			doneMu.Lock()
			done++
			n := done
			doneMu.Unlock()
			status := "ok"
			if err != nil {
				status = "failed"
			}
			r.emit(ProgressEvent{
				Stage:   StageSubpages,
				Status:  status,
				Message: fmt.Sprintf("subpage %d/%d: %s", n, len(crawlSet), link),
			})
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			failed = append(failed, crawlSet[i])
		}
	}
	o.opts.Metrics.AddSubpages("rendered", len(crawlSet)-len(failed))
	o.opts.Metrics.AddSubpages("failed", len(failed))
	return paths, failed
}

func (o *Orchestrator) renderSubpage(ctx context.Context, workDir string, i int, link string, opts fetch.RenderOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := o.opts.Pacer.Wait(ctx, link); err != nil {
		return "", err
	}
	page, err := o.renderer.Render(ctx, link, opts)
	if err != nil {
		return "", err
	}
	path := filepath.Join(workDir, ingestion.SubpageFilename(i, link))
	if err := writeDocument(path, page.PDF); err != nil {
		return "", err
	}
	return path, nil
}

func writeDocument(path string, data []byte) error {
	if len(data) == 0 {
		return errors.New("renderer returned an empty document")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write intermediate document: %w", err)
	}
	return nil
}

// subpageURL maps an intermediate document back to the subpage it was rendered from.
func subpageURL(crawlSet []string, path string) string {
	base := filepath.Base(path)
	for i, link := range crawlSet {
		if ingestion.SubpageFilename(i, link) == base {
			return link
		}
	}
	return path
}
