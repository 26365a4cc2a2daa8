// Package pipeline orchestrates a conversion: render the main page, optionally crawl and
// render its subpages, merge, annotate, compress and publish the result.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonathan/web2pdf/internal/compress"
	"github.com/jonathan/web2pdf/internal/db"
	"github.com/jonathan/web2pdf/internal/fetch"
	"github.com/jonathan/web2pdf/internal/observability"
	"github.com/jonathan/web2pdf/internal/pdfdoc"
	"github.com/jonathan/web2pdf/internal/storage"
	"github.com/jonathan/web2pdf/internal/types"
)

// Stage names, in execution order.
const (
	StageValidate = "validate"
	StageRender   = "render"
	StageCrawl    = "crawl"
	StageSubpages = "subpages"
	StageMerge    = "merge"
	StageAnnotate = "annotate"
	StageCompress = "compress"
	StagePublish  = "publish"
	StageRecord   = "record"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultRequestTimeout     = 5 * time.Minute
	DefaultSubpageConcurrency = 3
)

// ProgressEvent represents a progress update during a conversion
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
	Content any    `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs. Calls are serialized.
type ProgressCallback func(event ProgressEvent)

// Renderer renders one URL. *fetch.SessionPool and every fetch.Renderer satisfy it.
type Renderer interface {
	Render(ctx context.Context, url string, opts fetch.RenderOptions) (*fetch.Page, error)
}

// Compressor shrinks a finished document. *compress.Compressor satisfies it.
type Compressor interface {
	Compress(ctx context.Context, in, out string, quality types.CompressionQuality) (*compress.Result, error)
}

// RobotsFilter splits links into those robots.txt allows and those it blocks.
type RobotsFilter interface {
	Filter(ctx context.Context, links []string) (allowed, blocked []string)
}

// HistoryStore records finished conversions. *db.DB satisfies it.
type HistoryStore interface {
	InsertConversion(ctx context.Context, c *db.Conversion) error
}

// Options tune an Orchestrator. Only Store is required besides the renderer.
type Options struct {
	RequestTimeout     time.Duration
	MainTimeout        time.Duration
	SubpageTimeout     time.Duration
	SubpageConcurrency int

	Compressor Compressor
	Robots     RobotsFilter
	Pacer      *fetch.HostPacer
	History    HistoryStore
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// Orchestrator runs conversions. It is safe for concurrent use; runs share nothing but
// the renderer and the output directory.
type Orchestrator struct {
	renderer  Renderer
	store     *storage.Store
	merger    *pdfdoc.Merger
	annotator *pdfdoc.Annotator
	opts      Options
}

// New creates an Orchestrator.
func New(renderer Renderer, store *storage.Store, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MainTimeout <= 0 {
		opts.MainTimeout = fetch.MainPageTimeout
	}
	if opts.SubpageTimeout <= 0 {
		opts.SubpageTimeout = fetch.SubpageTimeout
	}
	if opts.SubpageConcurrency < 1 {
		opts.SubpageConcurrency = DefaultSubpageConcurrency
	}
	if opts.Compressor == nil {
		opts.Compressor = compress.NewCompressor("", 0, opts.Logger)
	}

	return &Orchestrator{
		renderer:  renderer,
		store:     store,
		merger:    pdfdoc.NewMerger(opts.Logger),
		annotator: pdfdoc.NewAnnotator(),
		opts:      opts,
	}
}
