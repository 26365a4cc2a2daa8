// Package types provides type definitions for conversion requests, render settings and produced artifacts.
package types

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Crawl budget bounds.
const (
	DefaultMaxSubpages = 10
	MaxSubpagesLimit   = 30
)

// PaperSize is a named print format.
type PaperSize string

// Supported paper sizes.
const (
	PaperA4     PaperSize = "A4"
	PaperA5     PaperSize = "A5"
	PaperLetter PaperSize = "Letter"
	PaperLegal  PaperSize = "Legal"
)

// Orientation of the printed page.
type Orientation string

// Supported orientations.
const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// MarginPreset names one of the fixed margin widths.
type MarginPreset string

// Supported margin presets.
const (
	MarginsNone   MarginPreset = "none"
	MarginsSmall  MarginPreset = "small"
	MarginsNormal MarginPreset = "normal"
	MarginsLarge  MarginPreset = "large"
)

// Millimeters returns the margin width applied on every side.
func (m MarginPreset) Millimeters() float64 {
	switch m {
	case MarginsNone:
		return 0
	case MarginsSmall:
		return 10
	case MarginsLarge:
		return 30
	default:
		return 20
	}
}

// CompressionQuality is one of four ordinal size/fidelity tiers.
type CompressionQuality string

// Compression tiers from smallest output to highest fidelity.
const (
	QualityScreen   CompressionQuality = "screen"
	QualityEbook    CompressionQuality = "ebook"
	QualityPrinter  CompressionQuality = "printer"
	QualityPrepress CompressionQuality = "prepress"
)

// PageBreakRule adds or prevents a page break around elements matching Selector.
type PageBreakRule struct {
	Selector string `json:"selector" yaml:"selector" validate:"required"`
	Action   string `json:"action" yaml:"action" validate:"required,oneof=add prevent"`
	Position string `json:"position,omitempty" yaml:"position,omitempty" validate:"omitempty,oneof=before after"`
}

// CSS renders the rule as a print stylesheet declaration.
func (r PageBreakRule) CSS() string {
	if r.Action == "prevent" {
		return r.Selector + " { page-break-inside: avoid; }"
	}
	position := r.Position
	if position == "" {
		position = "after"
	}
	return r.Selector + " { page-break-" + position + ": always; }"
}

// RenderSettings controls how each page is printed and how the crawl is bounded.
type RenderSettings struct {
	PaperSize          PaperSize          `json:"paperSize,omitempty" yaml:"paper_size" validate:"omitempty,oneof=A4 A5 Letter Legal"`
	Orientation        Orientation        `json:"orientation,omitempty" yaml:"orientation" validate:"omitempty,oneof=portrait landscape"`
	Margins            MarginPreset       `json:"margins,omitempty" yaml:"margins" validate:"omitempty,oneof=none small normal large"`
	FontSizePercent    int                `json:"fontSizePercent,omitempty" yaml:"font_size_percent" validate:"omitempty,min=50,max=200"`
	IncludeSubpages    bool               `json:"includeSubpages" yaml:"include_subpages"`
	MaxSubpages        int                `json:"maxSubpages,omitempty" yaml:"max_subpages" validate:"omitempty,min=1,max=30"`
	CompressionQuality CompressionQuality `json:"compressionQuality,omitempty" yaml:"compression_quality" validate:"omitempty,oneof=screen ebook printer prepress"`
	IncludeImages      *bool              `json:"includeImages,omitempty" yaml:"include_images"`
	CustomCSS          string             `json:"customCss,omitempty" yaml:"custom_css" validate:"max=20000"`
	PageBreaks         []PageBreakRule    `json:"pageBreaks,omitempty" yaml:"page_breaks" validate:"max=50,dive"`
	RespectRobots      bool               `json:"respectRobots,omitempty" yaml:"respect_robots"`
}

// DefaultRenderSettings returns the settings applied when a request leaves fields empty.
func DefaultRenderSettings() RenderSettings {
	return RenderSettings{
		PaperSize:          PaperA4,
		Orientation:        Portrait,
		Margins:            MarginsNormal,
		FontSizePercent:    100,
		MaxSubpages:        DefaultMaxSubpages,
		CompressionQuality: QualityEbook,
	}
}

// WithDefaults fills every empty field from DefaultRenderSettings.
func (s RenderSettings) WithDefaults() RenderSettings {
	d := DefaultRenderSettings()
	if s.PaperSize == "" {
		s.PaperSize = d.PaperSize
	}
	if s.Orientation == "" {
		s.Orientation = d.Orientation
	}
	if s.Margins == "" {
		s.Margins = d.Margins
	}
	if s.FontSizePercent == 0 {
		s.FontSizePercent = d.FontSizePercent
	}
	if s.MaxSubpages == 0 {
		s.MaxSubpages = d.MaxSubpages
	}
	if s.CompressionQuality == "" {
		s.CompressionQuality = d.CompressionQuality
	}
	return s
}

// ImagesEnabled reports whether images should be loaded while rendering.
func (s RenderSettings) ImagesEnabled() bool {
	return s.IncludeImages == nil || *s.IncludeImages
}

// Scale converts the font size percentage into a print scale factor.
func (s RenderSettings) Scale() float64 {
	if s.FontSizePercent <= 0 {
		return 1
	}
	return float64(s.FontSizePercent) / 100
}

// StyleOverrides joins custom CSS and compiled page-break rules.
func (s RenderSettings) StyleOverrides() string {
	parts := make([]string, 0, len(s.PageBreaks)+1)
	if css := strings.TrimSpace(s.CustomCSS); css != "" {
		parts = append(parts, css)
	}
	for _, rule := range s.PageBreaks {
		parts = append(parts, rule.CSS())
	}
	return strings.Join(parts, "\n")
}

// ConversionRequest is an accepted request to convert a URL. It is not mutated after validation.
type ConversionRequest struct {
	URL      string         `json:"url" validate:"required,url"`
	Settings RenderSettings `json:"settings"`
	UserID   uuid.UUID      `json:"-"`
}

// Validate validates the request structure. Host and scheme policy is enforced separately.
func (r *ConversionRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// DocumentMetadata holds the descriptive fields written into a finished document.
type DocumentMetadata struct {
	Title    string   `json:"title,omitempty" validate:"max=500"`
	Author   string   `json:"author,omitempty" validate:"max=500"`
	Subject  string   `json:"subject,omitempty" validate:"max=1000"`
	Keywords []string `json:"keywords,omitempty" validate:"max=100,dive,max=200"`
}

// IsEmpty reports whether no field is set.
func (m DocumentMetadata) IsEmpty() bool {
	return m.Title == "" && m.Author == "" && m.Subject == "" && len(m.Keywords) == 0
}

// UpdateMetadataRequest re-annotates an existing artifact.
type UpdateMetadataRequest struct {
	PDFID    string           `json:"pdfId" validate:"required"`
	Metadata DocumentMetadata `json:"metadata"`
}

// Validate validates the UpdateMetadataRequest using the validator.
func (r *UpdateMetadataRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// FinalArtifact is the only artifact that outlives a conversion run.
type FinalArtifact struct {
	ID                uuid.UUID          `json:"id"`
	UserID            uuid.UUID          `json:"userId"`
	SourceURL         string             `json:"sourceUrl"`
	Filename          string             `json:"filename"`
	Path              string             `json:"-"`
	PublicURL         string             `json:"pdfUrl"`
	PreviewURL        string             `json:"previewUrl"`
	Title             string             `json:"title"`
	FileSize          int64              `json:"fileSize"`
	CompressionLevel  CompressionQuality `json:"compressionLevel"`
	Compressed        bool               `json:"compressed"`
	PageCount         int                `json:"pageCount"`
	SubpagesRequested int                `json:"subpagesRequested"`
	SubpagesRendered  int                `json:"subpagesRendered"`
	CreatedAt         time.Time          `json:"createdAt"`
	FailedSubpages    []string           `json:"failedSubpages,omitempty"`
	Stages            []StageOutcome     `json:"-"`
}

// StageOutcome records how one pipeline stage finished.
type StageOutcome struct {
	Name    string
	Err     error
	Skipped bool
}

// Status is "ok", "skipped" or "failed".
func (o StageOutcome) Status() string {
	switch {
	case o.Err != nil:
		return "failed"
	case o.Skipped:
		return "skipped"
	default:
		return "ok"
	}
}
