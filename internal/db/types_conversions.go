package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/web2pdf/internal/types"
)

// DefaultHistoryLimit caps history listings when no limit is given
const DefaultHistoryLimit = 50

// Conversion represents a row of the conversions table
type Conversion struct {
	ID                uuid.UUID             `json:"id"`
	UserID            uuid.UUID             `json:"userId"`
	SourceURL         string                `json:"sourceUrl"`
	Filename          string                `json:"filename"`
	Title             string                `json:"title"`
	FileSize          int64                 `json:"fileSize"`
	PageCount         int                   `json:"pageCount"`
	CompressionLevel  string                `json:"compressionLevel"`
	Compressed        bool                  `json:"compressed"`
	SubpagesRequested int                   `json:"subpagesRequested"`
	SubpagesRendered  int                   `json:"subpagesRendered"`
	Settings          *types.RenderSettings `json:"settings,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

// ConversionFromArtifact builds the history row for a finished artifact
func ConversionFromArtifact(a *types.FinalArtifact, settings *types.RenderSettings) *Conversion {
	return &Conversion{
		ID:                a.ID,
		UserID:            a.UserID,
		SourceURL:         a.SourceURL,
		Filename:          a.Filename,
		Title:             a.Title,
		FileSize:          a.FileSize,
		PageCount:         a.PageCount,
		CompressionLevel:  string(a.CompressionLevel),
		Compressed:        a.Compressed,
		SubpagesRequested: a.SubpagesRequested,
		SubpagesRendered:  a.SubpagesRendered,
		Settings:          settings,
		CreatedAt:         a.CreatedAt,
	}
}
