package pdfdoc

import (
	"context"
	"log/slog"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// SkippedInput records an input left out of the merged document.
type SkippedInput struct {
	Path string
	Err  error
}

// MergeResult summarizes a merge.
type MergeResult struct {
	Pages    int
	Included []string
	Skipped  []SkippedInput
}

// Merger concatenates documents, dropping any input that cannot be parsed or appended.
type Merger struct {
	logger *slog.Logger
}

// NewMerger creates a Merger.
func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{logger: logger}
}

// Merge writes the concatenation of inputs, in order, to out. Unusable inputs are skipped
// and reported in the result. ErrNoUsablePages is returned when nothing could be merged.
func (m *Merger) Merge(ctx context.Context, inputs []string, out string) (*MergeResult, error) {
	result := &MergeResult{}
	tmp := out + ".merge.tmp"
	defer func() { _ = os.Remove(tmp) }()

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := Inspect(in)
		if err != nil {
			m.skip(result, in, err)
			continue
		}

		if len(result.Included) == 0 {
			if err := copyFile(in, out); err != nil {
				m.skip(result, in, err)
				continue
			}
		} else {
			if err := api.MergeCreateFile([]string{out, in}, tmp, false, configuration()); err != nil {
				m.skip(result, in, err)
				continue
			}
			if err := os.Rename(tmp, out); err != nil {
				m.skip(result, in, err)
				continue
			}
		}

		result.Included = append(result.Included, in)
		result.Pages += info.Pages
	}

	if len(result.Included) == 0 {
		_ = os.Remove(out)
		return result, ErrNoUsablePages
	}

	m.logger.Debug("merged documents",
		"output", out,
		"included", len(result.Included),
		"skipped", len(result.Skipped),
		"pages", result.Pages,
	)
	return result, nil
}

func (m *Merger) skip(result *MergeResult, path string, err error) {
	m.logger.Warn("skipping merge input", "path", path, "error", err)
	result.Skipped = append(result.Skipped, SkippedInput{Path: path, Err: err})
}
