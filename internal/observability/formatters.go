package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/web2pdf/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer writes human-readable conversion summaries for the CLI.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintArtifact outputs the published document and its properties.
func (p *Printer) PrintArtifact(a *types.FinalArtifact) {
	if a == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title:    %s\n", a.Title))
	sb.WriteString(fmt.Sprintf("Source:   %s\n", a.SourceURL))
	sb.WriteString(fmt.Sprintf("File:     %s\n", a.Filename))
	sb.WriteString(fmt.Sprintf("Size:     %s\n", humanBytes(a.FileSize)))
	sb.WriteString(fmt.Sprintf("Pages:    %d\n", a.PageCount))

	compression := string(a.CompressionLevel)
	if !a.Compressed {
		compression += " (not applied)"
	}
	sb.WriteString(fmt.Sprintf("Quality:  %s\n", compression))

	if a.SubpagesRequested > 0 {
		sb.WriteString(fmt.Sprintf("Subpages: %d of %d rendered\n", a.SubpagesRendered, a.SubpagesRequested))
	}

	if len(a.FailedSubpages) > 0 {
		sb.WriteString("\nFailed subpages:\n")
		count := min(len(a.FailedSubpages), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", a.FailedSubpages[i]))
		}
		if len(a.FailedSubpages) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(a.FailedSubpages)-maxItemsToShow))
		}
	}

	p.printBox("CONVERSION COMPLETE", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintStages outputs the status of each pipeline stage.
func (p *Printer) PrintStages(stages []types.StageOutcome) {
	if len(stages) == 0 {
		return
	}

	var sb strings.Builder
	for _, stage := range stages {
		marker := "✓"
		switch stage.Status() {
		case "skipped":
			marker = "-"
		case "failed":
			marker = "⚠"
		}
		sb.WriteString(fmt.Sprintf("%s %-10s %s\n", marker, stage.Name, stage.Status()))
		if stage.Err != nil {
			sb.WriteString(fmt.Sprintf("  %s\n", stage.Err.Error()))
		}
	}

	p.printBox("PIPELINE STAGES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintSweep outputs the result of a retention sweep.
func (p *Printer) PrintSweep(artifacts, workDirs int) {
	p.printBox("RETENTION SWEEP", fmt.Sprintf("Documents removed:  %d\nWork dirs removed:  %d", artifacts, workDirs))
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
