// Package compress shrinks finished documents with Ghostscript. When Ghostscript is missing or
// fails, the input is copied unchanged so a conversion never fails because of compression.
package compress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jonathan/web2pdf/internal/types"
)

// DefaultTimeout bounds a single Ghostscript run.
const DefaultTimeout = 2 * time.Minute

// DefaultBinary is the Ghostscript executable looked up on PATH.
const DefaultBinary = "gs"

// ToolError represents a failed Ghostscript invocation.
type ToolError struct {
	Tool    string
	Message string
	Output  string
	Cause   error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Tool, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += " (" + out + ")"
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// Result describes what the compression stage produced.
type Result struct {
	Applied    bool
	Quality    types.CompressionQuality
	InputSize  int64
	OutputSize int64
	// Err is the reason compression was not applied. The output is then a copy of the input.
	Err error
}

// Compressor runs Ghostscript's pdfwrite device.
type Compressor struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCompressor creates a Compressor. Empty or zero arguments select the defaults.
func NewCompressor(binary string, timeout time.Duration, logger *slog.Logger) *Compressor {
	if binary == "" {
		binary = DefaultBinary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{binary: binary, timeout: timeout, logger: logger}
}

// Available reports whether the Ghostscript binary can be found.
func (c *Compressor) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

// Compress writes a compressed copy of in to out. On any tool failure out receives a
// byte-identical copy of in and Result.Err holds the reason. An error is returned only
// when that copy cannot be made.
func (c *Compressor) Compress(ctx context.Context, in, out string, quality types.CompressionQuality) (*Result, error) {
	stat, err := os.Stat(in)
	if err != nil {
		return nil, fmt.Errorf("failed to stat compression input: %w", err)
	}
	result := &Result{Quality: Normalize(quality), InputSize: stat.Size()}

	toolErr := c.run(ctx, in, out, result.Quality)
	if toolErr == nil {
		if info, err := os.Stat(out); err == nil && info.Size() > 0 {
			result.Applied = true
			result.OutputSize = info.Size()
			c.logger.Debug("compressed document",
				"quality", result.Quality,
				"input_bytes", result.InputSize,
				"output_bytes", result.OutputSize,
			)
			return result, nil
		}
		toolErr = &ToolError{Tool: c.binary, Message: "produced no output"}
	}

	c.logger.Warn("compression skipped, keeping original", "error", toolErr)
	result.Err = toolErr
	if err := copyFile(in, out); err != nil {
		return nil, fmt.Errorf("failed to copy uncompressed document: %w", err)
	}
	result.OutputSize = result.InputSize
	return result, nil
}

func (c *Compressor) run(ctx context.Context, in, out string, quality types.CompressionQuality) error {
	path, err := exec.LookPath(c.binary)
	if err != nil {
		return &ToolError{Tool: c.binary, Message: "not found in PATH", Cause: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, Args(in, out, quality)...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return &ToolError{Tool: c.binary, Message: "timed out", Output: output.String(), Cause: runCtx.Err()}
		}
		return &ToolError{Tool: c.binary, Message: "exited with error", Output: output.String(), Cause: err}
	}
	return nil
}

// Args returns the Ghostscript arguments for compressing in into out.
func Args(in, out string, quality types.CompressionQuality) []string {
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=/" + string(Normalize(quality)),
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=" + out,
		in,
	}
}

// Normalize maps unknown or empty qualities to ebook.
func Normalize(quality types.CompressionQuality) types.CompressionQuality {
	switch quality {
	case types.QualityScreen, types.QualityEbook, types.QualityPrinter, types.QualityPrepress:
		return quality
	default:
		return types.QualityEbook
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
