// Package storage manages the output directory: finished artifacts, per-run work
// directories and the retention sweep.
package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jonathan/web2pdf/internal/ingestion"
)

// tempDirName holds per-run work directories inside the output directory.
const tempDirName = "temp"

// OutputRoute is the URL path prefix under which artifacts are served.
const OutputRoute = "/output/"

// Sentinel errors.
var (
	ErrNotFound        = errors.New("artifact not found")
	ErrInvalidFilename = errors.New("invalid artifact filename")
	ErrAmbiguousID     = errors.New("more than one artifact matches id")
)

// Store is a directory of finished documents.
type Store struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// New creates the output and temp directories if needed. baseURL is prefixed to public
// links; when empty, links are root-relative.
func New(dir, baseURL string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("output directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, tempDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Store{
		dir:     abs,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Dir returns the absolute output directory.
func (s *Store) Dir() string {
	return s.dir
}

// NewWorkDir creates temp/<runID> and returns it with a cleanup func that removes it.
func (s *Store) NewWorkDir(runID uuid.UUID) (string, func(), error) {
	dir := filepath.Join(s.dir, tempDirName, runID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("failed to create work directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove work directory", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// Path returns the location of a stored artifact after checking the name is a plain .pdf file name.
func (s *Store) Path(filename string) (string, error) {
	if filename == "" ||
		filename != filepath.Base(filename) ||
		strings.ContainsAny(filename, `/\`) ||
		strings.HasPrefix(filename, ".") ||
		!strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return filepath.Join(s.dir, filename), nil
}

// Publish moves src into the output directory as filename and returns the final path.
func (s *Store) Publish(src, filename string) (string, error) {
	dst, err := s.Path(filename)
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	// Rename fails across filesystems.
	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to publish artifact: %w", err)
	}
	_ = os.Remove(src)
	return dst, nil
}

// Stat returns file info for a stored artifact, or ErrNotFound.
func (s *Store) Stat(filename string) (os.FileInfo, error) {
	path, err := s.Path(filename)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return info, nil
}

// Locate finds the artifact whose filename carries the short form of id.
func (s *Store) Locate(id uuid.UUID) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*_"+ingestion.ShortID(id)+".pdf"))
	if err != nil {
		return "", fmt.Errorf("failed to search artifacts: %w", err)
	}
	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return filepath.Base(matches[0]), nil
	default:
		return "", ErrAmbiguousID
	}
}

// Remove deletes a stored artifact. Removing a missing artifact is not an error.
func (s *Store) Remove(filename string) error {
	path, err := s.Path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

// PublicURL returns the link under which filename is served.
func (s *Store) PublicURL(filename string) string {
	return s.baseURL + OutputRoute + url.PathEscape(filename)
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
