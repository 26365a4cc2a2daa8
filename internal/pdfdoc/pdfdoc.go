// Package pdfdoc merges rendered pages into one document and writes document metadata.
package pdfdoc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Creator is written into every produced document.
const Creator = "web2pdf"

// ErrNoUsablePages is returned when none of the merge inputs could be used.
var ErrNoUsablePages = errors.New("no usable pages to merge")

// MetadataError represents a failure reading or writing a document's Info dictionary.
type MetadataError struct {
	Path    string
	Message string
	Cause   error
}

func (e *MetadataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("metadata error for %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("metadata error for %s: %s", e.Path, e.Message)
}

func (e *MetadataError) Unwrap() error {
	return e.Cause
}

// Info describes a parsed document.
type Info struct {
	Pages    int
	Title    string
	Author   string
	Subject  string
	Keywords string
	Creator  string
	Producer string
}

// Inspect parses the document at path and returns its page count and Info fields.
// Malformed files return an error rather than panicking.
func Inspect(path string) (info *Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info = nil
			err = fmt.Errorf("malformed PDF %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	pages := r.NumPage()
	if pages <= 0 {
		return nil, fmt.Errorf("PDF %s has no pages", path)
	}

	meta := r.Trailer().Key("Info")
	return &Info{
		Pages:    pages,
		Title:    meta.Key("Title").Text(),
		Author:   meta.Key("Author").Text(),
		Subject:  meta.Key("Subject").Text(),
		Keywords: meta.Key("Keywords").Text(),
		Creator:  meta.Key("Creator").Text(),
		Producer: meta.Key("Producer").Text(),
	}, nil
}

var configOnce sync.Once

// configuration returns a relaxed pdfcpu configuration without touching the user config dir.
func configuration() *model.Configuration {
	configOnce.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// copyFile copies src to dst, replacing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
