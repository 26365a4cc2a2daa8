package pdfdoc

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/jonathan/web2pdf/internal/types"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Annotator writes descriptive metadata into a document's Info dictionary.
type Annotator struct{}

// NewAnnotator creates an Annotator.
func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Annotate sets the non-empty fields of meta plus Creator. The document is rewritten through
// a sibling temp file, so on failure the original is left untouched. The file keeps its
// permissions and modification time, so retention still counts from when it was produced.
// Producer is always rewritten by pdfcpu and is not under our control.
func (a *Annotator) Annotate(path string, meta types.DocumentMetadata) error {
	mode := os.FileMode(0o644)
	var mtime time.Time
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
		mtime = st.ModTime()
	}

	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return &MetadataError{Path: path, Message: "failed to read document", Cause: err}
	}

	if ctx.Info == nil {
		ir, err := ctx.IndRefForNewObject(pdftypes.NewDict())
		if err != nil {
			return &MetadataError{Path: path, Message: "failed to create info dictionary", Cause: err}
		}
		ctx.Info = ir
	}
	info, err := ctx.DereferenceDict(*ctx.Info)
	if err != nil || info == nil {
		return &MetadataError{Path: path, Message: "failed to resolve info dictionary", Cause: err}
	}

	fields := map[string]string{
		"Title":    meta.Title,
		"Author":   meta.Author,
		"Subject":  meta.Subject,
		"Keywords": joinKeywords(meta.Keywords),
		"Creator":  Creator,
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		info.Update(key, encodeText(value))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".annotate-*.pdf")
	if err != nil {
		return &MetadataError{Path: path, Message: "failed to create temp file", Cause: err}
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := api.WriteContextFile(ctx, tmpPath); err != nil {
		return &MetadataError{Path: path, Message: "failed to write document", Cause: err}
	}
	// CreateTemp makes the file 0600.
	if err := os.Chmod(tmpPath, mode); err != nil {
		return &MetadataError{Path: path, Message: "failed to set document permissions", Cause: err}
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
			return &MetadataError{Path: path, Message: "failed to set document times", Cause: err}
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &MetadataError{Path: path, Message: "failed to replace document", Cause: err}
	}
	return nil
}

// Read returns the Info fields of the document at path.
func (a *Annotator) Read(path string) (*Info, error) {
	info, err := Inspect(path)
	if err != nil {
		return nil, &MetadataError{Path: path, Message: "failed to read document", Cause: err}
	}
	return info, nil
}

func joinKeywords(keywords []string) string {
	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	return strings.Join(cleaned, ", ")
}

// encodeText returns a hex string, UTF-16BE with a byte order mark when s is not plain ASCII.
func encodeText(s string) pdftypes.HexLiteral {
	if isASCII(s) {
		return pdftypes.NewHexLiteral([]byte(s))
	}
	units := utf16.Encode([]rune(s))
	b := make([]byte, 0, 2+2*len(units))
	b = append(b, 0xFE, 0xFF)
	for _, u := range units {
		b = append(b, byte(u>>8), byte(u))
	}
	return pdftypes.NewHexLiteral(b)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
