package pdfdoc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonathan/web2pdf/internal/pdfdoc/pdftest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := pdftest.WriteFile(t, dir, "doc.pdf", 3, "Docs (draft)")

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Pages)
	assert.Equal(t, "Docs (draft)", info.Title)
	assert.Equal(t, "pdftest", info.Producer)
}

func TestInspect_Corrupt(t *testing.T) {
	dir := t.TempDir()

	_, err := Inspect(pdftest.WriteCorrupt(t, dir, "bad.pdf"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.pdf")
	require.NoError(t, os.WriteFile(garbage, []byte("not a pdf"), 0o644))
	_, err = Inspect(garbage)
	assert.Error(t, err)

	_, err = Inspect(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}

func TestInspect_ZeroPages(t *testing.T) {
	dir := t.TempDir()
	path := pdftest.WriteFile(t, dir, "empty.pdf", 0, "")

	_, err := Inspect(path)
	assert.Error(t, err)
}

func TestMetadataError(t *testing.T) {
	err := &MetadataError{Path: "/tmp/a.pdf", Message: "failed to read document", Cause: os.ErrNotExist}

	assert.Contains(t, err.Error(), "/tmp/a.pdf")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
