// Package pdftest builds small valid PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ledongthuc/pdf"
)

// LetterWidth is the MediaBox width of the pages Document generates.
const LetterWidth = 612

// Document returns a PDF with the given number of blank Letter pages. A non-empty title is
// written into the Info dictionary.
func Document(pages int, title string) []byte {
	widths := make([]int, pages)
	for i := range widths {
		widths[i] = LetterWidth
	}
	return DocumentWidths(title, widths...)
}

// DocumentWidths returns a PDF with one blank page per width. Distinct widths let tests
// tell pages apart after a merge.
func DocumentWidths(title string, widths ...int) []byte {
	pages := len(widths)
	var objects []string
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))

	for _, w := range widths {
		objects = append(objects, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d 792] /Resources << >> >>", w))
	}

	infoRef := ""
	if title != "" {
		objects = append(objects, fmt.Sprintf("<< /Title (%s) /Producer (pdftest) >>", escape(title)))
		infoRef = fmt.Sprintf(" /Info %d 0 R", len(objects))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R%s >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, infoRef, xref)
	return buf.Bytes()
}

// WriteFile writes a generated document into dir and returns its path.
func WriteFile(t testing.TB, dir, name string, pages int, title string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Document(pages, title), 0o644); err != nil {
		t.Fatalf("failed to write test PDF: %v", err)
	}
	return path
}

// WriteWidths writes a document with one page per width into dir and returns its path.
func WriteWidths(t testing.TB, dir, name string, widths ...int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, DocumentWidths("", widths...), 0o644); err != nil {
		t.Fatalf("failed to write test PDF: %v", err)
	}
	return path
}

// PageWidths returns the MediaBox width of every page of the document at path, in order.
func PageWidths(t testing.TB, path string) []int {
	t.Helper()
	f, r, err := pdf.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	widths := make([]int, r.NumPage())
	for i := range widths {
		box := r.Page(i + 1).MediaBox()
		widths[i] = int(box.Index(2).Float64() - box.Index(0).Float64())
	}
	return widths
}

// WriteCorrupt writes bytes that no PDF reader accepts.
func WriteCorrupt(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("%PDF-1.4\nthis document was truncated"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt PDF: %v", err)
	}
	return path
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}
