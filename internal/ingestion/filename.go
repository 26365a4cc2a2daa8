package ingestion

import (
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	maxSlugLength   = 60
	untitledTitle   = "Untitled document"
	randomSlugStart = "document"
)

// Slugify lowercases s and keeps ASCII letters and digits, joining runs of anything else
// with a single hyphen. The result is at most 60 characters and may be empty.
func Slugify(s string) string {
	var sb strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingDash = false
			sb.WriteRune(r)
			if sb.Len() >= maxSlugLength {
				break
			}
			continue
		}
		pendingDash = true
	}
	return strings.Trim(sb.String(), "-")
}

// TitleSlug derives a slug from a page title.
func TitleSlug(title string) (string, bool) {
	slug := Slugify(title)
	return slug, slug != ""
}

// DomainSlug derives a slug from the host of rawURL, without a leading "www.".
func DomainSlug(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	slug := Slugify(host)
	return slug, slug != ""
}

// RandomSlug is the last fallback and never fails.
func RandomSlug(id uuid.UUID) string {
	return randomSlugStart + "-" + ShortID(id)
}

// BaseName walks the fallback chain title, domain, random and returns the first usable slug.
func BaseName(title, rawURL string, id uuid.UUID) string {
	if slug, ok := TitleSlug(title); ok {
		return slug
	}
	if slug, ok := DomainSlug(rawURL); ok {
		return slug
	}
	return RandomSlug(id)
}

// Filename builds a unique output filename: {slug}_{YYYY-MM-DD}_{short id}.pdf.
func Filename(title, rawURL string, now time.Time, id uuid.UUID) string {
	return BaseName(title, rawURL, id) + "_" + now.UTC().Format("2006-01-02") + "_" + ShortID(id) + ".pdf"
}

// DisplayTitle returns the human readable title for a document, falling back to the host name.
func DisplayTitle(title, rawURL string) string {
	if t := strings.Join(strings.Fields(title), " "); t != "" {
		return t
	}
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return untitledTitle
}

// SubpageFilename names the intermediate render of subpage i (zero based) after its last path segment.
func SubpageFilename(i int, rawURL string) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		base = Slugify(segments[len(segments)-1])
	}
	if base == "" {
		base = "page"
	}
	return strconv.Itoa(i+1) + "_" + base + ".pdf"
}

// MainPageFilename is the intermediate render of the main page.
const MainPageFilename = "0_main.pdf"

// ShortID is the 8 hex character suffix that makes a filename unique to its artifact.
func ShortID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
