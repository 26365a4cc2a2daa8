// Package crawling discovers, filters and bounds the subpages linked from a rendered page.
package crawling

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks returns the same-host links of a rendered page in order of first appearance.
// Links containing a fragment, links to the root path, non-http links and hrefs that do not
// parse are dropped. Only the given page is examined; links are never followed.
func ExtractLinks(htmlContent string, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, &LinkExtractionError{
			Message: "failed to parse base URL",
			Cause:   err,
		}
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, &LinkExtractionError{
			Message: fmt.Sprintf("invalid base URL: %s (must have scheme and host)", baseURL),
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, &LinkExtractionError{
			Message: "failed to parse HTML",
			Cause:   err,
		}
	}

	origin := strings.ToLower(base.Hostname())
	seen := make(map[string]bool)
	links := make([]string, 0)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.Contains(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		link := base.ResolveReference(ref)

		if link.Scheme != "http" && link.Scheme != "https" {
			return
		}
		if strings.ToLower(link.Hostname()) != origin {
			return
		}
		if link.Path == "" || link.Path == "/" {
			return
		}

		linkString := link.String()
		if strings.Contains(linkString, "#") || seen[linkString] {
			return
		}
		seen[linkString] = true
		links = append(links, linkString)
	})

	return links, nil
}

// PageTitle returns the document title, falling back to og:title and the first h1.
func PageTitle(htmlContent string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}
	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}
