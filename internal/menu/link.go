// Package menu locates menu pages and extracts gluten-free evidence from HTML.
package menu

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkResolver finds the most likely menu hyperlink on a page.
type LinkResolver struct{}

// NewLinkResolver returns a LinkResolver.
func NewLinkResolver() *LinkResolver {
	return &LinkResolver{}
}

// FindMenuLink returns the first anchor href containing "menu"
// (case-insensitive) that resolves against baseURL to an absolute http(s)
// URL, or "" when there is none.
func (LinkResolver) FindMenuLink(html, baseURL string) string {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || !base.IsAbs() {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if !strings.Contains(strings.ToLower(href), "menu") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" || abs.Host == "" {
			return true
		}
		abs.Fragment = ""
		found = abs.String()
		return false
	})
	return found
}
