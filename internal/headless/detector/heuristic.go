// Package detector decides when a fetched menu page must be re-rendered in a browser.
package detector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultMinTextBytes = 512

// Heuristic promotes pages that look like client-rendered shells.
type Heuristic struct {
	MinTextBytes int
}

// NewHeuristic creates a new detector. Pages whose visible body text is
// shorter than minTextBytes are candidates for promotion.
func NewHeuristic(minTextBytes int) *Heuristic {
	if minTextBytes <= 0 {
		minTextBytes = defaultMinTextBytes
	}
	return &Heuristic{MinTextBytes: minTextBytes}
}

var spaMarkers = []string{
	`id="__next"`,
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-version",
	"window.__nuxt__",
}

// ShouldPromote reports whether html needs JavaScript execution to expose its content.
func (h *Heuristic) ShouldPromote(html string) bool {
	if strings.TrimSpace(html) == "" {
		return true
	}
	if visibleTextLen(html) >= h.MinTextBytes {
		return false
	}
	lower := strings.ToLower(html)
	for _, marker := range spaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return scriptDensityHigh(lower)
}

func visibleTextLen(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return len(html)
	}
	doc.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
}

func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		nextSearch := total
		if relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}
