package menu

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

// Extractor turns an HTML document into gluten-free evidence snippets.
type Extractor interface {
	Extract(html string) []string
}

const minLineChars = 4

var (
	scriptBlock   = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	styleBlock    = regexp.MustCompile(`(?is)<style\b.*?</style\s*>`)
	blockBoundary = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/h[1-6]|/tr|/td|/th|/dt|/dd|/section|/article)\b[^>]*>`)
	glutenFree    = regexp.MustCompile(`(?i)(gluten[\s-]?free|\bgf\b|c(o)?eliac|no gluten)`)
)

// KeywordExtractor matches lines of visible text against a fixed
// gluten-free keyword pattern. It is a heuristic, not a classifier.
type KeywordExtractor struct {
	policy   *bluemonday.Policy
	pattern  *regexp.Regexp
	maxItems int
	maxChars int
}

// NewKeywordExtractor returns the default extractor.
func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{
		policy:   bluemonday.StrictPolicy(),
		pattern:  glutenFree,
		maxItems: restaurant.MaxEvidenceItems,
		maxChars: restaurant.MaxEvidenceChars,
	}
}

// Extract returns at most 8 distinct snippets of at most 140 characters,
// in document order.
func (e *KeywordExtractor) Extract(doc string) []string {
	text := e.visibleText(doc)

	evidence := make([]string, 0, e.maxItems)
	seen := make(map[string]struct{}, e.maxItems)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.Join(strings.Fields(raw), " ")
		if utf8.RuneCountInString(line) < minLineChars || !e.pattern.MatchString(line) {
			continue
		}
		line = truncateRunes(line, e.maxChars)
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		evidence = append(evidence, line)
		if len(evidence) == e.maxItems {
			break
		}
	}
	return evidence
}

func (e *KeywordExtractor) visibleText(doc string) string {
	doc = scriptBlock.ReplaceAllString(doc, "")
	doc = styleBlock.ReplaceAllString(doc, "")
	doc = blockBoundary.ReplaceAllString(doc, "$0\n")
	return html.UnescapeString(e.policy.Sanitize(doc))
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}
