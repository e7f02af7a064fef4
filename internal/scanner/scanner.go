// Package scanner runs the website → menu page → evidence pipeline for a
// single restaurant.
package scanner

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/clock/system"
	"github.com/JakeFAU/gf-menu-scanner/internal/fetcher"
	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/menu"
	"github.com/JakeFAU/gf-menu-scanner/internal/metrics"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

// LinkResolver finds a menu hyperlink on a page.
type LinkResolver interface {
	FindMenuLink(html, baseURL string) string
}

// Detector decides whether a page must be rendered in a browser.
type Detector interface {
	ShouldPromote(html string) bool
}

// Scanner implements the menu scan. It holds no restaurant state; every
// call works on the value it is given and returns an outcome for the
// caller to apply.
type Scanner struct {
	details   restaurant.PlaceDetails
	fetcher   fetcher.PageFetcher
	links     LinkResolver
	extractor menu.Extractor
	renderer  fetcher.Renderer
	detector  Detector
	clock     restaurant.Clock
	logger    *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithHeadless enables browser rendering of pages the detector flags.
func WithHeadless(renderer fetcher.Renderer, detector Detector) Option {
	return func(s *Scanner) {
		s.renderer = renderer
		s.detector = detector
	}
}

// WithClock overrides the clock used for outcome timestamps.
func WithClock(clock restaurant.Clock) Option {
	return func(s *Scanner) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = logging.OrNop(logger)
	}
}

// New constructs a Scanner. A nil link resolver or extractor falls back to
// the package defaults in internal/menu.
func New(
	details restaurant.PlaceDetails,
	pages fetcher.PageFetcher,
	links LinkResolver,
	extractor menu.Extractor,
	opts ...Option,
) *Scanner {
	s := &Scanner{
		details:   details,
		fetcher:   pages,
		links:     links,
		extractor: extractor,
		clock:     system.New(),
		logger:    zap.NewNop(),
	}
	if s.links == nil {
		s.links = menu.NewLinkResolver()
	}
	if s.extractor == nil {
		s.extractor = menu.NewKeywordExtractor()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan resolves the restaurant's website and scans it. It never returns an
// error: every failure maps onto NO_WEBSITE or FAILED.
func (s *Scanner) Scan(ctx context.Context, r restaurant.Restaurant) restaurant.ScanOutcome {
	start := time.Now()
	website := s.resolveWebsite(ctx, r.PlaceID)

	var outcome restaurant.ScanOutcome
	if website == "" {
		outcome = s.finish(restaurant.ScanNoWebsite, "", nil)
	} else {
		outcome = s.scanWebsite(ctx, website)
	}
	s.record(r.PlaceID, website, outcome, start)
	return outcome
}

// ScanWebsite scans a known website directly, skipping the place-details
// lookup. An empty website yields NO_WEBSITE.
func (s *Scanner) ScanWebsite(ctx context.Context, website string) restaurant.ScanOutcome {
	start := time.Now()
	website = strings.TrimSpace(website)

	var outcome restaurant.ScanOutcome
	if website == "" {
		outcome = s.finish(restaurant.ScanNoWebsite, "", nil)
	} else {
		outcome = s.scanWebsite(ctx, website)
	}
	s.record("", website, outcome, start)
	return outcome
}

func (s *Scanner) resolveWebsite(ctx context.Context, placeID string) string {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" || s.details == nil {
		return ""
	}
	website, err := s.details.Website(ctx, placeID)
	if err != nil {
		s.logger.Debug("website lookup failed", zap.String("place_id", placeID), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(website)
}

func (s *Scanner) scanWebsite(ctx context.Context, website string) restaurant.ScanOutcome {
	if s.fetcher == nil {
		return s.finish(restaurant.ScanFailed, "", nil)
	}
	home, err := s.fetcher.Fetch(ctx, website)
	if err != nil {
		s.logger.Debug("homepage fetch failed", zap.String("url", website), zap.Error(err))
		return s.finish(restaurant.ScanFailed, "", nil)
	}
	if home.URL == "" {
		home.URL = website
	}

	selected := home
	menuURL := website
	if link := s.links.FindMenuLink(home.HTML, home.URL); link != "" && !sameURL(link, home.URL) {
		page, err := s.fetcher.Fetch(ctx, link)
		switch {
		case err != nil:
			s.logger.Debug("menu page fetch failed", zap.String("url", link), zap.Error(err))
		default:
			if page.URL == "" {
				page.URL = link
			}
			selected = page
			menuURL = page.URL
		}
	}

	selected = s.maybeRender(ctx, selected)
	return s.finish(restaurant.ScanSuccess, menuURL, s.extractor.Extract(selected.HTML))
}

func (s *Scanner) maybeRender(ctx context.Context, page fetcher.Page) fetcher.Page {
	if s.renderer == nil || s.detector == nil || !s.detector.ShouldPromote(page.HTML) {
		return page
	}
	rendered, err := s.renderer.Render(ctx, page.URL)
	if err != nil || strings.TrimSpace(rendered.HTML) == "" {
		s.logger.Debug("headless render failed", zap.String("url", page.URL), zap.Error(err))
		return page
	}
	if rendered.URL == "" {
		rendered.URL = page.URL
	}
	return rendered
}

func (s *Scanner) finish(status restaurant.ScanStatus, menuURL string, evidence []string) restaurant.ScanOutcome {
	if evidence == nil {
		evidence = []string{}
	}
	return restaurant.ScanOutcome{
		Status:    status,
		MenuURL:   menuURL,
		Evidence:  evidence,
		Timestamp: s.clock.Now().UnixMilli(),
	}
}

func (s *Scanner) record(placeID, website string, outcome restaurant.ScanOutcome, start time.Time) {
	elapsed := time.Since(start)
	metrics.ObserveScan(string(outcome.Status), elapsed)
	s.logger.Info("menu scan complete",
		zap.String("place_id", placeID),
		zap.String("url", website),
		zap.String("status", string(outcome.Status)),
		zap.Int("evidence", len(outcome.Evidence)),
		zap.Duration("elapsed", elapsed),
	)
}

func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}
