package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/config"
	collyfetcher "github.com/JakeFAU/gf-menu-scanner/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/gf-menu-scanner/internal/fetcher/headless"
	"github.com/JakeFAU/gf-menu-scanner/internal/headless/detector"
	"github.com/JakeFAU/gf-menu-scanner/internal/menu"
	"github.com/JakeFAU/gf-menu-scanner/internal/places"
	"github.com/JakeFAU/gf-menu-scanner/internal/policy/ratelimit"
	"github.com/JakeFAU/gf-menu-scanner/internal/robots"
	"github.com/JakeFAU/gf-menu-scanner/internal/scanner"
	"github.com/JakeFAU/gf-menu-scanner/internal/security"
)

// Pipeline is the scan stack shared by the HTTP host and the scan command.
type Pipeline struct {
	Places   *places.Client
	Robots   *robots.Gate
	Fetcher  *collyfetcher.Fetcher
	Scanner  *scanner.Scanner
	renderer *headlessfetcher.Renderer
}

// NewPipeline wires robots, fetching, optional headless rendering, and the
// Places client into a Scanner.
func NewPipeline(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	guard := security.NewGuard(cfg.Scanner.BlockPrivateNetworks, cfg.Scanner.BlockedHosts)

	var transport http.RoundTripper
	if cfg.Scanner.BlockPrivateNetworks {
		transport = security.SafeTransport(cfg.Scanner.RequestTimeout)
		logger.Info("private network dialing blocked")
	}

	gate := robots.New(robots.Config{
		UserAgent: cfg.Scanner.UserAgent,
		Timeout:   cfg.Scanner.RobotsTimeout,
		Transport: transport,
	}, logger.Named("robots"))

	fetchOpts := []collyfetcher.Option{
		collyfetcher.WithURLValidator(guard),
		collyfetcher.WithLogger(logger.Named("fetcher")),
	}
	if cfg.RateLimit.Enabled {
		fetchOpts = append(fetchOpts, collyfetcher.WithRateLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})))
		logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	}
	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Scanner.UserAgent,
		Timeout:      cfg.Scanner.RequestTimeout,
		MaxBodyBytes: cfg.Scanner.MaxPageBytes,
		Transport:    transport,
	}, gate, fetchOpts...)
	logger.Info("using colly fetcher", zap.String("user_agent", cfg.Scanner.UserAgent))

	placesClient, err := places.New(places.Config{
		APIKey:            cfg.Places.APIKey,
		BaseURL:           cfg.Places.BaseURL,
		Timeout:           cfg.Places.Timeout,
		RequestsPerSecond: cfg.Places.RequestsPerSecond,
	}, logger.Named("places"))
	if err != nil {
		return nil, fmt.Errorf("places client init failed: %w", err)
	}

	p := &Pipeline{Places: placesClient, Robots: gate, Fetcher: pages}

	scanOpts := []scanner.Option{scanner.WithLogger(logger.Named("scanner"))}
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Scanner.BatchLimit,
			UserAgent:         cfg.Scanner.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			MaxBodyBytes:      cfg.Scanner.MaxPageBytes,
		}, gate, guard)
		if err != nil {
			logger.Warn("headless renderer init failed, continuing without it", zap.Error(err))
		} else {
			p.renderer = renderer
			scanOpts = append(scanOpts, scanner.WithHeadless(renderer, detector.NewHeuristic(cfg.Headless.MinTextBytes)))
			logger.Info("headless rendering enabled", zap.Duration("nav_timeout", cfg.Headless.NavTimeout))
		}
	}

	p.Scanner = scanner.New(placesClient, pages, menu.NewLinkResolver(), menu.NewKeywordExtractor(), scanOpts...)
	return p, nil
}

// Close releases the headless browser, if any.
func (p *Pipeline) Close() {
	if p.renderer != nil {
		p.renderer.Close()
	}
}
