// Package collyfetcher implements fetcher.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/fetcher"
	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/metrics"
)

const (
	defaultTimeout  = 8 * time.Second
	defaultMaxBytes = 200000
	acceptHeader    = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes truncates bodies silently; it is not an error.
	MaxBodyBytes int
	// Transport overrides the default pooled transport, e.g. with an SSRF-safe one.
	Transport http.RoundTripper
}

// Fetcher implements fetcher.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	robots        fetcher.RobotsChecker
	validator     fetcher.URLValidator
	limiter       fetcher.RateLimiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithURLValidator rejects unsafe URLs before any request is made.
func WithURLValidator(v fetcher.URLValidator) Option {
	return func(f *Fetcher) { f.validator = v }
}

// WithRateLimiter paces requests per host.
func WithRateLimiter(l fetcher.RateLimiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher gated by robots.
func New(cfg Config, robots fetcher.RobotsChecker, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBytes
	}
	// Robots are enforced by the gate; colly's own check would fail closed.
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport(cfg.Timeout)
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	f := &Fetcher{
		cfg:           cfg,
		robots:        robots,
		baseCollector: c,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.OrNop(f.logger)
	return f
}

// Fetch executes a single HTTP GET. Any rejection is returned as an error;
// callers treat every error the same way.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (fetcher.Page, error) {
	if f.validator != nil {
		if err := f.validator.ValidateURL(rawURL); err != nil {
			metrics.ObserveFetch("blocked")
			return fetcher.Page{}, fmt.Errorf("validate url: %w", err)
		}
	}
	if f.robots != nil && !f.robots.IsAllowed(ctx, rawURL) {
		metrics.ObserveFetch("robots_denied")
		return fetcher.Page{}, fmt.Errorf("%s: %w", rawURL, fetcher.ErrRobotsDisallowed)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			metrics.ObserveFetch("canceled")
			return fetcher.Page{}, err
		}
	}

	var (
		page     fetcher.Page
		fetchErr error
	)
	collector := f.buildCollector(ctx, &page, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		metrics.ObserveFetch(resultLabel(err))
		f.logger.Debug("page fetch failed", zap.String("url", rawURL), zap.Error(err))
		return fetcher.Page{}, err
	}
	metrics.ObserveFetch("ok")
	return page, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, page *fetcher.Page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, page, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, page *fetcher.Page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
		r.Headers.Set("Accept-Language", "en;q=0.9,*;q=0.5")
	})

	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode != http.StatusOK {
			*fetchErr = fmt.Errorf("%w: %d", fetcher.ErrUnexpectedStatus, r.StatusCode)
			return
		}
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		if !strings.Contains(strings.ToLower(contentType), "text") {
			*fetchErr = fmt.Errorf("%w: %q", fetcher.ErrUnsupportedContentType, contentType)
			return
		}
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*page = fetcher.Page{
			URL:         finalURL,
			HTML:        string(r.Body),
			ContentType: contentType,
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 && r.StatusCode != http.StatusOK {
			*fetchErr = fmt.Errorf("%w: %d", fetcher.ErrUnexpectedStatus, r.StatusCode)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrUnexpectedStatus):
		return "status"
	case errors.Is(err, fetcher.ErrUnsupportedContentType):
		return "content_type"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
