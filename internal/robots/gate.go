// Package robots answers whether a URL may be fetched according to its host's robots.txt.
//
// Rules are read from the "User-agent: *" group only and cached per host for
// the life of the process. Any failure to fetch or parse robots.txt is
// treated as allow-all for that host, and that verdict is cached too.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/metrics"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultMaxBytes = 1 << 20
	wildcardAgent   = "*"
)

// Config controls how robots.txt files are retrieved.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	// Transport is the base round tripper; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Gate fetches, caches and evaluates robots.txt rules per host.
type Gate struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	maxBytes  int64
	logger    *zap.Logger

	cache  sync.Map // host -> *robotstxt.Group
	flight singleflight.Group
}

// New builds a Gate.
func New(cfg Config, logger *zap.Logger) *Gate {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Gate{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &retryTransport{base: base},
		},
		userAgent: cfg.UserAgent,
		timeout:   timeout,
		maxBytes:  maxBytes,
		logger:    logging.OrNop(logger),
	}
}

// IsAllowed reports whether rawURL may be fetched. Unparseable or non-HTTP
// URLs are never allowed.
func (g *Gate) IsAllowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}

	group := g.groupFor(ctx, parsed)
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	if group.Test(target) {
		return true
	}
	metrics.ObserveRobotsDenied()
	g.logger.Debug("robots disallowed url", zap.String("url", rawURL))
	return false
}

func (g *Gate) groupFor(ctx context.Context, parsed *url.URL) *robotstxt.Group {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if cached, ok := g.cache.Load(hostKey); ok {
		return cached.(*robotstxt.Group) //nolint:forcetypeassert // only groups are stored
	}

	v, _, _ := g.flight.Do(hostKey, func() (any, error) {
		if cached, ok := g.cache.Load(hostKey); ok {
			return cached, nil
		}
		group, err := g.fetch(ctx, parsed)
		if err != nil {
			metrics.ObserveRobotsFallback()
			g.logger.Warn("robots fetch failed; allowing host for this session",
				zap.String("host", parsed.Host), zap.Error(err))
			group = allowAll()
		}
		g.cache.Store(hostKey, group)
		return group, nil
	})
	return v.(*robotstxt.Group) //nolint:forcetypeassert // flight only returns groups
}

func (g *Gate) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.Group, error) {
	// The verdict is cached for every later caller, so it must not depend on
	// this caller's cancellation.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch robots: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data.FindGroup(wildcardAgent), nil
}

func allowAll() *robotstxt.Group {
	data, _ := robotstxt.FromBytes(nil)
	return data.FindGroup(wildcardAgent)
}
