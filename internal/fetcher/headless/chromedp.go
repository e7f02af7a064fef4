// Package headless renders JavaScript-heavy menu pages with headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/gf-menu-scanner/internal/fetcher"
)

const defaultNavTimeout = 25 * time.Second

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	MaxBodyBytes      int
}

// Renderer implements fetcher.Renderer using chromedp.
type Renderer struct {
	cfg         Config
	robots      fetcher.RobotsChecker
	validator   fetcher.URLValidator
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a renderer backed by a shared Chrome allocator.
func NewChromedp(cfg Config, robots fetcher.RobotsChecker, validator fetcher.URLValidator) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		robots:      robots,
		validator:   validator,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser allocator.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to rawURL and returns the DOM after scripts ran. The same
// robots and safety checks as plain fetches apply.
func (r *Renderer) Render(ctx context.Context, rawURL string) (fetcher.Page, error) {
	if r.validator != nil {
		if err := r.validator.ValidateURL(rawURL); err != nil {
			return fetcher.Page{}, fmt.Errorf("validate url: %w", err)
		}
	}
	if r.robots != nil && !r.robots.IsAllowed(ctx, rawURL) {
		return fetcher.Page{}, fmt.Errorf("%s: %w", rawURL, fetcher.ErrRobotsDisallowed)
	}
	if err := r.acquire(ctx); err != nil {
		return fetcher.Page{}, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, err := r.run(taskCtx, rawURL)
	if err != nil {
		return fetcher.Page{}, err
	}
	status, contentType, pageURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	if status != http.StatusOK {
		return fetcher.Page{}, fmt.Errorf("%w: %d", fetcher.ErrUnexpectedStatus, status)
	}
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "text") {
		return fetcher.Page{}, fmt.Errorf("%w: %q", fetcher.ErrUnsupportedContentType, contentType)
	}
	if r.cfg.MaxBodyBytes > 0 && len(html) > r.cfg.MaxBodyBytes {
		html = html[:r.cfg.MaxBodyBytes]
	}
	return fetcher.Page{URL: pageURL, HTML: html, ContentType: contentType}, nil
}

func (r *Renderer) run(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// responseMeta records the main document response seen by the browser.
type responseMeta struct {
	mu          sync.RWMutex
	status      int
	contentType string
	url         string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	contentType := event.Response.MimeType
	for key, value := range event.Response.Headers {
		if strings.EqualFold(key, "Content-Type") {
			contentType = fmt.Sprint(value)
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.contentType = contentType
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string, string) {
	m.mu.RLock()
	status, contentType, url := m.status, m.contentType, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, contentType, url
}
