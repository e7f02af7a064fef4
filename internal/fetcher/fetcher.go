// Package fetcher defines the page-fetching contract used by the menu scanner.
package fetcher

import (
	"context"
	"errors"
)

var (
	// ErrRobotsDisallowed is returned when robots.txt forbids the URL.
	ErrRobotsDisallowed = errors.New("fetch disallowed by robots.txt")
	// ErrUnexpectedStatus is returned for any status other than 200.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrUnsupportedContentType is returned when the response is not textual.
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

// Page is a fetched HTML document. URL is the final URL after redirects.
type Page struct {
	URL         string
	HTML        string
	ContentType string
}

// PageFetcher retrieves a single HTML page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Renderer produces the DOM of a page after scripts have run.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
}

// RobotsChecker answers robots.txt questions.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, rawURL string) bool
}

// URLValidator rejects URLs that must never be dialed.
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// RateLimiter paces requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}
