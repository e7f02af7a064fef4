// Package places adapts the Google Places web service to the restaurant
// search and details collaborators.
package places

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

// ErrMissingCredential is returned by searches when no API key is configured.
var ErrMissingCredential = errors.New("places api key is not configured")

// Config controls the Places client.
type Config struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
}

// Client implements restaurant.PlaceSearcher and restaurant.PlaceDetails.
// A Client without credentials is valid: searches fail with
// ErrMissingCredential and website lookups report no website.
type Client struct {
	maps   *maps.Client
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	c := &Client{logger: logging.OrNop(logger)}
	if strings.TrimSpace(cfg.APIKey) == "" {
		c.logger.Warn("places api key missing; searches disabled and scans will report no website")
		return c, nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	opts := []maps.ClientOption{
		maps.WithAPIKey(cfg.APIKey),
		maps.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, maps.WithRateLimit(cfg.RequestsPerSecond))
	}
	mc, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("new maps client: %w", err)
	}
	c.maps = mc
	return c, nil
}

// Configured reports whether the client holds a credential.
func (c *Client) Configured() bool {
	return c != nil && c.maps != nil
}

// SearchNearby returns restaurants within radiusMeters of anchor.
func (c *Client) SearchNearby(ctx context.Context, anchor restaurant.Location, radiusMeters int) ([]restaurant.Candidate, error) {
	if !c.Configured() {
		return nil, ErrMissingCredential
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("search radius must be > 0")
	}
	resp, err := c.maps.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: anchor.Latitude, Lng: anchor.Longitude},
		Radius:   uint(radiusMeters),
		Type:     maps.PlaceTypeRestaurant,
	})
	if err != nil {
		return nil, fmt.Errorf("nearby search: %w", err)
	}

	candidates := make([]restaurant.Candidate, 0, len(resp.Results))
	for _, result := range resp.Results {
		if strings.TrimSpace(result.Name) == "" {
			continue
		}
		candidates = append(candidates, toCandidate(result))
	}
	return candidates, nil
}

// Website returns the website registered for placeID, or "" when there is none.
func (c *Client) Website(ctx context.Context, placeID string) (string, error) {
	if !c.Configured() || strings.TrimSpace(placeID) == "" {
		return "", nil
	}
	details, err := c.maps.PlaceDetails(ctx, &maps.PlaceDetailsRequest{
		PlaceID: placeID,
		Fields:  []maps.PlaceDetailsFieldMask{maps.PlaceDetailsFieldMaskWebsite},
	})
	if err != nil {
		return "", fmt.Errorf("place details %s: %w", placeID, err)
	}
	return strings.TrimSpace(details.Website), nil
}

func toCandidate(result maps.PlacesSearchResult) restaurant.Candidate {
	address := result.Vicinity
	if address == "" {
		address = result.FormattedAddress
	}
	candidate := restaurant.Candidate{
		PlaceID:   result.PlaceID,
		Name:      result.Name,
		Address:   address,
		Latitude:  result.Geometry.Location.Lat,
		Longitude: result.Geometry.Location.Lng,
	}
	if result.Rating > 0 {
		rating := float64(result.Rating)
		candidate.Rating = &rating
	}
	if result.OpeningHours != nil && result.OpeningHours.OpenNow != nil {
		open := *result.OpeningHours.OpenNow
		candidate.OpenNow = &open
	}
	return candidate
}
