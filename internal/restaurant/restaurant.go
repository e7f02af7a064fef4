// Package restaurant defines the entities shared by the menu-discovery pipeline.
package restaurant

import (
	"regexp"
	"strings"
)

// ScanStatus is the menu-scan lifecycle state of a restaurant.
type ScanStatus string

const (
	// ScanNotStarted means no scan has ever been attempted.
	ScanNotStarted ScanStatus = "NOT_STARTED"
	// ScanFetching means a scan is in flight.
	ScanFetching ScanStatus = "FETCHING"
	// ScanSuccess means extraction ran; evidence may still be empty.
	ScanSuccess ScanStatus = "SUCCESS"
	// ScanNoWebsite means no website could be resolved for the restaurant.
	ScanNoWebsite ScanStatus = "NO_WEBSITE"
	// ScanFailed means a website was known but every fetch failed.
	ScanFailed ScanStatus = "FAILED"
)

// Valid reports whether s is a known status.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanNotStarted, ScanFetching, ScanSuccess, ScanNoWebsite, ScanFailed:
		return true
	}
	return false
}

// FavoriteStatus is the user's marking of a restaurant.
type FavoriteStatus string

const (
	FavoriteNone  FavoriteStatus = "none"
	FavoriteSafe  FavoriteStatus = "safe"
	FavoriteTry   FavoriteStatus = "try"
	FavoriteAvoid FavoriteStatus = "avoid"
)

// ParseFavorite converts user input into a FavoriteStatus.
func ParseFavorite(raw string) (FavoriteStatus, bool) {
	switch f := FavoriteStatus(strings.ToLower(strings.TrimSpace(raw))); f {
	case FavoriteNone, FavoriteSafe, FavoriteTry, FavoriteAvoid:
		return f, true
	case "":
		return FavoriteNone, true
	}
	return FavoriteNone, false
}

// OpenNow is a tri-state opening flag.
type OpenNow string

const (
	OpenUnknown OpenNow = ""
	OpenYes     OpenNow = "open"
	OpenNo      OpenNow = "closed"
)

// OpenNowFromPtr maps an optional provider boolean onto OpenNow.
func OpenNowFromPtr(v *bool) OpenNow {
	switch {
	case v == nil:
		return OpenUnknown
	case *v:
		return OpenYes
	default:
		return OpenNo
	}
}

// Evidence limits.
const (
	MaxEvidenceItems = 8
	MaxEvidenceChars = 140
)

// Location is an anchor coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinates are within range.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// Restaurant is one discovered dining establishment.
type Restaurant struct {
	PlaceID              string         `json:"place_id,omitempty"`
	Name                 string         `json:"name"`
	Address              string         `json:"address"`
	Latitude             float64        `json:"latitude"`
	Longitude            float64        `json:"longitude"`
	DistanceMeters       float64        `json:"distance_meters"`
	Rating               *float64       `json:"rating,omitempty"`
	OpenNow              OpenNow        `json:"open_now,omitempty"`
	HasGlutenFreeOptions bool           `json:"has_gluten_free_options"`
	GlutenFreeMenuItems  []string       `json:"gluten_free_menu_items,omitempty"`
	MenuURL              string         `json:"menu_url,omitempty"`
	MenuScanStatus       ScanStatus     `json:"menu_scan_status"`
	MenuScanTimestamp    int64          `json:"menu_scan_timestamp"`
	FavoriteStatus       FavoriteStatus `json:"favorite_status"`
	CrowdNotes           []string       `json:"crowd_notes,omitempty"`
}

// Key returns the merge key of the restaurant.
func (r Restaurant) Key() Key {
	return KeyFor(r.PlaceID, r.Name, r.Address)
}

// EffectiveScanStatus folds a zero timestamp into NOT_STARTED. FETCHING is
// left alone because a first scan is in flight before any timestamp exists.
func (r Restaurant) EffectiveScanStatus() ScanStatus {
	if r.MenuScanTimestamp == 0 && r.MenuScanStatus != ScanFetching {
		return ScanNotStarted
	}
	if r.MenuScanStatus == "" {
		return ScanNotStarted
	}
	return r.MenuScanStatus
}

// Clone returns a deep copy.
func (r Restaurant) Clone() Restaurant {
	out := r
	if r.Rating != nil {
		v := *r.Rating
		out.Rating = &v
	}
	out.GlutenFreeMenuItems = cloneStrings(r.GlutenFreeMenuItems)
	out.CrowdNotes = cloneStrings(r.CrowdNotes)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Candidate is a raw place-search result.
type Candidate struct {
	PlaceID   string   `json:"place_id,omitempty"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Rating    *float64 `json:"rating,omitempty"`
	OpenNow   *bool    `json:"open_now,omitempty"`
}

var glutenFreeName = regexp.MustCompile(`(?i)(gluten[\s-]?free|\bgf\b|celiac|coeliac)`)

// LooksGlutenFree reports whether a name advertises gluten-free food.
func LooksGlutenFree(name string) bool {
	return glutenFreeName.MatchString(name)
}

// FromCandidate builds a fresh Restaurant from a search result.
func FromCandidate(c Candidate) Restaurant {
	r := Restaurant{
		PlaceID:              strings.TrimSpace(c.PlaceID),
		Name:                 c.Name,
		Address:              c.Address,
		Latitude:             c.Latitude,
		Longitude:            c.Longitude,
		OpenNow:              OpenNowFromPtr(c.OpenNow),
		HasGlutenFreeOptions: LooksGlutenFree(c.Name),
		MenuScanStatus:       ScanNotStarted,
		FavoriteStatus:       FavoriteNone,
	}
	if c.Rating != nil {
		v := *c.Rating
		r.Rating = &v
	}
	return r
}

// ScanOutcome is the result of a single menu scan.
type ScanOutcome struct {
	Status    ScanStatus `json:"status"`
	MenuURL   string     `json:"menu_url,omitempty"`
	Evidence  []string   `json:"evidence"`
	Timestamp int64      `json:"timestamp"`
}

// Apply copies the outcome's scan fields onto r. Evidence only ever raises
// the gluten-free flag.
func (o ScanOutcome) Apply(r *Restaurant) {
	r.MenuScanStatus = o.Status
	r.MenuScanTimestamp = o.Timestamp
	if o.MenuURL != "" {
		r.MenuURL = o.MenuURL
	}
	r.GlutenFreeMenuItems = cloneStrings(o.Evidence)
	if len(o.Evidence) > 0 {
		r.HasGlutenFreeOptions = true
	}
}
