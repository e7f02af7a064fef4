// Package recommend ranks restaurants for a user from their annotations and
// the restaurant's own attributes.
package recommend

import (
	"cmp"
	"slices"
	"strings"

	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

// Signals are the per-user inputs to scoring.
type Signals struct {
	Favorite  restaurant.FavoriteStatus `json:"favorite"`
	HasNotes  bool                      `json:"has_notes"`
	ViewCount int                       `json:"view_count"`
}

// SignalsProvider supplies Signals for a restaurant.
type SignalsProvider interface {
	SignalsFor(r restaurant.Restaurant) Signals
}

// SignalsFunc adapts a function to SignalsProvider.
type SignalsFunc func(r restaurant.Restaurant) Signals

// SignalsFor calls f.
func (f SignalsFunc) SignalsFor(r restaurant.Restaurant) Signals {
	return f(r)
}

// Tag names a signal that contributed to a score.
type Tag string

const (
	TagSafe             Tag = "SAFE"
	TagTry              Tag = "TRY"
	TagGlutenFree       Tag = "GLUTEN_FREE"
	TagTopRated         Tag = "TOP_RATED"
	TagVeryClose        Tag = "VERY_CLOSE"
	TagHasNotes         Tag = "HAS_NOTES"
	TagOpenNow          Tag = "OPEN_NOW"
	TagFrequentlyViewed Tag = "FREQUENTLY_VIEWED"
)

var displayNames = map[Tag]string{
	TagSafe:             "Marked safe",
	TagTry:              "Want to try",
	TagGlutenFree:       "Gluten-free options",
	TagTopRated:         "Top rated",
	TagVeryClose:        "Very close",
	TagHasNotes:         "You left notes",
	TagOpenNow:          "Open now",
	TagFrequentlyViewed: "Frequently viewed",
}

// DisplayName returns the human-readable label of t.
func (t Tag) DisplayName() string {
	if name, ok := displayNames[t]; ok {
		return name
	}
	return string(t)
}

// Fallback reasons used when no tag fired.
const (
	ReasonAvoid       = "Previously marked to avoid"
	ReasonHighlyRated = "Highly rated"
	ReasonGlutenFree  = "Has gluten-free options"
	ReasonNearby      = "Nearby restaurant"
)

const (
	baseline       = 50.0
	maxScore       = 100.0
	topRated       = 4.5
	veryClose      = 500.0
	frequentViews  = 2
	highlyRatedMin = 4.0
)

// Recommended is a scored restaurant.
type Recommended struct {
	Restaurant restaurant.Restaurant `json:"restaurant"`
	Score      float64               `json:"score"`
	Reason     string                `json:"reason"`
	Tags       []Tag                 `json:"tags"`
}

// Score computes a clamped score in [0, 100] and the reasons behind it.
func Score(r restaurant.Restaurant, s Signals) Recommended {
	score := baseline
	tags := make([]Tag, 0, 4)

	switch s.Favorite {
	case restaurant.FavoriteSafe:
		score += 40
		tags = append(tags, TagSafe)
	case restaurant.FavoriteTry:
		score += 15
		tags = append(tags, TagTry)
	case restaurant.FavoriteAvoid:
		score -= 60
	}

	if r.HasGlutenFreeOptions {
		score += 20
		tags = append(tags, TagGlutenFree)
	}

	if r.Rating != nil {
		score += (*r.Rating / 5) * 15
		if *r.Rating >= topRated {
			tags = append(tags, TagTopRated)
		}
	}

	score += distancePoints(r.DistanceMeters)
	if r.DistanceMeters < veryClose {
		tags = append(tags, TagVeryClose)
	}

	if s.HasNotes {
		score += 5
		tags = append(tags, TagHasNotes)
	}
	if r.OpenNow == restaurant.OpenYes {
		score += 5
		tags = append(tags, TagOpenNow)
	}
	if s.ViewCount >= frequentViews {
		score += 10
		tags = append(tags, TagFrequentlyViewed)
	}

	return Recommended{
		Restaurant: r,
		Score:      min(max(score, 0), maxScore),
		Reason:     reason(r, s, tags),
		Tags:       tags,
	}
}

func distancePoints(meters float64) float64 {
	switch {
	case meters < 500:
		return 15
	case meters < 1000:
		return 12
	case meters < 2000:
		return 10
	case meters < 5000:
		return 7
	case meters < 10000:
		return 3
	default:
		return 0
	}
}

func reason(r restaurant.Restaurant, s Signals, tags []Tag) string {
	if len(tags) > 0 {
		return tags[0].DisplayName()
	}
	switch {
	case s.Favorite == restaurant.FavoriteAvoid:
		return ReasonAvoid
	case r.Rating != nil && *r.Rating >= highlyRatedMin:
		return ReasonHighlyRated
	case r.HasGlutenFreeOptions:
		return ReasonGlutenFree
	default:
		return ReasonNearby
	}
}

// TopN scores every restaurant and returns the best limit of them, highest
// score first. Ties go to the closer restaurant, then by name. A limit <= 0
// returns all of them.
func TopN(restaurants []restaurant.Restaurant, provider SignalsProvider, limit int) []Recommended {
	out := make([]Recommended, 0, len(restaurants))
	for _, r := range restaurants {
		var s Signals
		if provider != nil {
			s = provider.SignalsFor(r)
		}
		out = append(out, Score(r, s))
	}
	slices.SortStableFunc(out, func(a, b Recommended) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.Restaurant.DistanceMeters, b.Restaurant.DistanceMeters),
			strings.Compare(strings.ToLower(a.Restaurant.Name), strings.ToLower(b.Restaurant.Name)),
		)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
