package restaurant

// UiStatus is the coarse status of the projected restaurant list.
type UiStatus string

const (
	StatusIdle               UiStatus = "IDLE"
	StatusLoading            UiStatus = "LOADING"
	StatusSuccess            UiStatus = "SUCCESS"
	StatusPermissionRequired UiStatus = "PERMISSION_REQUIRED"
	StatusError              UiStatus = "ERROR"
)

// SortMode selects the projection ordering.
type SortMode string

const (
	SortDistance SortMode = "DISTANCE"
	SortName     SortMode = "NAME"
)

// Filter holds the user's filter and sort preferences. Zero values of
// MaxDistanceMeters and MinRating mean unlimited.
type Filter struct {
	GlutenFreeOnly    bool     `json:"gf_only"`
	OpenNowOnly       bool     `json:"open_now_only"`
	MaxDistanceMeters float64  `json:"max_distance_meters"`
	MinRating         float64  `json:"min_rating"`
	Sort              SortMode `json:"sort"`
}

// Matches applies the four filter predicates with AND semantics.
func (f Filter) Matches(r Restaurant) bool {
	if f.GlutenFreeOnly && !r.HasGlutenFreeOptions {
		return false
	}
	if f.OpenNowOnly && r.OpenNow != OpenYes {
		return false
	}
	if f.MaxDistanceMeters > 0 && r.DistanceMeters > f.MaxDistanceMeters {
		return false
	}
	if f.MinRating > 0 && (r.Rating == nil || *r.Rating < f.MinRating) {
		return false
	}
	return true
}

// UiState is an immutable snapshot handed to the presentation layer.
type UiState struct {
	Status      UiStatus     `json:"status"`
	Restaurants []Restaurant `json:"restaurants"`
	Message     string       `json:"message,omitempty"`
	Anchor      *Location    `json:"anchor,omitempty"`
	Filter      Filter       `json:"filter"`
}
