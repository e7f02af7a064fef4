package recommend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

func rating(v float64) *float64 { return &v }

func TestScoreBaselineWithDistanceOnly(t *testing.T) {
	t.Parallel()

	r := restaurant.Restaurant{PlaceID: "abc", Name: "Corner Cafe", DistanceMeters: 1200, FavoriteStatus: restaurant.FavoriteNone}
	got := Score(r, Signals{Favorite: restaurant.FavoriteNone})

	require.InDelta(t, 60.0, got.Score, 1e-9)
	require.Empty(t, got.Tags)
	require.Equal(t, ReasonNearby, got.Reason)

	r.HasGlutenFreeOptions = true
	got = Score(r, Signals{})
	require.InDelta(t, 80.0, got.Score, 1e-9)
	require.Equal(t, []Tag{TagGlutenFree}, got.Tags)
	require.Equal(t, "Gluten-free options", got.Reason)
}

func TestScoreEveryContribution(t *testing.T) {
	t.Parallel()

	r := restaurant.Restaurant{
		Name:                 "Safe Place",
		HasGlutenFreeOptions: true,
		Rating:               rating(5),
		DistanceMeters:       100,
		OpenNow:              restaurant.OpenYes,
	}
	got := Score(r, Signals{Favorite: restaurant.FavoriteSafe, HasNotes: true, ViewCount: 3})

	require.InDelta(t, 100.0, got.Score, 1e-9, "clamped from 160")
	require.Equal(t, []Tag{TagSafe, TagGlutenFree, TagTopRated, TagVeryClose, TagHasNotes, TagOpenNow, TagFrequentlyViewed}, got.Tags)
	require.Equal(t, "Marked safe", got.Reason)
}

func TestScoreDistanceSteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		meters float64
		want   float64
	}{
		{0, 65}, {499, 65}, {500, 62}, {999, 62}, {1000, 60}, {1999, 60},
		{2000, 57}, {4999, 57}, {5000, 53}, {9999, 53}, {10000, 50}, {25000, 50},
	}
	for _, tt := range tests {
		got := Score(restaurant.Restaurant{DistanceMeters: tt.meters}, Signals{})
		require.InDelta(t, tt.want, got.Score, 1e-9, "distance %v", tt.meters)
	}
}

func TestScoreFallbackReasons(t *testing.T) {
	t.Parallel()

	far := 20000.0
	tests := []struct {
		name    string
		r       restaurant.Restaurant
		signals Signals
		want    string
	}{
		{name: "avoid", r: restaurant.Restaurant{DistanceMeters: far}, signals: Signals{Favorite: restaurant.FavoriteAvoid}, want: ReasonAvoid},
		{name: "avoid beats rating", r: restaurant.Restaurant{DistanceMeters: far, Rating: rating(4.2)}, signals: Signals{Favorite: restaurant.FavoriteAvoid}, want: ReasonAvoid},
		{name: "highly rated", r: restaurant.Restaurant{DistanceMeters: far, Rating: rating(4.2)}, want: ReasonHighlyRated},
		{name: "nearby", r: restaurant.Restaurant{DistanceMeters: far, Rating: rating(3.0)}, want: ReasonNearby},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Score(tt.r, tt.signals).Reason)
		})
	}
}

func TestScoreClampedToRange(t *testing.T) {
	t.Parallel()

	favorites := []restaurant.FavoriteStatus{restaurant.FavoriteNone, restaurant.FavoriteSafe, restaurant.FavoriteTry, restaurant.FavoriteAvoid}
	ratings := []*float64{nil, rating(0), rating(2.5), rating(5)}
	distances := []float64{0, 750, 3000, 50000}
	for _, f := range favorites {
		for _, rt := range ratings {
			for _, d := range distances {
				for _, gf := range []bool{false, true} {
					for _, views := range []int{0, 5} {
						r := restaurant.Restaurant{Rating: rt, DistanceMeters: d, HasGlutenFreeOptions: gf, OpenNow: restaurant.OpenYes}
						got := Score(r, Signals{Favorite: f, HasNotes: gf, ViewCount: views})
						require.GreaterOrEqual(t, got.Score, 0.0)
						require.LessOrEqual(t, got.Score, 100.0)
					}
				}
			}
		}
	}

	worst := Score(restaurant.Restaurant{DistanceMeters: 50000}, Signals{Favorite: restaurant.FavoriteAvoid})
	require.InDelta(t, 0.0, worst.Score, 1e-9)
}

func TestTopN(t *testing.T) {
	t.Parallel()

	list := []restaurant.Restaurant{
		{PlaceID: "a", Name: "Avoided", DistanceMeters: 100},
		{PlaceID: "b", Name: "Beta", DistanceMeters: 3000},
		{PlaceID: "c", Name: "Celiac Kitchen", DistanceMeters: 3000, HasGlutenFreeOptions: true},
		{PlaceID: "d", Name: "Alpha", DistanceMeters: 3000},
	}
	provider := SignalsFunc(func(r restaurant.Restaurant) Signals {
		if r.PlaceID == "a" {
			return Signals{Favorite: restaurant.FavoriteAvoid}
		}
		return Signals{}
	})

	top := TopN(list, provider, 3)
	require.Len(t, top, 3)
	require.Equal(t, "Celiac Kitchen", top[0].Restaurant.Name)
	require.Equal(t, "Alpha", top[1].Restaurant.Name)
	require.Equal(t, "Beta", top[2].Restaurant.Name)

	all := TopN(list, nil, 0)
	require.Len(t, all, 4)
	require.Empty(t, TopN(nil, provider, 5))
}
