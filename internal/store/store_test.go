package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

var anchor = restaurant.Location{Latitude: 40.0, Longitude: -75.0}

func ptr[T any](v T) *T { return &v }

type fakeAnnotations struct {
	mu        sync.Mutex
	favorites map[string]restaurant.FavoriteStatus
	notes     map[string][]string
	err       error
}

func newFakeAnnotations() *fakeAnnotations {
	return &fakeAnnotations{
		favorites: map[string]restaurant.FavoriteStatus{},
		notes:     map[string][]string{},
	}
}

func (f *fakeAnnotations) Favorites(context.Context) (map[string]restaurant.FavoriteStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]restaurant.FavoriteStatus, len(f.favorites))
	for k, v := range f.favorites {
		out[k] = v
	}
	return out, f.err
}

func (f *fakeAnnotations) Notes(context.Context) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]string, len(f.notes))
	for k, v := range f.notes {
		out[k] = append([]string(nil), v...)
	}
	return out, f.err
}

func (f *fakeAnnotations) SetFavorite(_ context.Context, key restaurant.Key, status restaurant.FavoriteStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.favorites[key.String()] = status
	return f.err
}

func (f *fakeAnnotations) AddNote(_ context.Context, key restaurant.Key, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[key.String()] = append(f.notes[key.String()], note)
	return f.err
}

func mixedCandidates() []restaurant.Candidate {
	return []restaurant.Candidate{
		{PlaceID: "p1", Name: "Gluten Free Bakery", Latitude: 40.010, Longitude: -75.0, Rating: ptr(4.6), OpenNow: ptr(true)},
		{PlaceID: "p2", Name: "celiac corner", Latitude: 40.002, Longitude: -75.0, Rating: ptr(3.9)},
		{PlaceID: "p3", Name: "Burger Barn", Latitude: 40.001, Longitude: -75.0, Rating: ptr(4.8)},
		{Name: "GF Diner", Address: "9 Elm", Latitude: 40.005, Longitude: -75.0},
		{PlaceID: "p5", Name: "Apple Gluten-Free Cafe", Latitude: 40.020, Longitude: -75.0, Rating: ptr(4.0), OpenNow: ptr(false)},
	}
}

func names(list []restaurant.Restaurant) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.Name)
	}
	return out
}

func TestNewStoreIsIdle(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	st := s.State()
	require.Equal(t, restaurant.StatusIdle, st.Status)
	require.Empty(t, st.Restaurants)
	require.False(t, s.HasData())
}

func TestIngestComputesDistanceAndSortsByDistance(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Ingest(context.Background(), mixedCandidates(), anchor)

	st := s.State()
	require.Equal(t, restaurant.StatusSuccess, st.Status)
	require.Equal(t, []string{"Burger Barn", "celiac corner", "GF Diner", "Gluten Free Bakery", "Apple Gluten-Free Cafe"}, names(st.Restaurants))
	require.InDelta(t, 111.2, st.Restaurants[0].DistanceMeters, 1.0)
	require.NotNil(t, st.Anchor)
	require.Equal(t, anchor, *st.Anchor)
}

func TestFilterGlutenFreeAndMinRating(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Ingest(context.Background(), mixedCandidates(), anchor)
	require.NoError(t, s.SetFilter(restaurant.Filter{GlutenFreeOnly: true, MinRating: 4.0, Sort: restaurant.SortName}))

	st := s.State()
	require.Equal(t, restaurant.StatusSuccess, st.Status)
	require.Equal(t, []string{"Apple Gluten-Free Cafe", "Gluten Free Bakery"}, names(st.Restaurants))
	for _, r := range st.Restaurants {
		require.True(t, r.HasGlutenFreeOptions)
		require.GreaterOrEqual(t, *r.Rating, 4.0)
	}
}

func TestFilterOpenNowAndDistance(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Ingest(context.Background(), mixedCandidates(), anchor)

	require.NoError(t, s.SetFilter(restaurant.Filter{OpenNowOnly: true}))
	require.Equal(t, []string{"Gluten Free Bakery"}, names(s.State().Restaurants))

	require.NoError(t, s.SetFilter(restaurant.Filter{MaxDistanceMeters: 300}))
	require.Equal(t, []string{"Burger Barn", "celiac corner"}, names(s.State().Restaurants))
}

func TestEmptyProjectionIsError(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Ingest(context.Background(), mixedCandidates(), anchor)
	require.NoError(t, s.SetFilter(restaurant.Filter{MinRating: 5}))

	st := s.State()
	require.Equal(t, restaurant.StatusError, st.Status)
	require.Equal(t, NoResultsMessage, st.Message)
	require.Empty(t, st.Restaurants)

	s.Ingest(context.Background(), nil, anchor)
	require.Equal(t, restaurant.StatusError, s.State().Status)
}

func TestSetFilterRejectsUnknownSort(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	require.Error(t, s.SetFilter(restaurant.Filter{Sort: "RATING"}))
	require.Error(t, s.SetFilter(restaurant.Filter{MinRating: 6}))
	require.NoError(t, s.SetFilter(restaurant.Filter{}))
	require.Equal(t, restaurant.SortDistance, s.State().Filter.Sort)
}

func TestIngestDeduplicatesByMergeKey(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Ingest(context.Background(), []restaurant.Candidate{
		{PlaceID: "p1", Name: "First"},
		{PlaceID: "p1", Name: "Second"},
		{Name: "Twin", Address: "1 Road"},
		{Name: "Twin", Address: "1 Road"},
		{PlaceID: "p9", Name: "Twin", Address: "1 Road"},
	}, anchor)

	list, _ := s.Snapshot()
	require.Len(t, list, 3)
	r, ok := s.Lookup(restaurant.KeyFor("p1", "", ""))
	require.True(t, ok)
	require.Equal(t, "First", r.Name)
}

func TestIngestCarriesScanFieldsAcrossRefresh(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Ingest(context.Background(), []restaurant.Candidate{{PlaceID: "p3", Name: "Burger Barn"}}, anchor)
	key := restaurant.KeyFor("p3", "", "")

	ticket, _, ok := s.BeginScan(key, nil)
	require.True(t, ok)
	_, applied := s.ApplyScan(key, ticket, restaurant.ScanOutcome{
		Status:    restaurant.ScanSuccess,
		MenuURL:   "https://barn.example/menu",
		Evidence:  []string{"GF buns available"},
		Timestamp: 1000,
	})
	require.True(t, applied)

	s.Ingest(context.Background(), []restaurant.Candidate{{PlaceID: "p3", Name: "Burger Barn (renamed)"}}, anchor)
	r, ok := s.Lookup(key)
	require.True(t, ok)
	require.Equal(t, "Burger Barn (renamed)", r.Name)
	require.Equal(t, restaurant.ScanSuccess, r.MenuScanStatus)
	require.Equal(t, int64(1000), r.MenuScanTimestamp)
	require.Equal(t, "https://barn.example/menu", r.MenuURL)
	require.Equal(t, []string{"GF buns available"}, r.GlutenFreeMenuItems)
	require.True(t, r.HasGlutenFreeOptions)
}

func TestBeginScanGateAndTickets(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Ingest(context.Background(), []restaurant.Candidate{{PlaceID: "p1", Name: "Cafe"}}, anchor)
	key := restaurant.KeyFor("p1", "", "")
	notFetching := func(r restaurant.Restaurant) bool { return r.MenuScanStatus != restaurant.ScanFetching }

	first, target, ok := s.BeginScan(key, notFetching)
	require.True(t, ok)
	require.Equal(t, restaurant.ScanFetching, target.MenuScanStatus)

	_, _, ok = s.BeginScan(key, notFetching)
	require.False(t, ok, "second gated pass must see FETCHING")

	second, _, ok := s.BeginScan(key, nil)
	require.True(t, ok)
	require.Greater(t, second, first)

	_, applied := s.ApplyScan(key, first, restaurant.ScanOutcome{Status: restaurant.ScanFailed, Timestamp: 1})
	require.False(t, applied, "superseded outcome must be dropped")
	r, _ := s.Lookup(key)
	require.Equal(t, restaurant.ScanFetching, r.MenuScanStatus)

	updated, applied := s.ApplyScan(key, second, restaurant.ScanOutcome{Status: restaurant.ScanNoWebsite, Timestamp: 2})
	require.True(t, applied)
	require.Equal(t, restaurant.ScanNoWebsite, updated.MenuScanStatus)
	require.Equal(t, int64(2), updated.MenuScanTimestamp)

	_, applied = s.ApplyScan(key, second, restaurant.ScanOutcome{Status: restaurant.ScanFailed, Timestamp: 3})
	require.False(t, applied)

	_, _, ok = s.BeginScan(restaurant.KeyFor("missing", "", ""), nil)
	require.False(t, ok)
}

func TestApplyScanAfterRestaurantDisappears(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Ingest(context.Background(), []restaurant.Candidate{{PlaceID: "p1", Name: "Cafe"}}, anchor)
	key := restaurant.KeyFor("p1", "", "")
	ticket, _, ok := s.BeginScan(key, nil)
	require.True(t, ok)

	s.Ingest(context.Background(), []restaurant.Candidate{{PlaceID: "p2", Name: "Other"}}, anchor)
	_, applied := s.ApplyScan(key, ticket, restaurant.ScanOutcome{Status: restaurant.ScanSuccess, Timestamp: 1})
	require.False(t, applied)
}

func TestFavoritesAndNotesPersistAndReapply(t *testing.T) {
	t.Parallel()

	ann := newFakeAnnotations()
	s := New(ann, nil)
	ctx := context.Background()
	s.Ingest(ctx, mixedCandidates(), anchor)

	key := restaurant.KeyFor("", "GF Diner", "9 Elm")
	r, err := s.SetFavorite(ctx, key, restaurant.FavoriteSafe)
	require.NoError(t, err)
	require.Equal(t, restaurant.FavoriteSafe, r.FavoriteStatus)

	r, err = s.AddNote(ctx, key, "  staff knew about cross contact  ")
	require.NoError(t, err)
	require.Equal(t, []string{"staff knew about cross contact"}, r.CrowdNotes)

	_, err = s.AddNote(ctx, key, "   ")
	require.ErrorIs(t, err, ErrEmptyNote)
	_, err = s.SetFavorite(ctx, restaurant.KeyFor("nope", "", ""), restaurant.FavoriteTry)
	require.ErrorIs(t, err, ErrNotFound)

	fresh := New(ann, nil)
	fresh.Ingest(ctx, mixedCandidates(), anchor)
	r, ok := fresh.Lookup(key)
	require.True(t, ok)
	require.Equal(t, restaurant.FavoriteSafe, r.FavoriteStatus)
	require.Equal(t, []string{"staff knew about cross contact"}, r.CrowdNotes)
}

func TestSetFavoriteReportsPersistError(t *testing.T) {
	t.Parallel()

	ann := newFakeAnnotations()
	s := New(ann, nil)
	s.Ingest(context.Background(), mixedCandidates(), anchor)
	ann.err = errors.New("kv down")

	r, err := s.SetFavorite(context.Background(), restaurant.KeyFor("p1", "", ""), restaurant.FavoriteAvoid)
	require.Error(t, err)
	require.Equal(t, restaurant.FavoriteAvoid, r.FavoriteStatus)
}

func TestRestoreNormalizesFetching(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Restore(context.Background(), []restaurant.Restaurant{
		{PlaceID: "p1", Name: "Cafe", MenuScanStatus: restaurant.ScanFetching, MenuScanTimestamp: 5},
		{PlaceID: "p2", Name: "Diner", MenuScanStatus: restaurant.ScanSuccess, MenuScanTimestamp: 7},
	}, anchor, "Showing saved results")

	st := s.State()
	require.Equal(t, restaurant.StatusSuccess, st.Status)
	require.Equal(t, "Showing saved results", st.Message)
	r, _ := s.Lookup(restaurant.KeyFor("p1", "", ""))
	require.Equal(t, restaurant.ScanNotStarted, r.MenuScanStatus)
	r, _ = s.Lookup(restaurant.KeyFor("p2", "", ""))
	require.Equal(t, restaurant.ScanSuccess, r.MenuScanStatus)
	require.Equal(t, restaurant.FavoriteNone, r.FavoriteStatus)
}

func TestSetStatusOverridesUntilIngest(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.SetStatus(restaurant.StatusPermissionRequired, "Location permission required")
	require.Equal(t, restaurant.StatusPermissionRequired, s.State().Status)

	s.Ingest(context.Background(), mixedCandidates(), anchor)
	require.Equal(t, restaurant.StatusSuccess, s.State().Status)
	require.Empty(t, s.State().Message)

	s.SetStatus("", "Showing cached results; refresh failed")
	st := s.State()
	require.Equal(t, restaurant.StatusSuccess, st.Status)
	require.Equal(t, "Showing cached results; refresh failed", st.Message)
}

func TestSubscribeReceivesLatestState(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	ch, cancel := s.Subscribe()
	defer cancel()

	require.Equal(t, restaurant.StatusIdle, (<-ch).Status)

	s.SetStatus(restaurant.StatusLoading, "")
	s.Ingest(context.Background(), mixedCandidates(), anchor)

	latest := <-ch
	require.Equal(t, restaurant.StatusSuccess, latest.Status)
	require.Len(t, latest.Restaurants, 5)

	cancel()
	_, open := <-ch
	require.False(t, open)
	cancel()
}

func TestConcurrentScanApplication(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	s.Ingest(context.Background(), mixedCandidates(), anchor)
	list, _ := s.Snapshot()

	var wg sync.WaitGroup
	for _, r := range list {
		key := r.Key()
		ticket, _, ok := s.BeginScan(key, nil)
		require.True(t, ok)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ApplyScan(key, ticket, restaurant.ScanOutcome{Status: restaurant.ScanSuccess, Timestamp: 42})
		}()
	}
	wg.Wait()

	after, _ := s.Snapshot()
	for _, r := range after {
		require.Equal(t, restaurant.ScanSuccess, r.MenuScanStatus)
		require.Equal(t, int64(42), r.MenuScanTimestamp)
	}
}
