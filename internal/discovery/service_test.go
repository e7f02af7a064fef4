package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gf-menu-scanner/internal/annotations"
	"github.com/JakeFAU/gf-menu-scanner/internal/kv/memory"
	"github.com/JakeFAU/gf-menu-scanner/internal/places"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
	"github.com/JakeFAU/gf-menu-scanner/internal/snapshot"
	"github.com/JakeFAU/gf-menu-scanner/internal/store"
)

var anchor = restaurant.Location{Latitude: 40.7128, Longitude: -74.0060}

type fakeSearcher struct {
	mu         sync.Mutex
	candidates []restaurant.Candidate
	err        error
	calls      int
}

func (f *fakeSearcher) SearchNearby(_ context.Context, _ restaurant.Location, _ int) ([]restaurant.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type recordingScheduler struct {
	mu       sync.Mutex
	batches  [][]restaurant.Restaurant
	rescans  []restaurant.Key
	rescanFn func(restaurant.Key) error
}

func (r *recordingScheduler) ScheduleBatch(_ context.Context, list []restaurant.Restaurant) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, list)
	return len(list)
}

func (r *recordingScheduler) Rescan(_ context.Context, key restaurant.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rescans = append(r.rescans, key)
	if r.rescanFn != nil {
		return r.rescanFn(key)
	}
	return nil
}

type fixture struct {
	svc       *Service
	store     *store.Store
	kv        *memory.Store
	search    *fakeSearcher
	scheduler *recordingScheduler
}

func newFixture(t *testing.T, search *fakeSearcher) fixture {
	t.Helper()
	kv := memory.New()
	ann := annotations.New(kv, "test", nil)
	st := store.New(ann, nil)
	sched := &recordingScheduler{}
	svc := New(Config{SearchRadiusMeters: 1500}, st, search, snapshot.New(kv, "test", nil), sched, ann, nil)
	return fixture{svc: svc, store: st, kv: kv, search: search, scheduler: sched}
}

// gatedKV blocks the first armed write to key until release is closed.
type gatedKV struct {
	*memory.Store
	key     string
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedKV(key string) *gatedKV {
	return &gatedKV{Store: memory.New(), key: key, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedKV) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedKV) Set(ctx context.Context, key, value string) error {
	g.mu.Lock()
	block := g.armed && key == g.key
	if block {
		g.armed = false
	}
	g.mu.Unlock()
	if block {
		close(g.entered)
		<-g.release
	}
	return g.Store.Set(ctx, key, value)
}

func rating(v float64) *float64 { return &v }

func nearby() []restaurant.Candidate {
	return []restaurant.Candidate{
		{PlaceID: "p1", Name: "Celiac Corner", Address: "1 Main St", Latitude: 40.7130, Longitude: -74.0060, Rating: rating(4.6)},
		{PlaceID: "p2", Name: "Burger Barn", Address: "2 Main St", Latitude: 40.7200, Longitude: -74.0060},
	}
}

func TestRefreshWithoutAnchorRequiresPermission(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSearcher{candidates: nearby()})
	state := f.svc.Refresh(context.Background(), nil)

	require.Equal(t, restaurant.StatusPermissionRequired, state.Status)
	require.Equal(t, MsgLocationRequired, state.Message)
	require.Zero(t, f.search.calls)
}

func TestRefreshMissingCredential(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSearcher{err: places.ErrMissingCredential})
	state := f.svc.Refresh(context.Background(), &anchor)

	require.Equal(t, restaurant.StatusPermissionRequired, state.Status)
	require.Equal(t, MsgMissingAPIKey, state.Message)
}

func TestRefreshIngestsPersistsAndSchedules(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSearcher{candidates: nearby()})
	state := f.svc.Refresh(context.Background(), &anchor)

	require.Equal(t, restaurant.StatusSuccess, state.Status)
	require.Len(t, state.Restaurants, 2)
	require.Equal(t, "Celiac Corner", state.Restaurants[0].Name)
	require.True(t, state.Restaurants[0].HasGlutenFreeOptions)

	require.Len(t, f.scheduler.batches, 1)
	require.Len(t, f.scheduler.batches[0], 2)

	_, ok, err := f.kv.Get(context.Background(), "test:snapshot")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRefreshFailureWithoutCacheIsError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSearcher{err: errors.New("quota exceeded")})
	state := f.svc.Refresh(context.Background(), &anchor)

	require.Equal(t, restaurant.StatusError, state.Status)
	require.Equal(t, MsgSearchFailed, state.Message)
	require.Empty(t, state.Restaurants)
}

func TestRefreshFailureKeepsCachedList(t *testing.T) {
	t.Parallel()

	search := &fakeSearcher{candidates: nearby()}
	f := newFixture(t, search)
	f.svc.Refresh(context.Background(), &anchor)

	search.err = errors.New("network down")
	state := f.svc.Refresh(context.Background(), &anchor)

	require.Equal(t, restaurant.StatusSuccess, state.Status)
	require.Equal(t, MsgCachedFallback, state.Message)
	require.Len(t, state.Restaurants, 2)
}

func TestRefreshWarmStartsFromSnapshot(t *testing.T) {
	t.Parallel()

	// A first process saves a snapshot.
	first := newFixture(t, &fakeSearcher{candidates: nearby()})
	first.svc.Refresh(context.Background(), &anchor)

	// A second process sharing the KV cannot reach the provider.
	ann := annotations.New(first.kv, "test", nil)
	st := store.New(ann, nil)
	svc := New(Config{}, st, &fakeSearcher{err: errors.New("offline")}, snapshot.New(first.kv, "test", nil), nil, ann, nil)

	state := svc.Refresh(context.Background(), &anchor)
	require.Equal(t, MsgCachedFallback, state.Message)
	require.Len(t, state.Restaurants, 2)
	require.Equal(t, "Celiac Corner", state.Restaurants[0].Name)
}

func TestWarmStartMeasuresFromRequestAnchor(t *testing.T) {
	t.Parallel()

	first := newFixture(t, &fakeSearcher{candidates: nearby()})
	first.svc.Refresh(context.Background(), &anchor)

	moved := restaurant.Location{Latitude: 40.7300, Longitude: -74.0060}
	ann := annotations.New(first.kv, "test", nil)
	svc := New(Config{}, store.New(ann, nil), &fakeSearcher{err: errors.New("offline")}, snapshot.New(first.kv, "test", nil), nil, ann, nil)

	state := svc.Refresh(context.Background(), &moved)
	require.Len(t, state.Restaurants, 2)
	require.Equal(t, "Burger Barn", state.Restaurants[0].Name)
	want := restaurant.DistanceMeters(moved, restaurant.Location{Latitude: 40.7200, Longitude: -74.0060})
	require.InDelta(t, want, state.Restaurants[0].DistanceMeters, 1)
}

func TestSetFavoriteAndRecommendations(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSearcher{candidates: nearby()})
	f.svc.Refresh(context.Background(), &anchor)

	burger := restaurant.KeyFor("p2", "", "")
	r, err := f.svc.SetFavorite(context.Background(), burger, "SAFE")
	require.NoError(t, err)
	require.Equal(t, restaurant.FavoriteSafe, r.FavoriteStatus)

	_, err = f.svc.SetFavorite(context.Background(), burger, "maybe")
	require.ErrorIs(t, err, ErrInvalidFavorite)

	_, err = f.svc.SetFavorite(context.Background(), restaurant.KeyFor("nope", "", ""), "safe")
	require.ErrorIs(t, err, store.ErrNotFound)

	recs, err := f.svc.Recommendations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "Burger Barn", recs[0].Restaurant.Name)
}

func TestRecordViewCountsPerRestaurant(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSearcher{candidates: nearby()})
	f.svc.Refresh(context.Background(), &anchor)

	key := restaurant.KeyFor("p1", "", "")
	n, err := f.svc.RecordView(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = f.svc.RecordView(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = f.svc.RecordView(context.Background(), restaurant.KeyFor("ghost", "", ""))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequestRescan(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSearcher{candidates: nearby()})
	f.svc.Refresh(context.Background(), &anchor)

	key := restaurant.KeyFor("p1", "", "")
	require.NoError(t, f.svc.RequestRescan(context.Background(), key))
	require.Equal(t, []restaurant.Key{key}, f.scheduler.rescans)

	require.ErrorIs(t, f.svc.RequestRescan(context.Background(), restaurant.KeyFor("ghost", "", "")), store.ErrNotFound)
}

func TestAddNoteRejectsBlank(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSearcher{candidates: nearby()})
	f.svc.Refresh(context.Background(), &anchor)

	key := restaurant.KeyFor("p1", "", "")
	r, err := f.svc.AddNote(context.Background(), key, "  dedicated fryer  ")
	require.NoError(t, err)
	require.Equal(t, []string{"dedicated fryer"}, r.CrowdNotes)

	_, err = f.svc.AddNote(context.Background(), key, "   ")
	require.ErrorIs(t, err, store.ErrEmptyNote)
}

func TestSetFilterRejectsUnknownSort(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSearcher{candidates: nearby()})
	f.svc.Refresh(context.Background(), &anchor)

	state, err := f.svc.SetFilter(restaurant.Filter{GlutenFreeOnly: true})
	require.NoError(t, err)
	require.Len(t, state.Restaurants, 1)

	_, err = f.svc.SetFilter(restaurant.Filter{Sort: "RANDOM"})
	require.Error(t, err)
}

func TestConcurrentPersistKeepsNewestList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := newGatedKV("test:snapshot")
	ann := annotations.New(kv, "test", nil)
	st := store.New(ann, nil)
	svc := New(Config{}, st, &fakeSearcher{candidates: nearby()}, snapshot.New(kv, "test", nil), nil, ann, nil)
	svc.Refresh(ctx, &anchor)

	apply := func(placeID, evidence string) restaurant.Restaurant {
		key := restaurant.KeyFor(placeID, "", "")
		ticket, _, ok := st.BeginScan(key, nil)
		require.True(t, ok)
		r, applied := st.ApplyScan(key, ticket, restaurant.ScanOutcome{
			Status:    restaurant.ScanSuccess,
			Evidence:  []string{evidence},
			Timestamp: 1_700_000_000_000,
		})
		require.True(t, applied)
		return r
	}

	kv.arm()
	var wg sync.WaitGroup
	first := apply("p1", "Gluten free pasta")
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.OnScanApplied(ctx, first)
	}()
	<-kv.entered

	second := apply("p2", "GF buns on request")
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.OnScanApplied(ctx, second)
	}()

	close(kv.release)
	wg.Wait()

	snap, ok := snapshot.New(kv.Store, "test", nil).Load(ctx)
	require.True(t, ok)
	require.Len(t, snap.Restaurants, 2)
	for _, r := range snap.Restaurants {
		require.Equal(t, restaurant.ScanSuccess, r.MenuScanStatus, r.Name)
		require.Len(t, r.GlutenFreeMenuItems, 1, r.Name)
	}
}
