package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gf-menu-scanner/internal/publisher/memory"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
	"github.com/JakeFAU/gf-menu-scanner/internal/store"
)

var now = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("evt-%d", g.n.Add(1)), nil
}

// gatedScanner blocks every scan until release is closed and numbers the
// outcomes it returns.
type gatedScanner struct {
	release chan struct{}
	calls   atomic.Int64
	started chan string
}

func newGatedScanner() *gatedScanner {
	return &gatedScanner{release: make(chan struct{}), started: make(chan string, 64)}
}

func (g *gatedScanner) Scan(ctx context.Context, r restaurant.Restaurant) restaurant.ScanOutcome {
	n := g.calls.Add(1)
	g.started <- r.PlaceID
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return restaurant.ScanOutcome{
		Status:    restaurant.ScanSuccess,
		Evidence:  []string{"gluten free item"},
		Timestamp: now.UnixMilli() + n,
	}
}

func seededStore(t *testing.T, candidates []restaurant.Candidate) *store.Store {
	t.Helper()
	s := store.New(nil, nil)
	s.Ingest(context.Background(), candidates, restaurant.Location{Latitude: 1, Longitude: 1})
	return s
}

func waitScans(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestEligible(t *testing.T) {
	t.Parallel()

	s := New(Config{TTL: 72 * time.Hour}, nil, nil)
	ms := func(d time.Duration) int64 { return now.Add(-d).UnixMilli() }

	tests := []struct {
		name string
		r    restaurant.Restaurant
		want bool
	}{
		{name: "never scanned", r: restaurant.Restaurant{PlaceID: "a", MenuScanStatus: restaurant.ScanNotStarted}, want: true},
		{name: "no place id", r: restaurant.Restaurant{MenuScanStatus: restaurant.ScanNotStarted}, want: false},
		{name: "fetching", r: restaurant.Restaurant{PlaceID: "a", MenuScanStatus: restaurant.ScanFetching}, want: false},
		{name: "fresh success", r: restaurant.Restaurant{PlaceID: "a", MenuScanStatus: restaurant.ScanSuccess, MenuScanTimestamp: ms(24 * time.Hour)}, want: false},
		{name: "fresh failure", r: restaurant.Restaurant{PlaceID: "a", MenuScanStatus: restaurant.ScanFailed, MenuScanTimestamp: ms(time.Hour)}, want: false},
		{name: "stale success", r: restaurant.Restaurant{PlaceID: "a", MenuScanStatus: restaurant.ScanSuccess, MenuScanTimestamp: ms(73 * time.Hour)}, want: true},
		{name: "status without timestamp", r: restaurant.Restaurant{PlaceID: "a", MenuScanStatus: restaurant.ScanNoWebsite}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, s.Eligible(tt.r, now))
		})
	}
}

func TestScheduleBatchIsIdempotentWhileFetching(t *testing.T) {
	t.Parallel()

	st := seededStore(t, []restaurant.Candidate{{PlaceID: "a", Name: "A"}})
	scanner := newGatedScanner()
	s := New(Config{}, st, scanner, WithClock(fixedClock{now}))

	list, _ := st.Snapshot()
	require.Equal(t, 1, s.ScheduleBatch(context.Background(), list))
	require.Equal(t, 0, s.ScheduleBatch(context.Background(), list), "stale copy must not relaunch")
	fresh, _ := st.Snapshot()
	require.Equal(t, 0, s.ScheduleBatch(context.Background(), fresh))

	close(scanner.release)
	waitScans(t, s)
	require.Equal(t, int64(1), scanner.calls.Load())

	r, _ := st.Lookup(restaurant.KeyFor("a", "", ""))
	require.Equal(t, restaurant.ScanSuccess, r.MenuScanStatus)
	require.True(t, r.HasGlutenFreeOptions)
}

func TestScheduleBatchCapsConcurrentScans(t *testing.T) {
	t.Parallel()

	candidates := make([]restaurant.Candidate, 0, 7)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		candidates = append(candidates, restaurant.Candidate{PlaceID: id, Name: id})
	}
	candidates = append(candidates, restaurant.Candidate{Name: "no id", Address: "x"})
	st := seededStore(t, candidates)
	scanner := newGatedScanner()
	s := New(Config{BatchLimit: 5}, st, scanner, WithClock(fixedClock{now}))

	list, _ := st.Snapshot()
	require.Equal(t, 5, s.ScheduleBatch(context.Background(), list))
	require.Equal(t, 5, s.InFlight())
	require.Equal(t, 0, s.ScheduleBatch(context.Background(), list), "no free slots")

	close(scanner.release)
	waitScans(t, s)
	require.Equal(t, 0, s.InFlight())

	list, _ = st.Snapshot()
	require.Equal(t, 2, s.ScheduleBatch(context.Background(), list))
	waitScans(t, s)

	list, _ = st.Snapshot()
	for _, r := range list {
		if r.PlaceID == "" {
			require.Equal(t, restaurant.ScanNotStarted, r.MenuScanStatus)
			continue
		}
		require.Equal(t, restaurant.ScanSuccess, r.MenuScanStatus)
	}
}

func TestScheduleBatchRespectsTTL(t *testing.T) {
	t.Parallel()

	st := seededStore(t, []restaurant.Candidate{{PlaceID: "a", Name: "A"}})
	scanner := newGatedScanner()
	close(scanner.release)
	s := New(Config{TTL: 72 * time.Hour}, st, scanner, WithClock(fixedClock{now}))

	list, _ := st.Snapshot()
	require.Equal(t, 1, s.ScheduleBatch(context.Background(), list))
	waitScans(t, s)

	list, _ = st.Snapshot()
	require.Equal(t, 0, s.ScheduleBatch(context.Background(), list))

	later := New(Config{TTL: 72 * time.Hour}, st, scanner, WithClock(fixedClock{now.Add(73 * time.Hour)}))
	require.Equal(t, 1, later.ScheduleBatch(context.Background(), list))
	waitScans(t, later)
}

func TestRescanSupersedesInFlightScan(t *testing.T) {
	t.Parallel()

	st := seededStore(t, []restaurant.Candidate{{PlaceID: "a", Name: "A"}})
	scanner := newGatedScanner()
	pub := memory.New()
	ids := &seqIDs{}
	s := New(Config{Topic: "scans"}, st, scanner, WithClock(fixedClock{now}), WithPublisher(pub, ids))

	list, _ := st.Snapshot()
	require.Equal(t, 1, s.ScheduleBatch(context.Background(), list))
	<-scanner.started
	require.NoError(t, s.Rescan(context.Background(), restaurant.KeyFor("a", "", "")))
	<-scanner.started

	close(scanner.release)
	waitScans(t, s)

	msgs := pub.Messages()
	require.Len(t, msgs, 1, "only the newest outcome lands")
	require.Equal(t, "scans", msgs[0].Topic)
	evt, ok := msgs[0].Payload.(ScanEvent)
	require.True(t, ok)
	require.Equal(t, "a", evt.PlaceID)
	require.Equal(t, restaurant.ScanSuccess, evt.Status)
	require.NotEmpty(t, evt.EventID)

	r, _ := st.Lookup(restaurant.KeyFor("a", "", ""))
	require.Equal(t, evt.Timestamp, r.MenuScanTimestamp)
}

func TestRescanUnknownKey(t *testing.T) {
	t.Parallel()

	st := seededStore(t, nil)
	s := New(Config{}, st, newGatedScanner())
	require.ErrorIs(t, s.Rescan(context.Background(), restaurant.KeyFor("zzz", "", "")), ErrUnknownRestaurant)
}

func TestScansSurviveCallerCancellation(t *testing.T) {
	t.Parallel()

	st := seededStore(t, []restaurant.Candidate{{PlaceID: "a", Name: "A"}})
	scanner := newGatedScanner()
	s := New(Config{ScanTimeout: 5 * time.Second}, st, scanner, WithClock(fixedClock{now}))

	ctx, cancel := context.WithCancel(context.Background())
	list, _ := st.Snapshot()
	require.Equal(t, 1, s.ScheduleBatch(ctx, list))
	<-scanner.started
	cancel()

	close(scanner.release)
	waitScans(t, s)

	r, _ := st.Lookup(restaurant.KeyFor("a", "", ""))
	require.Equal(t, restaurant.ScanSuccess, r.MenuScanStatus)
}

func TestOnAppliedReceivesUpdatedRestaurant(t *testing.T) {
	t.Parallel()

	st := seededStore(t, []restaurant.Candidate{{PlaceID: "a", Name: "A"}})
	scanner := newGatedScanner()
	applied := make(chan restaurant.Restaurant, 1)
	s := New(Config{}, st, scanner, WithClock(fixedClock{now}), WithOnApplied(func(_ context.Context, r restaurant.Restaurant) {
		applied <- r
	}))

	list, _ := st.Snapshot()
	require.Equal(t, 1, s.ScheduleBatch(context.Background(), list))
	close(scanner.release)
	waitScans(t, s)

	got := <-applied
	require.Equal(t, "a", got.PlaceID)
	require.Equal(t, restaurant.ScanSuccess, got.MenuScanStatus)
}
