// Package discovery drives the restaurant list: it searches around an
// anchor, falls back to the cached snapshot, and kicks off menu scans.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/places"
	"github.com/JakeFAU/gf-menu-scanner/internal/recommend"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
	"github.com/JakeFAU/gf-menu-scanner/internal/snapshot"
	"github.com/JakeFAU/gf-menu-scanner/internal/store"
)

// User-facing messages.
const (
	MsgLocationRequired = "Location permission required"
	MsgMissingAPIKey    = "Places API key is not configured"
	MsgCachedFallback   = "Showing cached results; refresh failed"
	MsgSearchFailed     = "Unable to load nearby restaurants"
)

const defaultSearchRadius = 5000

// ErrInvalidFavorite is returned for an unknown favorite status.
var ErrInvalidFavorite = errors.New("invalid favorite status")

// Snapshots persists the raw list between runs.
type Snapshots interface {
	Save(ctx context.Context, restaurants []restaurant.Restaurant, anchor restaurant.Location) error
	Load(ctx context.Context) (snapshot.Snapshot, bool)
}

// Scheduler launches menu scans.
type Scheduler interface {
	ScheduleBatch(ctx context.Context, restaurants []restaurant.Restaurant) int
	Rescan(ctx context.Context, key restaurant.Key) error
}

// Annotations exposes view counts and scoring signals.
type Annotations interface {
	RecordView(ctx context.Context, key restaurant.Key) (int, error)
	Signals(ctx context.Context) (recommend.SignalsProvider, error)
}

// Config tunes the service.
type Config struct {
	SearchRadiusMeters int
}

// Service coordinates the store with its collaborators.
type Service struct {
	cfg         Config
	store       *store.Store
	search      restaurant.PlaceSearcher
	snapshots   Snapshots
	scheduler   Scheduler
	annotations Annotations
	logger      *zap.Logger

	// persistMu orders snapshot-then-save so an older copy never lands last.
	persistMu sync.Mutex
}

// New constructs a Service. snapshots, scheduler, and annotations may be nil.
func New(
	cfg Config,
	st *store.Store,
	search restaurant.PlaceSearcher,
	snapshots Snapshots,
	scheduler Scheduler,
	annotations Annotations,
	logger *zap.Logger,
) *Service {
	if cfg.SearchRadiusMeters <= 0 {
		cfg.SearchRadiusMeters = defaultSearchRadius
	}
	return &Service{
		cfg:         cfg,
		store:       st,
		search:      search,
		snapshots:   snapshots,
		scheduler:   scheduler,
		annotations: annotations,
		logger:      logging.OrNop(logger),
	}
}

// Refresh reloads the list around anchor and returns the resulting state.
// Search failures never clear a list that is already shown.
func (s *Service) Refresh(ctx context.Context, anchor *restaurant.Location) restaurant.UiState {
	if anchor == nil || !anchor.Valid() {
		s.store.SetStatus(restaurant.StatusPermissionRequired, MsgLocationRequired)
		return s.store.State()
	}
	s.warmStart(ctx, *anchor)

	s.store.SetStatus(restaurant.StatusLoading, "")
	candidates, err := s.search.SearchNearby(ctx, *anchor, s.cfg.SearchRadiusMeters)
	switch {
	case errors.Is(err, places.ErrMissingCredential):
		s.store.SetStatus(restaurant.StatusPermissionRequired, MsgMissingAPIKey)
		return s.store.State()
	case err != nil && s.store.HasData():
		s.logger.Warn("nearby search failed, keeping cached list", zap.Error(err))
		s.store.SetStatus("", MsgCachedFallback)
		s.schedule(ctx)
		return s.store.State()
	case err != nil:
		s.logger.Error("nearby search failed", zap.Error(err))
		s.store.SetStatus(restaurant.StatusError, MsgSearchFailed)
		return s.store.State()
	}

	s.store.Ingest(ctx, candidates, *anchor)
	s.logger.Info("restaurants refreshed", zap.Int("count", len(candidates)))
	s.Persist(ctx)
	s.schedule(ctx)
	return s.store.State()
}

// warmStart restores the saved snapshot into an empty store.
func (s *Service) warmStart(ctx context.Context, anchor restaurant.Location) {
	if s.snapshots == nil || s.store.HasData() {
		return
	}
	snap, ok := s.snapshots.Load(ctx)
	if !ok {
		return
	}
	s.store.Restore(ctx, snap.Restaurants, anchor, "")
	// Distances follow the live anchor; the saved one is only reported.
	s.logger.Info("restored cached restaurants",
		zap.Int("count", len(snap.Restaurants)),
		zap.Time("saved_at", snap.SavedAt),
		zap.Float64s("saved_anchor", []float64{snap.Anchor.Latitude, snap.Anchor.Longitude}),
	)
}

func (s *Service) schedule(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	list, _ := s.store.Snapshot()
	s.scheduler.ScheduleBatch(ctx, list)
}

// Persist saves the current raw list. Failures are logged.
func (s *Service) Persist(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	list, anchor := s.store.Snapshot()
	if anchor == nil {
		return
	}
	if err := s.snapshots.Save(ctx, list, *anchor); err != nil {
		s.logger.Warn("snapshot save failed", zap.Error(err))
	}
}

// OnScanApplied persists the list after a scan lands.
func (s *Service) OnScanApplied(ctx context.Context, r restaurant.Restaurant) {
	s.logger.Debug("scan applied", zap.String("place_id", r.PlaceID), zap.String("status", string(r.MenuScanStatus)))
	s.Persist(ctx)
}

// SetFilter replaces the filter preferences.
func (s *Service) SetFilter(f restaurant.Filter) (restaurant.UiState, error) {
	if err := s.store.SetFilter(f); err != nil {
		return restaurant.UiState{}, err
	}
	return s.store.State(), nil
}

// SetFavorite parses raw and marks the restaurant with key.
func (s *Service) SetFavorite(ctx context.Context, key restaurant.Key, raw string) (restaurant.Restaurant, error) {
	status, ok := restaurant.ParseFavorite(raw)
	if !ok {
		return restaurant.Restaurant{}, fmt.Errorf("%w: %q", ErrInvalidFavorite, raw)
	}
	r, err := s.store.SetFavorite(ctx, key, status)
	if err != nil {
		return r, err
	}
	s.Persist(ctx)
	return r, nil
}

// AddNote appends a crowd note to the restaurant with key.
func (s *Service) AddNote(ctx context.Context, key restaurant.Key, note string) (restaurant.Restaurant, error) {
	r, err := s.store.AddNote(ctx, key, note)
	if err != nil {
		return r, err
	}
	s.Persist(ctx)
	return r, nil
}

// RequestRescan forces a scan of the restaurant with key.
func (s *Service) RequestRescan(ctx context.Context, key restaurant.Key) error {
	if _, ok := s.store.Lookup(key); !ok {
		return store.ErrNotFound
	}
	if s.scheduler == nil {
		return errors.New("scanning is disabled")
	}
	return s.scheduler.Rescan(ctx, key)
}

// RecordView counts a detail view of the restaurant with key.
func (s *Service) RecordView(ctx context.Context, key restaurant.Key) (int, error) {
	if _, ok := s.store.Lookup(key); !ok {
		return 0, store.ErrNotFound
	}
	if s.annotations == nil {
		return 0, nil
	}
	n, err := s.annotations.RecordView(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("record view: %w", err)
	}
	return n, nil
}

// Recommendations scores the projected list and returns the best limit.
func (s *Service) Recommendations(ctx context.Context, limit int) ([]recommend.Recommended, error) {
	var provider recommend.SignalsProvider = recommend.SignalsFunc(func(r restaurant.Restaurant) recommend.Signals {
		return recommend.Signals{Favorite: r.FavoriteStatus, HasNotes: len(r.CrowdNotes) > 0}
	})
	if s.annotations != nil {
		p, err := s.annotations.Signals(ctx)
		if err != nil {
			return nil, fmt.Errorf("load signals: %w", err)
		}
		provider = p
	}
	return recommend.TopN(s.store.State().Restaurants, provider, limit), nil
}

// State returns the latest UiState.
func (s *Service) State() restaurant.UiState {
	return s.store.State()
}

// Subscribe streams UiState updates.
func (s *Service) Subscribe() (<-chan restaurant.UiState, func()) {
	return s.store.Subscribe()
}
