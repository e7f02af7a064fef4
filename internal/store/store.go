package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

var (
	// ErrNotFound signals that no restaurant carries the requested merge key.
	ErrNotFound = errors.New("restaurant not found")
	// ErrEmptyNote is returned when a note has no text.
	ErrEmptyNote = errors.New("note text is empty")
)

// NoResultsMessage is attached to the ERROR state of an empty projection.
const NoResultsMessage = "No restaurants found"

// Annotations persists user annotations outside the store.
type Annotations interface {
	Favorites(ctx context.Context) (map[string]restaurant.FavoriteStatus, error)
	Notes(ctx context.Context) (map[string][]string, error)
	SetFavorite(ctx context.Context, key restaurant.Key, status restaurant.FavoriteStatus) error
	AddNote(ctx context.Context, key restaurant.Key, note string) error
}

// Store is the single owner of mutable restaurant state.
type Store struct {
	mu          sync.Mutex
	raw         []restaurant.Restaurant
	index       map[restaurant.Key]int
	anchor      *restaurant.Location
	filter      restaurant.Filter
	loaded      bool
	status      restaurant.UiStatus
	message     string
	tickets     map[restaurant.Key]uint64
	nextTicket  uint64
	state       restaurant.UiState
	subscribers map[int]chan restaurant.UiState
	nextSub     int

	annotations Annotations
	logger      *zap.Logger
}

// New creates an empty store in the IDLE state. annotations may be nil.
func New(annotations Annotations, logger *zap.Logger) *Store {
	s := &Store{
		index:       make(map[restaurant.Key]int),
		filter:      restaurant.Filter{Sort: restaurant.SortDistance},
		tickets:     make(map[restaurant.Key]uint64),
		subscribers: make(map[int]chan restaurant.UiState),
		annotations: annotations,
		logger:      logging.OrNop(logger),
	}
	s.state = restaurant.UiState{Status: restaurant.StatusIdle, Restaurants: []restaurant.Restaurant{}, Filter: s.filter}
	return s
}

// Ingest replaces the raw list with freshly searched candidates. Distances
// are recomputed from anchor, scan fields of restaurants already known under
// the same merge key are carried over, and persisted favorites and notes are
// applied. Duplicate keys within one batch keep the first occurrence.
func (s *Store) Ingest(ctx context.Context, candidates []restaurant.Candidate, anchor restaurant.Location) {
	favorites, notes := s.loadAnnotations(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]restaurant.Restaurant, 0, len(candidates))
	index := make(map[restaurant.Key]int, len(candidates))
	for _, c := range candidates {
		r := restaurant.FromCandidate(c)
		key := r.Key()
		if _, dup := index[key]; dup {
			continue
		}
		if i, ok := s.index[key]; ok {
			carryScan(&r, s.raw[i])
		}
		index[key] = len(list)
		list = append(list, r)
	}
	s.replace(list, index, anchor, favorites, notes)
	s.status = ""
	s.message = ""
	s.publish()
}

// Restore loads a previously persisted list, typically from a snapshot.
// In-flight markers do not survive a restart, so FETCHING becomes NOT_STARTED.
func (s *Store) Restore(ctx context.Context, restaurants []restaurant.Restaurant, anchor restaurant.Location, notice string) {
	favorites, notes := s.loadAnnotations(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]restaurant.Restaurant, 0, len(restaurants))
	index := make(map[restaurant.Key]int, len(restaurants))
	for _, in := range restaurants {
		r := in.Clone()
		if r.MenuScanStatus == restaurant.ScanFetching || !r.MenuScanStatus.Valid() {
			r.MenuScanStatus = restaurant.ScanNotStarted
		}
		key := r.Key()
		if _, dup := index[key]; dup {
			continue
		}
		index[key] = len(list)
		list = append(list, r)
	}
	s.replace(list, index, anchor, favorites, notes)
	s.status = ""
	s.message = notice
	s.publish()
}

// replace installs a new raw list. Caller holds s.mu.
func (s *Store) replace(
	list []restaurant.Restaurant,
	index map[restaurant.Key]int,
	anchor restaurant.Location,
	favorites map[string]restaurant.FavoriteStatus,
	notes map[string][]string,
) {
	for i := range list {
		r := &list[i]
		r.DistanceMeters = restaurant.DistanceMeters(anchor, restaurant.Location{Latitude: r.Latitude, Longitude: r.Longitude})
		key := r.Key().String()
		if f, ok := favorites[key]; ok {
			r.FavoriteStatus = f
		}
		if r.FavoriteStatus == "" {
			r.FavoriteStatus = restaurant.FavoriteNone
		}
		if n, ok := notes[key]; ok {
			r.CrowdNotes = slices.Clone(n)
		}
	}
	for key := range s.tickets {
		if _, ok := index[key]; !ok {
			delete(s.tickets, key)
		}
	}
	a := anchor
	s.raw = list
	s.index = index
	s.anchor = &a
	s.loaded = true
}

func carryScan(dst *restaurant.Restaurant, prev restaurant.Restaurant) {
	dst.MenuScanStatus = prev.MenuScanStatus
	dst.MenuScanTimestamp = prev.MenuScanTimestamp
	dst.MenuURL = prev.MenuURL
	dst.GlutenFreeMenuItems = slices.Clone(prev.GlutenFreeMenuItems)
	if len(prev.GlutenFreeMenuItems) > 0 {
		dst.HasGlutenFreeOptions = true
	}
	dst.FavoriteStatus = prev.FavoriteStatus
	dst.CrowdNotes = slices.Clone(prev.CrowdNotes)
}

func (s *Store) loadAnnotations(ctx context.Context) (map[string]restaurant.FavoriteStatus, map[string][]string) {
	if s.annotations == nil {
		return nil, nil
	}
	favorites, err := s.annotations.Favorites(ctx)
	if err != nil {
		s.logger.Warn("load favorites failed", zap.Error(err))
	}
	notes, err := s.annotations.Notes(ctx)
	if err != nil {
		s.logger.Warn("load notes failed", zap.Error(err))
	}
	return favorites, notes
}

// SetFilter replaces the filter preferences and re-projects.
func (s *Store) SetFilter(f restaurant.Filter) error {
	switch f.Sort {
	case "":
		f.Sort = restaurant.SortDistance
	case restaurant.SortDistance, restaurant.SortName:
	default:
		return fmt.Errorf("unknown sort mode %q", f.Sort)
	}
	if f.MaxDistanceMeters < 0 || f.MinRating < 0 || f.MinRating > 5 {
		return fmt.Errorf("invalid filter bounds")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
	s.publish()
	return nil
}

// SetStatus overrides the projected status until the next ingest or
// restore. An empty status keeps the computed status and attaches message
// as a notice.
func (s *Store) SetStatus(status restaurant.UiStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.message = message
	s.publish()
}

// SetFavorite marks the restaurant and persists the marking.
func (s *Store) SetFavorite(ctx context.Context, key restaurant.Key, status restaurant.FavoriteStatus) (restaurant.Restaurant, error) {
	s.mu.Lock()
	i, ok := s.index[key]
	if !ok {
		s.mu.Unlock()
		return restaurant.Restaurant{}, ErrNotFound
	}
	s.raw[i].FavoriteStatus = status
	updated := s.raw[i].Clone()
	s.publish()
	s.mu.Unlock()

	if s.annotations != nil {
		if err := s.annotations.SetFavorite(ctx, key, status); err != nil {
			return updated, fmt.Errorf("persist favorite: %w", err)
		}
	}
	return updated, nil
}

// AddNote appends a crowd note and persists it.
func (s *Store) AddNote(ctx context.Context, key restaurant.Key, note string) (restaurant.Restaurant, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return restaurant.Restaurant{}, ErrEmptyNote
	}
	s.mu.Lock()
	i, ok := s.index[key]
	if !ok {
		s.mu.Unlock()
		return restaurant.Restaurant{}, ErrNotFound
	}
	s.raw[i].CrowdNotes = append(s.raw[i].CrowdNotes, note)
	updated := s.raw[i].Clone()
	s.publish()
	s.mu.Unlock()

	if s.annotations != nil {
		if err := s.annotations.AddNote(ctx, key, note); err != nil {
			return updated, fmt.Errorf("persist note: %w", err)
		}
	}
	return updated, nil
}

// BeginScan marks the restaurant FETCHING when gate (if non-nil) accepts
// it, and returns a generation ticket plus a copy of the target. The check
// and the mark happen under one lock so overlapping passes cannot both win.
func (s *Store) BeginScan(key restaurant.Key, gate func(restaurant.Restaurant) bool) (uint64, restaurant.Restaurant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[key]
	if !ok {
		return 0, restaurant.Restaurant{}, false
	}
	if gate != nil && !gate(s.raw[i]) {
		return 0, restaurant.Restaurant{}, false
	}
	s.nextTicket++
	s.tickets[key] = s.nextTicket
	s.raw[i].MenuScanStatus = restaurant.ScanFetching
	target := s.raw[i].Clone()
	s.publish()
	return s.nextTicket, target, true
}

// ApplyScan applies outcome to the restaurant with key when ticket is still
// the newest one issued for it. Superseded or orphaned outcomes are dropped.
func (s *Store) ApplyScan(key restaurant.Key, ticket uint64, outcome restaurant.ScanOutcome) (restaurant.Restaurant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.tickets[key]; !ok || current != ticket {
		s.logger.Debug("dropping superseded scan outcome", zap.String("key", key.String()), zap.Uint64("ticket", ticket))
		return restaurant.Restaurant{}, false
	}
	delete(s.tickets, key)
	i, ok := s.index[key]
	if !ok {
		return restaurant.Restaurant{}, false
	}
	outcome.Apply(&s.raw[i])
	updated := s.raw[i].Clone()
	s.publish()
	return updated, true
}

// Lookup returns a copy of the restaurant with key.
func (s *Store) Lookup(key restaurant.Key) (restaurant.Restaurant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[key]
	if !ok {
		return restaurant.Restaurant{}, false
	}
	return s.raw[i].Clone(), true
}

// Snapshot returns a deep copy of the raw list and its anchor.
func (s *Store) Snapshot() ([]restaurant.Restaurant, *restaurant.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]restaurant.Restaurant, len(s.raw))
	for i, r := range s.raw {
		out[i] = r.Clone()
	}
	if s.anchor == nil {
		return out, nil
	}
	a := *s.anchor
	return out, &a
}

// HasData reports whether a list has been ingested or restored.
func (s *Store) HasData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded && len(s.raw) > 0
}

// State returns the latest published UiState.
func (s *Store) State() restaurant.UiState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel that always holds the most recent UiState.
// Slow readers skip intermediate states but never observe them out of
// order. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan restaurant.UiState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan restaurant.UiState, 1)
	ch <- s.state
	s.subscribers[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
}

// publish recomputes the projection and fans it out. Caller holds s.mu.
func (s *Store) publish() {
	s.state = s.project()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- s.state
	}
}

// project filters and sorts the raw list. Caller holds s.mu.
func (s *Store) project() restaurant.UiState {
	state := restaurant.UiState{Filter: s.filter, Restaurants: []restaurant.Restaurant{}}
	if s.anchor != nil {
		a := *s.anchor
		state.Anchor = &a
	}
	for _, r := range s.raw {
		if s.filter.Matches(r) {
			state.Restaurants = append(state.Restaurants, r.Clone())
		}
	}
	sortRestaurants(state.Restaurants, s.filter.Sort)

	switch {
	case !s.loaded:
		state.Status = restaurant.StatusIdle
	case len(state.Restaurants) == 0:
		state.Status = restaurant.StatusError
		state.Message = NoResultsMessage
	default:
		state.Status = restaurant.StatusSuccess
	}
	if s.status != "" {
		state.Status = s.status
	}
	if s.message != "" {
		state.Message = s.message
	}
	return state
}

func sortRestaurants(list []restaurant.Restaurant, mode restaurant.SortMode) {
	byName := func(a, b restaurant.Restaurant) int {
		return cmp.Or(
			strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)),
			cmp.Compare(a.DistanceMeters, b.DistanceMeters),
		)
	}
	if mode == restaurant.SortName {
		slices.SortStableFunc(list, byName)
		return
	}
	slices.SortStableFunc(list, func(a, b restaurant.Restaurant) int {
		return cmp.Or(cmp.Compare(a.DistanceMeters, b.DistanceMeters), byName(a, b))
	})
}
