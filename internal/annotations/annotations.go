// Package annotations persists per-user favorites, notes, and view counts
// as JSON maps in a key-value store.
package annotations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/recommend"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

const (
	favoritesSuffix = "favorites"
	notesSuffix     = "notes"
	viewsSuffix     = "views"
)

// Store reads and writes the three annotation maps. Writes are
// read-modify-write under one mutex, so a single process never loses an
// update; across processes the last write wins.
type Store struct {
	kv        restaurant.KVStore
	namespace string
	logger    *zap.Logger
	mu        sync.Mutex
}

// New creates a Store keyed under namespace.
func New(kv restaurant.KVStore, namespace string, logger *zap.Logger) *Store {
	namespace = strings.Trim(namespace, ":")
	if namespace == "" {
		namespace = "gfscan"
	}
	return &Store{kv: kv, namespace: namespace, logger: logging.OrNop(logger)}
}

func (s *Store) key(suffix string) string {
	return s.namespace + ":" + suffix
}

// Favorites returns every persisted favorite marking keyed by merge key.
func (s *Store) Favorites(ctx context.Context) (map[string]restaurant.FavoriteStatus, error) {
	raw, err := readMap[string](ctx, s, favoritesSuffix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]restaurant.FavoriteStatus, len(raw))
	for k, v := range raw {
		if f, ok := restaurant.ParseFavorite(v); ok {
			out[k] = f
		}
	}
	return out, nil
}

// Notes returns every persisted note list keyed by merge key.
func (s *Store) Notes(ctx context.Context) (map[string][]string, error) {
	return readMap[[]string](ctx, s, notesSuffix)
}

// Views returns the view count per merge key.
func (s *Store) Views(ctx context.Context) (map[string]int, error) {
	return readMap[int](ctx, s, viewsSuffix)
}

// SetFavorite stores status for key. FavoriteNone removes the entry.
func (s *Store) SetFavorite(ctx context.Context, key restaurant.Key, status restaurant.FavoriteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := readMap[string](ctx, s, favoritesSuffix)
	if err != nil {
		return err
	}
	if status == restaurant.FavoriteNone || status == "" {
		delete(raw, key.String())
	} else {
		raw[key.String()] = string(status)
	}
	return s.write(ctx, favoritesSuffix, raw)
}

// AddNote appends note to the list stored for key.
func (s *Store) AddNote(ctx context.Context, key restaurant.Key, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes, err := readMap[[]string](ctx, s, notesSuffix)
	if err != nil {
		return err
	}
	notes[key.String()] = append(notes[key.String()], note)
	return s.write(ctx, notesSuffix, notes)
}

// RecordView increments and returns the view count for key.
func (s *Store) RecordView(ctx context.Context, key restaurant.Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	views, err := readMap[int](ctx, s, viewsSuffix)
	if err != nil {
		return 0, err
	}
	views[key.String()]++
	if err := s.write(ctx, viewsSuffix, views); err != nil {
		return 0, err
	}
	return views[key.String()], nil
}

// Signals loads all three maps once and returns a provider for scoring.
func (s *Store) Signals(ctx context.Context) (recommend.SignalsProvider, error) {
	favorites, err := s.Favorites(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := s.Notes(ctx)
	if err != nil {
		return nil, err
	}
	views, err := s.Views(ctx)
	if err != nil {
		return nil, err
	}
	return recommend.SignalsFunc(func(r restaurant.Restaurant) recommend.Signals {
		key := r.Key().String()
		favorite, ok := favorites[key]
		if !ok {
			favorite = r.FavoriteStatus
		}
		return recommend.Signals{
			Favorite:  favorite,
			HasNotes:  len(notes[key]) > 0 || len(r.CrowdNotes) > 0,
			ViewCount: views[key],
		}
	}), nil
}

// readMap decodes the blob at suffix into a fresh map. A missing blob
// yields an empty map; a malformed one is logged and treated as empty.
func readMap[V any](ctx context.Context, s *Store, suffix string) (map[string]V, error) {
	out := map[string]V{}
	if s.kv == nil {
		return out, nil
	}
	blob, ok, err := s.kv.Get(ctx, s.key(suffix))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", suffix, err)
	}
	if !ok || strings.TrimSpace(blob) == "" {
		return out, nil
	}
	decoded := map[string]V{}
	if err := json.Unmarshal([]byte(blob), &decoded); err != nil {
		s.logger.Warn("discarding malformed annotation blob", zap.String("key", s.key(suffix)), zap.Error(err))
		return out, nil
	}
	return decoded, nil
}

func (s *Store) write(ctx context.Context, suffix string, v any) error {
	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", suffix, err)
	}
	if err := s.kv.Set(ctx, s.key(suffix), string(data)); err != nil {
		return fmt.Errorf("write %s: %w", suffix, err)
	}
	return nil
}
