// Package snapshot saves and restores the last restaurant list as a single
// versioned, checksummed blob in a key-value store.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/clock/system"
	"github.com/JakeFAU/gf-menu-scanner/internal/hash/sha256"
	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/metrics"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

// Version is the envelope format written by Save.
const Version = 1

const keySuffix = "snapshot"

var errInvalid = errors.New("invalid snapshot")

// Snapshot is a restored list.
type Snapshot struct {
	Restaurants []restaurant.Restaurant
	Anchor      restaurant.Location
	SavedAt     time.Time
}

type envelope struct {
	Version     int                 `json:"version"`
	SavedAt     int64               `json:"saved_at"`
	Anchor      restaurant.Location `json:"anchor"`
	Checksum    string              `json:"checksum"`
	Restaurants json.RawMessage     `json:"restaurants"`
}

// record is the persisted shape of one restaurant.
type record struct {
	PlaceID        string   `json:"place_id,omitempty"`
	Name           string   `json:"name"`
	Address        string   `json:"address"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Rating         *float64 `json:"rating,omitempty"`
	OpenNow        string   `json:"open_now,omitempty"`
	HasGlutenFree  bool     `json:"has_gluten_free_options"`
	Evidence       []string `json:"evidence,omitempty"`
	MenuURL        string   `json:"menu_url,omitempty"`
	ScanStatus     string   `json:"scan_status"`
	ScanTimestamp  int64    `json:"scan_timestamp"`
	FavoriteStatus string   `json:"favorite_status"`
	Notes          []string `json:"notes,omitempty"`
}

// Cache saves and loads snapshots. Load succeeds at most once per Cache so
// a stale snapshot can never overwrite fresher in-memory state.
type Cache struct {
	kv     restaurant.KVStore
	key    string
	hasher restaurant.Hasher
	clock  restaurant.Clock
	logger *zap.Logger
	loaded atomic.Bool
}

// New creates a Cache storing under namespace.
func New(kv restaurant.KVStore, namespace string, logger *zap.Logger) *Cache {
	namespace = strings.Trim(namespace, ":")
	if namespace == "" {
		namespace = "gfscan"
	}
	return &Cache{
		kv:     kv,
		key:    namespace + ":" + keySuffix,
		hasher: sha256.New(),
		clock:  system.New(),
		logger: logging.OrNop(logger),
	}
}

// WithClock overrides the clock used for SavedAt.
func (c *Cache) WithClock(clock restaurant.Clock) *Cache {
	if clock != nil {
		c.clock = clock
	}
	return c
}

// Save writes restaurants and their anchor.
func (c *Cache) Save(ctx context.Context, restaurants []restaurant.Restaurant, anchor restaurant.Location) error {
	records := make([]record, 0, len(restaurants))
	for _, r := range restaurants {
		records = append(records, toRecord(r))
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	sum, err := c.hasher.Hash(payload)
	if err != nil {
		return fmt.Errorf("checksum snapshot: %w", err)
	}
	blob, err := json.Marshal(envelope{
		Version:     Version,
		SavedAt:     c.clock.Now().UnixMilli(),
		Anchor:      anchor,
		Checksum:    sum,
		Restaurants: payload,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := c.kv.Set(ctx, c.key, string(blob)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load returns the saved snapshot. Only the first call consults the store;
// later calls, a missing blob, and any malformed blob all return false.
func (c *Cache) Load(ctx context.Context) (Snapshot, bool) {
	if !c.loaded.CompareAndSwap(false, true) {
		return Snapshot{}, false
	}
	blob, ok, err := c.kv.Get(ctx, c.key)
	switch {
	case err != nil:
		c.logger.Warn("snapshot read failed", zap.Error(err))
		metrics.ObserveSnapshotLoad("error")
		return Snapshot{}, false
	case !ok:
		metrics.ObserveSnapshotLoad("miss")
		return Snapshot{}, false
	}
	snap, err := c.decode(blob)
	if err != nil {
		c.logger.Warn("discarding snapshot", zap.Error(err))
		metrics.ObserveSnapshotLoad("invalid")
		return Snapshot{}, false
	}
	metrics.ObserveSnapshotLoad("hit")
	return snap, true
}

func (c *Cache) decode(blob string) (Snapshot, error) {
	var env envelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", errInvalid, err)
	}
	if env.Version != Version {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", errInvalid, env.Version)
	}
	if !env.Anchor.Valid() {
		return Snapshot{}, fmt.Errorf("%w: anchor out of range", errInvalid)
	}
	sum, err := c.hasher.Hash(env.Restaurants)
	if err != nil || !strings.EqualFold(sum, env.Checksum) {
		return Snapshot{}, fmt.Errorf("%w: checksum mismatch", errInvalid)
	}
	var records []record
	if err := json.Unmarshal(env.Restaurants, &records); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", errInvalid, err)
	}
	out := make([]restaurant.Restaurant, 0, len(records))
	for i, rec := range records {
		r, err := fromRecord(rec)
		if err != nil {
			return Snapshot{}, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, r)
	}
	return Snapshot{
		Restaurants: out,
		Anchor:      env.Anchor,
		SavedAt:     time.UnixMilli(env.SavedAt).UTC(),
	}, nil
}

func toRecord(r restaurant.Restaurant) record {
	if r.FavoriteStatus == "" {
		r.FavoriteStatus = restaurant.FavoriteNone
	}
	if r.MenuScanStatus == "" {
		r.MenuScanStatus = restaurant.ScanNotStarted
	}
	return record{
		PlaceID:        r.PlaceID,
		Name:           r.Name,
		Address:        r.Address,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		Rating:         r.Rating,
		OpenNow:        string(r.OpenNow),
		HasGlutenFree:  r.HasGlutenFreeOptions,
		Evidence:       r.GlutenFreeMenuItems,
		MenuURL:        r.MenuURL,
		ScanStatus:     string(r.MenuScanStatus),
		ScanTimestamp:  r.MenuScanTimestamp,
		FavoriteStatus: string(r.FavoriteStatus),
		Notes:          r.CrowdNotes,
	}
}

func fromRecord(rec record) (restaurant.Restaurant, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return restaurant.Restaurant{}, fmt.Errorf("%w: empty name", errInvalid)
	}
	loc := restaurant.Location{Latitude: rec.Latitude, Longitude: rec.Longitude}
	if !loc.Valid() {
		return restaurant.Restaurant{}, fmt.Errorf("%w: coordinates out of range", errInvalid)
	}
	status := restaurant.ScanStatus(rec.ScanStatus)
	if !status.Valid() {
		return restaurant.Restaurant{}, fmt.Errorf("%w: scan status %q", errInvalid, rec.ScanStatus)
	}
	if status == restaurant.ScanFetching {
		status = restaurant.ScanNotStarted
	}
	favorite := restaurant.FavoriteStatus(rec.FavoriteStatus)
	switch favorite {
	case restaurant.FavoriteNone, restaurant.FavoriteSafe, restaurant.FavoriteTry, restaurant.FavoriteAvoid:
	default:
		return restaurant.Restaurant{}, fmt.Errorf("%w: favorite status %q", errInvalid, rec.FavoriteStatus)
	}
	open := restaurant.OpenNow(rec.OpenNow)
	switch open {
	case restaurant.OpenUnknown, restaurant.OpenYes, restaurant.OpenNo:
	default:
		return restaurant.Restaurant{}, fmt.Errorf("%w: open_now %q", errInvalid, rec.OpenNow)
	}
	if rec.Rating != nil && (*rec.Rating < 0 || *rec.Rating > 5) {
		return restaurant.Restaurant{}, fmt.Errorf("%w: rating out of range", errInvalid)
	}
	if len(rec.Evidence) > restaurant.MaxEvidenceItems {
		return restaurant.Restaurant{}, fmt.Errorf("%w: too much evidence", errInvalid)
	}
	for _, e := range rec.Evidence {
		if utf8.RuneCountInString(e) > restaurant.MaxEvidenceChars {
			return restaurant.Restaurant{}, fmt.Errorf("%w: evidence too long", errInvalid)
		}
	}
	r := restaurant.Restaurant{
		PlaceID:              rec.PlaceID,
		Name:                 rec.Name,
		Address:              rec.Address,
		Latitude:             rec.Latitude,
		Longitude:            rec.Longitude,
		Rating:               rec.Rating,
		OpenNow:              open,
		HasGlutenFreeOptions: rec.HasGlutenFree,
		GlutenFreeMenuItems:  rec.Evidence,
		MenuURL:              rec.MenuURL,
		MenuScanStatus:       status,
		MenuScanTimestamp:    rec.ScanTimestamp,
		FavoriteStatus:       favorite,
		CrowdNotes:           rec.Notes,
	}
	return r.Clone(), nil
}
