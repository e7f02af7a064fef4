// Package scheduler decides which restaurants need a menu scan and runs
// those scans in the background with a bounded number in flight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/clock/system"
	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/metrics"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
)

// ErrUnknownRestaurant is returned by Rescan when the key is not in the ledger.
var ErrUnknownRestaurant = errors.New("unknown restaurant")

const (
	defaultTTL         = 72 * time.Hour
	defaultBatchLimit  = 5
	defaultScanTimeout = 45 * time.Second
)

// Ledger is the owner of restaurant state. BeginScan atomically checks gate
// and marks the restaurant FETCHING; ApplyScan lands an outcome by key.
type Ledger interface {
	BeginScan(key restaurant.Key, gate func(restaurant.Restaurant) bool) (uint64, restaurant.Restaurant, bool)
	ApplyScan(key restaurant.Key, ticket uint64, outcome restaurant.ScanOutcome) (restaurant.Restaurant, bool)
}

// Scanner runs one menu scan.
type Scanner interface {
	Scan(ctx context.Context, r restaurant.Restaurant) restaurant.ScanOutcome
}

// Config controls scheduling.
type Config struct {
	TTL         time.Duration
	BatchLimit  int
	ScanTimeout time.Duration
	Topic       string
}

// ScanEvent is published after an outcome has been applied.
type ScanEvent struct {
	EventID   string                `json:"event_id"`
	PlaceID   string                `json:"place_id,omitempty"`
	Key       string                `json:"key"`
	Name      string                `json:"name"`
	Status    restaurant.ScanStatus `json:"status"`
	MenuURL   string                `json:"menu_url,omitempty"`
	Evidence  []string              `json:"evidence"`
	Timestamp int64                 `json:"timestamp"`
}

// Scheduler launches scans for stale restaurants.
type Scheduler struct {
	cfg       Config
	ledger    Ledger
	scanner   Scanner
	clock     restaurant.Clock
	publisher restaurant.Publisher
	ids       restaurant.IDGenerator
	onApplied func(context.Context, restaurant.Restaurant)
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight int
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used for TTL decisions.
func WithClock(clock restaurant.Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPublisher emits a ScanEvent for every applied outcome. ids supplies
// event ids.
func WithPublisher(publisher restaurant.Publisher, ids restaurant.IDGenerator) Option {
	return func(s *Scheduler) {
		s.publisher = publisher
		s.ids = ids
	}
}

// WithOnApplied registers fn to run after each applied outcome, on the scan
// goroutine.
func WithOnApplied(fn func(context.Context, restaurant.Restaurant)) Option {
	return func(s *Scheduler) {
		s.onApplied = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logging.OrNop(logger)
	}
}

// New constructs a Scheduler.
func New(cfg Config, ledger Ledger, scanner Scanner, opts ...Option) *Scheduler {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = defaultScanTimeout
	}
	s := &Scheduler{
		cfg:     cfg,
		ledger:  ledger,
		scanner: scanner,
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Eligible reports whether r should be scanned at now.
func (s *Scheduler) Eligible(r restaurant.Restaurant, now time.Time) bool {
	if r.PlaceID == "" || r.MenuScanStatus == restaurant.ScanFetching {
		return false
	}
	if r.EffectiveScanStatus() == restaurant.ScanNotStarted {
		return true
	}
	age := now.Sub(time.UnixMilli(r.MenuScanTimestamp))
	return age >= s.cfg.TTL
}

// ScheduleBatch marks eligible restaurants FETCHING, in order, and launches
// their scans. At most BatchLimit scans run at once; eligible restaurants
// beyond the free slots wait for the next call. It returns the number of
// scans launched.
func (s *Scheduler) ScheduleBatch(ctx context.Context, restaurants []restaurant.Restaurant) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	gate := func(r restaurant.Restaurant) bool { return s.Eligible(r, now) }

	launched := 0
	for _, r := range restaurants {
		if s.inFlight >= s.cfg.BatchLimit {
			break
		}
		if !s.Eligible(r, now) {
			continue
		}
		key := r.Key()
		ticket, target, ok := s.ledger.BeginScan(key, gate)
		if !ok {
			continue
		}
		s.launchLocked(ctx, key, ticket, target)
		launched++
	}
	if launched > 0 {
		s.logger.Debug("scan batch scheduled", zap.Int("launched", launched), zap.Int("candidates", len(restaurants)))
	}
	return launched
}

// Rescan forces a scan of key regardless of TTL, status, or the batch
// limit. A rescan of a restaurant already FETCHING supersedes the earlier
// scan.
func (s *Scheduler) Rescan(ctx context.Context, key restaurant.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, target, ok := s.ledger.BeginScan(key, nil)
	if !ok {
		return fmt.Errorf("rescan %s: %w", key, ErrUnknownRestaurant)
	}
	s.launchLocked(ctx, key, ticket, target)
	return nil
}

// Wait blocks until every launched scan has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for scans: %w", ctx.Err())
	}
}

// InFlight returns the number of running scans.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// launchLocked starts one scan. Caller holds s.mu.
func (s *Scheduler) launchLocked(ctx context.Context, key restaurant.Key, ticket uint64, target restaurant.Restaurant) {
	s.inFlight++
	s.wg.Add(1)
	metrics.IncScansInFlight()

	// Scans outlive the request that triggered them and stop on their own timeout.
	scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ScanTimeout)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
			metrics.DecScansInFlight()
		}()

		outcome := s.scanner.Scan(scanCtx, target)
		updated, applied := s.ledger.ApplyScan(key, ticket, outcome)
		if !applied {
			return
		}
		s.publish(scanCtx, key, updated, outcome)
		if s.onApplied != nil {
			s.onApplied(scanCtx, updated)
		}
	}()
}

func (s *Scheduler) publish(ctx context.Context, key restaurant.Key, r restaurant.Restaurant, outcome restaurant.ScanOutcome) {
	if s.publisher == nil {
		return
	}
	evt := ScanEvent{
		PlaceID:   r.PlaceID,
		Key:       key.String(),
		Name:      r.Name,
		Status:    outcome.Status,
		MenuURL:   r.MenuURL,
		Evidence:  outcome.Evidence,
		Timestamp: outcome.Timestamp,
	}
	if s.ids != nil {
		id, err := s.ids.NewID()
		if err != nil {
			s.logger.Warn("scan event id failed", zap.Error(err))
		}
		evt.EventID = id
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, evt); err != nil {
		s.logger.Warn("publish scan event failed", zap.String("place_id", r.PlaceID), zap.Error(err))
	}
}
