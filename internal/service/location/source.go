package location

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nearfeed/internal/domain/geo"
	"nearfeed/internal/domain/location"
)

const metersPerMile = 1609.344

// StaticSource is a single-fetch observer source with a fixed coordinate,
// used for one-shot feed requests that carry their own position.
type StaticSource struct {
	Coord geo.Coordinate
}

// Current returns the fixed coordinate.
func (s StaticSource) Current(ctx context.Context) (geo.Coordinate, error) {
	if !s.Coord.Valid() {
		return geo.Coordinate{}, location.ErrPositionUnavailable
	}
	return s.Coord, nil
}

// Watch delivers the fixed coordinate once.
func (s StaticSource) Watch(ctx context.Context, onSample func(geo.Coordinate)) (location.Subscription, error) {
	if !s.Coord.Valid() {
		return nil, location.ErrPositionUnavailable
	}
	onSample(s.Coord)
	return noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

// PushSource is a continuous observer source fed by an external stream of
// raw position fixes (a connected client, a poll loop). Fixes are gated by
// the minimum-interval / minimum-displacement thresholds: a sample is
// forwarded when either threshold is crossed, never requiring both.
type PushSource struct {
	opts location.WatchOptions

	mu       sync.RWMutex
	last     *geo.Coordinate
	lastAt   time.Time
	denied   bool
	nextID   int
	watchers map[int]func(geo.Coordinate)
}

// NewPushSource creates a push-fed source with the given thresholds.
func NewPushSource(opts location.WatchOptions) *PushSource {
	if opts.MinInterval <= 0 {
		opts.MinInterval = location.DefaultMinInterval
	}
	if opts.MinDisplacementMeter <= 0 {
		opts.MinDisplacementMeter = location.DefaultMinDisplacement
	}
	return &PushSource{
		opts:     opts,
		watchers: make(map[int]func(geo.Coordinate)),
	}
}

// Offer feeds a raw fix into the source. The first valid fix is always
// emitted; later fixes are emitted once the minimum interval has elapsed
// or the observer moved at least the minimum displacement. It reports
// whether the fix was emitted.
func (s *PushSource) Offer(c geo.Coordinate) bool {
	if !c.Valid() {
		return false
	}

	now := time.Now()

	s.mu.Lock()
	if s.denied {
		s.mu.Unlock()
		return false
	}
	if s.last != nil {
		elapsed := now.Sub(s.lastAt)
		movedMeters := geo.Distance(*s.last, c) * metersPerMile
		if elapsed < s.opts.MinInterval && movedMeters < s.opts.MinDisplacementMeter {
			s.mu.Unlock()
			return false
		}
	}
	s.last = &c
	s.lastAt = now
	watchers := make([]func(geo.Coordinate), 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w(c)
	}
	return true
}

// Deny puts the source into the permission-denied error state. No further
// coordinates are emitted until Allow is called.
func (s *PushSource) Deny() {
	s.mu.Lock()
	s.denied = true
	s.last = nil
	s.mu.Unlock()
}

// Allow clears the permission-denied state, e.g. when the app returns to
// the foreground with permission granted.
func (s *PushSource) Allow() {
	s.mu.Lock()
	s.denied = false
	s.mu.Unlock()
}

// Current returns the latest emitted coordinate. With no fix yet it fails
// with the appropriate error state; callers must treat that as distinct
// from an empty result.
func (s *PushSource) Current(ctx context.Context) (geo.Coordinate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.denied {
		return geo.Coordinate{}, location.ErrPermissionDenied
	}
	if s.last == nil {
		return geo.Coordinate{}, location.ErrPositionUnavailable
	}
	return *s.last, nil
}

// Watch registers a sample callback. If a coordinate is already known it
// is delivered immediately.
func (s *PushSource) Watch(ctx context.Context, onSample func(geo.Coordinate)) (location.Subscription, error) {
	s.mu.Lock()
	if s.denied {
		s.mu.Unlock()
		return nil, location.ErrPermissionDenied
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = onSample
	last := s.last
	s.mu.Unlock()

	if last != nil {
		onSample(*last)
	}

	return &pushSubscription{source: s, id: id}, nil
}

type pushSubscription struct {
	source *PushSource
	once   sync.Once
	id     int
}

func (s *pushSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.source.mu.Lock()
		delete(s.source.watchers, s.id)
		s.source.mu.Unlock()
	})
}

// Store persists observer samples onto the owning user's document with
// merge semantics: unrelated fields are left untouched.
type Store interface {
	UpdateLocation(ctx context.Context, userID string, c geo.Coordinate, at time.Time) error
}

// PersistingSource decorates a Source so every sample is also written to
// the store, keyed by the owning user. Persistence is best-effort: a write
// failure is logged and never affects the emitted coordinate.
type PersistingSource struct {
	src    location.Source
	store  Store
	log    *logrus.Logger
	userID string
}

// NewPersistingSource wraps src with best-effort persistence for userID.
func NewPersistingSource(src location.Source, store Store, log *logrus.Logger, userID string) *PersistingSource {
	return &PersistingSource{src: src, store: store, log: log, userID: userID}
}

// Current delegates to the wrapped source.
func (p *PersistingSource) Current(ctx context.Context) (geo.Coordinate, error) {
	return p.src.Current(ctx)
}

// Watch delegates to the wrapped source, persisting each sample.
func (p *PersistingSource) Watch(ctx context.Context, onSample func(geo.Coordinate)) (location.Subscription, error) {
	return p.src.Watch(ctx, func(c geo.Coordinate) {
		if err := p.store.UpdateLocation(ctx, p.userID, c, time.Now()); err != nil {
			p.log.WithError(err).WithField("user_id", p.userID).Warn("failed to persist location sample")
		}
		onSample(c)
	})
}
