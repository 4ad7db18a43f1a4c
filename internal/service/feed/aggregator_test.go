package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearfeed/internal/domain/feed"
	"nearfeed/internal/domain/geo"
	"nearfeed/internal/domain/location"
	"nearfeed/internal/domain/post"
	"nearfeed/internal/domain/profile"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// fakeChangeFeed delivers snapshots on demand.
type fakeChangeFeed struct {
	mu           sync.Mutex
	deliver      func(post.Snapshot)
	scope        post.Scope
	unsubscribed bool
}

func (f *fakeChangeFeed) Subscribe(ctx context.Context, scope post.Scope, deliver func(post.Snapshot)) (post.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scope = scope
	f.deliver = deliver
	return fakeFeedSub{f}, nil
}

func (f *fakeChangeFeed) push(records ...post.ContentRecord) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	if deliver != nil {
		deliver(post.Snapshot{Records: records})
	}
}

type fakeFeedSub struct{ f *fakeChangeFeed }

func (s fakeFeedSub) Unsubscribe() {
	s.f.mu.Lock()
	s.f.unsubscribed = true
	s.f.mu.Unlock()
}

// fakeSource emits observer samples on demand.
type fakeSource struct {
	mu           sync.Mutex
	onSample     func(geo.Coordinate)
	watchErr     error
	unsubscribed bool
}

func (f *fakeSource) Current(ctx context.Context) (geo.Coordinate, error) {
	return geo.Coordinate{}, location.ErrPositionUnavailable
}

func (f *fakeSource) Watch(ctx context.Context, onSample func(geo.Coordinate)) (location.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.onSample = onSample
	return fakeSourceSub{f}, nil
}

func (f *fakeSource) emit(c geo.Coordinate) {
	f.mu.Lock()
	onSample := f.onSample
	f.mu.Unlock()
	if onSample != nil {
		onSample(c)
	}
}

type fakeSourceSub struct{ f *fakeSource }

func (s fakeSourceSub) Unsubscribe() {
	s.f.mu.Lock()
	s.f.unsubscribed = true
	s.f.mu.Unlock()
}

// fakeResolver counts lookups and can hold selected ids until released.
type fakeResolver struct {
	mu       sync.Mutex
	profiles map[string]profile.AuthorProfile
	lookups  map[string]int
	blocked  map[string]chan struct{}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		profiles: make(map[string]profile.AuthorProfile),
		lookups:  make(map[string]int),
		blocked:  make(map[string]chan struct{}),
	}
}

func (r *fakeResolver) Resolve(ctx context.Context, userID string) (profile.AuthorProfile, error) {
	r.mu.Lock()
	r.lookups[userID]++
	gate := r.blocked[userID]
	p, ok := r.profiles[userID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return profile.Anonymous(userID), ctx.Err()
		}
	}

	if !ok {
		return profile.Anonymous(userID), nil
	}
	return p, nil
}

func (r *fakeResolver) block(userID string) chan struct{} {
	gate := make(chan struct{})
	r.mu.Lock()
	r.blocked[userID] = gate
	r.mu.Unlock()
	return gate
}

func (r *fakeResolver) calls(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups[userID]
}

type fixture struct {
	agg      *Aggregator
	changes  *fakeChangeFeed
	source   *fakeSource
	resolver *fakeResolver
}

func newFixture(t *testing.T, scope feed.Scope) *fixture {
	t.Helper()

	f := &fixture{
		changes:  &fakeChangeFeed{},
		source:   &fakeSource{},
		resolver: newFakeResolver(),
	}
	f.agg = NewAggregator(scope, f.changes, f.source, f.resolver, testLogger())
	t.Cleanup(f.agg.Stop)
	return f
}

func nextUpdate(t *testing.T, a *Aggregator) feed.Update {
	t.Helper()
	select {
	case u, ok := <-a.Updates():
		require.True(t, ok, "updates channel closed unexpectedly")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return feed.Update{}
	}
}

func nextPublished(t *testing.T, a *Aggregator) feed.Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-a.Updates():
			require.True(t, ok, "updates channel closed unexpectedly")
			if u.State == feed.StatePublished {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for a published update")
		}
	}
}

func ts(t *testing.T, s string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return &parsed
}

func coord(lat, lng float64) *geo.Coordinate {
	return &geo.Coordinate{Latitude: lat, Longitude: lng}
}

func TestAggregatorFiltersByRadiusAndClampsDistance(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 1.0})
	require.NoError(t, f.agg.Start())

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})
	f.changes.push(
		post.ContentRecord{ID: "p1", AuthorID: "u1", Body: "here", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
		post.ContentRecord{ID: "p2", AuthorID: "u1", Body: "far", Location: coord(10, 10), CreatedAt: ts(t, "2025-06-01T11:00:00Z")},
	)

	u := nextPublished(t, f.agg)
	require.Len(t, u.Posts, 1)
	assert.Equal(t, "p1", u.Posts[0].ID)
	assert.Equal(t, 0.1, u.Posts[0].DistanceMiles, "zero distance is clamped to the display floor")
}

func TestAggregatorExcludesLocationlessRecords(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 5.0})
	require.NoError(t, f.agg.Start())

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})
	f.changes.push(
		post.ContentRecord{ID: "nowhere", AuthorID: "u1", CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
		post.ContentRecord{ID: "here", AuthorID: "u1", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T09:00:00Z")},
	)

	u := nextPublished(t, f.agg)
	require.Len(t, u.Posts, 1)
	assert.Equal(t, "here", u.Posts[0].ID)
}

func TestAggregatorOrdersNewestFirst(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 5.0})
	require.NoError(t, f.agg.Start())

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})
	f.changes.push(
		post.ContentRecord{ID: "old", AuthorID: "u1", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T08:00:00Z")},
		post.ContentRecord{ID: "new", AuthorID: "u1", Location: coord(0, 0.01), CreatedAt: ts(t, "2025-06-01T12:00:00Z")},
		post.ContentRecord{ID: "mid", AuthorID: "u1", Location: coord(0.01, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
	)

	u := nextPublished(t, f.agg)
	require.Len(t, u.Posts, 3)
	assert.Equal(t, "new", u.Posts[0].ID)
	assert.Equal(t, "mid", u.Posts[1].ID)
	assert.Equal(t, "old", u.Posts[2].ID)

	for _, p := range u.Posts {
		assert.LessOrEqual(t, p.DistanceMiles, 5.0)
	}
}

func TestAggregatorMissingCreatedAtSortsNewest(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 5.0})
	require.NoError(t, f.agg.Start())

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})
	f.changes.push(
		post.ContentRecord{ID: "dated", AuthorID: "u1", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
		post.ContentRecord{ID: "undated", AuthorID: "u1", Location: coord(0, 0.01)},
	)

	u := nextPublished(t, f.agg)
	require.Len(t, u.Posts, 2)
	assert.Equal(t, "undated", u.Posts[0].ID, "records without a timestamp sort as newest")
}

func TestAggregatorRadiusChangeRepublishesWithoutNewEvent(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 1.0})
	require.NoError(t, f.agg.Start())

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})
	f.changes.push(
		post.ContentRecord{ID: "near", AuthorID: "u1", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
		// ~3 miles north of the observer.
		post.ContentRecord{ID: "outer", AuthorID: "u1", Location: coord(0.0435, 0), CreatedAt: ts(t, "2025-06-01T11:00:00Z")},
	)

	u := nextPublished(t, f.agg)
	require.Len(t, u.Posts, 1)
	assert.Equal(t, "near", u.Posts[0].ID)

	require.NoError(t, f.agg.UpdateRadius(5.0))

	u = nextPublished(t, f.agg)
	require.Len(t, u.Posts, 2)
	assert.Equal(t, "outer", u.Posts[0].ID)
}

func TestAggregatorBufferedSnapshotPublishesOnFirstCoordinate(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 1.0})
	require.NoError(t, f.agg.Start())

	// Snapshot arrives before any observer coordinate: buffered, awaiting.
	f.changes.push(
		post.ContentRecord{ID: "p1", AuthorID: "u1", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
	)

	u := nextUpdate(t, f.agg)
	assert.Equal(t, feed.StateAwaiting, u.State)
	assert.Equal(t, feed.PrereqLocation, u.Pending)
	assert.Equal(t, "Getting your location…", u.Caption)

	// First coordinate publishes immediately from the buffered snapshot.
	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})

	u = nextPublished(t, f.agg)
	require.Len(t, u.Posts, 1)
	assert.Equal(t, "p1", u.Posts[0].ID)
}

func TestAggregatorAwaitsSelfProfileBeforePublishing(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 1.0, ObserverID: "me"})
	gate := f.resolver.block("me")

	require.NoError(t, f.agg.Start())
	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})
	f.changes.push(
		post.ContentRecord{ID: "p1", AuthorID: "me", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
	)

	u := nextUpdate(t, f.agg)
	for u.State == feed.StateAwaiting && u.Pending == feed.PrereqLocation {
		u = nextUpdate(t, f.agg)
	}
	require.Equal(t, feed.StateAwaiting, u.State)
	assert.Equal(t, feed.PrereqProfile, u.Pending)
	assert.Equal(t, "Loading your profile…", u.Caption)

	close(gate)

	u = nextPublished(t, f.agg)
	require.Len(t, u.Posts, 1)
}

func TestAggregatorResolvesEachAuthorOnce(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 5.0})
	f.resolver.profiles["u1"] = profile.AuthorProfile{UserID: "u1", DisplayName: "alice"}
	require.NoError(t, f.agg.Start())

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})
	f.changes.push(
		post.ContentRecord{ID: "p1", AuthorID: "u1", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
		post.ContentRecord{ID: "p2", AuthorID: "u1", Location: coord(0, 0.01), CreatedAt: ts(t, "2025-06-01T11:00:00Z")},
		post.ContentRecord{ID: "p3", AuthorID: "u1", Location: coord(0.01, 0), CreatedAt: ts(t, "2025-06-01T12:00:00Z")},
	)

	u := nextPublished(t, f.agg)
	require.Len(t, u.Posts, 3)
	for _, p := range u.Posts {
		assert.Equal(t, "alice", p.DisplayName)
	}
	assert.Equal(t, 1, f.resolver.calls("u1"), "one lookup per distinct author per pass")
}

func TestAggregatorIdempotentRepublish(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 5.0})
	require.NoError(t, f.agg.Start())

	records := []post.ContentRecord{
		{ID: "a", AuthorID: "u1", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
		{ID: "b", AuthorID: "u2", Location: coord(0, 0.01), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
		{ID: "c", AuthorID: "u1", Location: coord(0.01, 0), CreatedAt: ts(t, "2025-06-01T12:00:00Z")},
	}

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})
	f.changes.push(records...)
	first := nextPublished(t, f.agg)

	f.changes.push(records...)
	second := nextPublished(t, f.agg)

	assert.Equal(t, first.Posts, second.Posts, "unchanged inputs must republish identically")
}

func TestAggregatorLastTriggerWins(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 5.0})
	gate := f.resolver.block("slow")
	require.NoError(t, f.agg.Start())

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})

	// First pass stalls on the slow author.
	f.changes.push(
		post.ContentRecord{ID: "stale", AuthorID: "slow", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
	)

	// Second pass supersedes it and completes immediately.
	f.changes.push(
		post.ContentRecord{ID: "fresh", AuthorID: "fast", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T11:00:00Z")},
	)

	u := nextPublished(t, f.agg)
	require.Len(t, u.Posts, 1)
	assert.Equal(t, "fresh", u.Posts[0].ID)

	// Release the stale pass; it finishes late and must be discarded.
	close(gate)

	select {
	case extra, ok := <-f.agg.Updates():
		if ok {
			for _, p := range extra.Posts {
				assert.NotEqual(t, "stale", p.ID, "superseded pass must not publish")
			}
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAggregatorStopSuppressesInFlightPublish(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 5.0})
	gate := f.resolver.block("slow")
	require.NoError(t, f.agg.Start())

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})
	f.changes.push(
		post.ContentRecord{ID: "p1", AuthorID: "slow", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
	)

	f.agg.Stop()
	close(gate)

	// Drain whatever was emitted before Stop; nothing published may follow.
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case u, ok := <-f.agg.Updates():
			if !ok {
				return
			}
			assert.NotEqual(t, feed.StatePublished, u.State, "no publish after Stop")
		case <-deadline:
			t.Fatal("updates channel was not closed by Stop")
		}
	}
}

func TestAggregatorStopTearsDownSubscriptions(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 1.0})
	require.NoError(t, f.agg.Start())

	f.agg.Stop()

	f.changes.mu.Lock()
	assert.True(t, f.changes.unsubscribed, "change feed must be released on Stop")
	f.changes.mu.Unlock()

	f.source.mu.Lock()
	assert.True(t, f.source.unsubscribed, "location watch must be released on Stop")
	f.source.mu.Unlock()
}

func TestAggregatorRejectsInvalidRadius(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 1.0})
	require.NoError(t, f.agg.Start())

	assert.Error(t, f.agg.UpdateRadius(0))
	assert.Error(t, f.agg.UpdateRadius(5.1))
	assert.NoError(t, f.agg.UpdateRadius(0.1))
	assert.NoError(t, f.agg.UpdateRadius(5.0))
}

func TestAggregatorStartRejectsInvalidScope(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 12})
	assert.Error(t, f.agg.Start())
}

func TestAggregatorUpdateRadiusAfterStop(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 1.0})
	require.NoError(t, f.agg.Start())
	f.agg.Stop()

	assert.ErrorIs(t, f.agg.UpdateRadius(2.0), feed.ErrStopped)
}

func TestAggregatorScopesFeedToAuthor(t *testing.T) {
	f := newFixture(t, feed.Scope{Radius: 1.0, AuthorID: "author-1"})
	require.NoError(t, f.agg.Start())

	f.changes.mu.Lock()
	defer f.changes.mu.Unlock()
	assert.Equal(t, "author-1", f.changes.scope.AuthorID)
}

func TestAggregatorHoldsWhenLocationPermissionDenied(t *testing.T) {
	f := &fixture{
		changes:  &fakeChangeFeed{},
		source:   &fakeSource{watchErr: location.ErrPermissionDenied},
		resolver: newFakeResolver(),
	}
	f.agg = NewAggregator(feed.Scope{Radius: 1.0}, f.changes, f.source, f.resolver, testLogger())
	t.Cleanup(f.agg.Stop)

	require.NoError(t, f.agg.Start(), "a denied location watch still starts the pipeline")

	u := nextUpdate(t, f.agg)
	assert.Equal(t, feed.StateAwaiting, u.State)
	assert.Equal(t, feed.PrereqLocation, u.Pending)

	// Posts arriving while blocked must not publish an empty list.
	f.changes.push(
		post.ContentRecord{ID: "p1", AuthorID: "u1", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
	)

	select {
	case u, ok := <-f.agg.Updates():
		if ok {
			assert.NotEqual(t, feed.StatePublished, u.State)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAggregatorRefreshRearmsLocation(t *testing.T) {
	src := &fakeSource{watchErr: location.ErrPermissionDenied}
	f := &fixture{changes: &fakeChangeFeed{}, source: src, resolver: newFakeResolver()}
	f.agg = NewAggregator(feed.Scope{Radius: 1.0}, f.changes, f.source, f.resolver, testLogger())
	t.Cleanup(f.agg.Stop)
	require.NoError(t, f.agg.Start())

	f.changes.push(
		post.ContentRecord{ID: "p1", AuthorID: "u1", Location: coord(0, 0), CreatedAt: ts(t, "2025-06-01T10:00:00Z")},
	)

	// Permission recovers.
	src.mu.Lock()
	src.watchErr = nil
	src.mu.Unlock()
	require.NoError(t, f.agg.Refresh())

	f.source.emit(geo.Coordinate{Latitude: 0, Longitude: 0})

	u := nextPublished(t, f.agg)
	require.Len(t, u.Posts, 1)
	assert.Equal(t, "p1", u.Posts[0].ID)
}
