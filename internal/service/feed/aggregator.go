package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nearfeed/internal/domain/feed"
	"nearfeed/internal/domain/geo"
	"nearfeed/internal/domain/location"
	"nearfeed/internal/domain/post"
	"nearfeed/internal/domain/profile"
)

// updateBuffer bounds pending emissions; when a consumer lags, older
// updates are dropped in favor of newer ones.
const updateBuffer = 16

// Aggregator is one live aggregation pipeline: it consumes change-feed
// snapshots and observer samples, and republishes the filtered, enriched,
// ordered post list on every effective change.
//
// Re-computation is serialized per pipeline with a generation counter:
// every trigger takes a fresh generation, and a pass publishes only if its
// generation is still the newest when it completes (last-trigger-wins).
// Stop bumps the pipeline into a terminal state so no in-flight pass can
// publish afterwards.
type Aggregator struct {
	scope    feed.Scope
	changes  post.ChangeFeed
	source   location.Source
	resolver profile.Resolver
	log      *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	updates chan feed.Update

	mu        sync.Mutex
	state     feed.State
	pending   feed.Prerequisite
	radius    float64
	observer  *geo.Coordinate
	snapshot  []post.ContentRecord
	hasSnap   bool
	selfReady bool
	gen       uint64
	stopped   bool
	feedSub   post.Subscription
	locSub    location.Subscription
}

// NewAggregator creates a pipeline for the given scope. Nothing runs until
// Start.
func NewAggregator(
	scope feed.Scope,
	changes post.ChangeFeed,
	source location.Source,
	resolver profile.Resolver,
	log *logrus.Logger,
) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Aggregator{
		scope:    scope,
		changes:  changes,
		source:   source,
		resolver: resolver,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		updates:  make(chan feed.Update, updateBuffer),
		state:    feed.StateIdle,
		radius:   scope.Radius,
		// An anonymous observer has no self profile to prefetch.
		selfReady: scope.ObserverID == "",
	}
}

// Updates is the pipeline's output channel. Consumers always observe whole
// lists, never partial ones.
func (a *Aggregator) Updates() <-chan feed.Update {
	return a.updates
}

// Start validates the scope, arms the change-feed and location
// subscriptions, and kicks off the self-profile prefetch.
func (a *Aggregator) Start() error {
	if err := a.scope.Validate(); err != nil {
		return err
	}

	feedSub, err := a.changes.Subscribe(a.ctx, post.Scope{AuthorID: a.scope.AuthorID}, a.onSnapshot)
	if err != nil {
		return err
	}

	locSub, err := a.source.Watch(a.ctx, a.onObserverSample)
	if err != nil {
		// Permission denied or no position: hold in the awaiting state.
		// The subscription stays armed for everything else; location
		// acquisition re-arms through Refresh.
		a.log.WithError(err).Warn("location unavailable, feed awaiting observer coordinate")
	}

	a.mu.Lock()
	a.feedSub = feedSub
	a.locSub = locSub
	a.mu.Unlock()

	if a.scope.ObserverID != "" {
		go a.prefetchSelfProfile()
	}

	a.trigger()
	return nil
}

// UpdateRadius changes the visibility radius and re-runs the pipeline with
// the last known snapshot; no new change-feed event is needed.
func (a *Aggregator) UpdateRadius(miles float64) error {
	if miles < feed.MinRadius || miles > feed.MaxRadius {
		return feed.Scope{Radius: miles}.Validate()
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return feed.ErrStopped
	}
	changed := a.radius != miles
	a.radius = miles
	a.mu.Unlock()

	if changed {
		a.trigger()
	}
	return nil
}

// Refresh re-attempts location acquisition, e.g. after the app returns to
// the foreground with permission newly granted.
func (a *Aggregator) Refresh() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return feed.ErrStopped
	}
	armed := a.locSub != nil
	a.mu.Unlock()
	if armed {
		return nil
	}

	locSub, err := a.source.Watch(a.ctx, a.onObserverSample)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		locSub.Unsubscribe()
		return feed.ErrStopped
	}
	a.locSub = locSub
	a.mu.Unlock()
	return nil
}

// Stop tears down both subscriptions synchronously and prevents any
// in-flight pass from publishing. The updates channel is closed.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.state = feed.StateStopped
	feedSub, locSub := a.feedSub, a.locSub
	a.feedSub, a.locSub = nil, nil
	close(a.updates)
	a.mu.Unlock()

	a.cancel()
	if feedSub != nil {
		feedSub.Unsubscribe()
	}
	if locSub != nil {
		locSub.Unsubscribe()
	}
}

// onSnapshot receives a full-replace snapshot from the change feed.
func (a *Aggregator) onSnapshot(s post.Snapshot) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.snapshot = s.Records
	a.hasSnap = true
	a.mu.Unlock()

	a.trigger()
}

// onObserverSample receives a gated observer coordinate.
func (a *Aggregator) onObserverSample(c geo.Coordinate) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	coord := c
	a.observer = &coord
	a.mu.Unlock()

	a.trigger()
}

// prefetchSelfProfile resolves the observer's own profile once per
// pipeline so per-post resolutions for it never race a redundant fetch.
func (a *Aggregator) prefetchSelfProfile() {
	if _, err := a.resolver.Resolve(a.ctx, a.scope.ObserverID); err != nil {
		return // pipeline stopped
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.selfReady = true
	a.mu.Unlock()

	a.trigger()
}

// trigger runs the pipeline once: either an awaiting-prerequisites
// emission, or a new generation of the full pass.
func (a *Aggregator) trigger() {
	a.mu.Lock()

	if a.stopped {
		a.mu.Unlock()
		return
	}

	if pending, ok := a.pendingLocked(); ok {
		// Re-emit only on an effective change of the blocking prerequisite.
		if a.state != feed.StateAwaiting || a.pending != pending {
			a.state = feed.StateAwaiting
			a.pending = pending
			a.emitLocked(feed.Update{
				State:   feed.StateAwaiting,
				Pending: pending,
				Caption: pending.Caption(),
			})
		}
		a.mu.Unlock()
		return
	}

	a.gen++
	gen := a.gen
	observer := *a.observer
	radius := a.radius
	records := a.snapshot
	a.state = feed.StateComputing
	a.mu.Unlock()

	go a.run(gen, observer, radius, records)
}

// pendingLocked reports the first unmet prerequisite in dependency order.
func (a *Aggregator) pendingLocked() (feed.Prerequisite, bool) {
	switch {
	case a.observer == nil:
		return feed.PrereqLocation, true
	case !a.selfReady:
		return feed.PrereqProfile, true
	case !a.hasSnap:
		return feed.PrereqPosts, true
	}
	return "", false
}

type candidate struct {
	rec      post.ContentRecord
	distance float64
}

// run executes one aggregation pass: geo-filter, batched author
// enrichment, assembly, ordering, publish.
func (a *Aggregator) run(gen uint64, observer geo.Coordinate, radius float64, records []post.ContentRecord) {
	visible := make([]candidate, 0, len(records))
	for _, rec := range records {
		if rec.Location == nil {
			continue
		}
		d := geo.Distance(observer, *rec.Location)
		if d > radius {
			continue
		}
		visible = append(visible, candidate{rec: rec, distance: d})
	}

	authors, err := a.resolveAuthors(visible)
	if err != nil {
		return // pipeline stopped mid-enrichment
	}

	now := time.Now()
	posts := make([]post.EnrichedPost, 0, len(visible))
	for _, c := range visible {
		author, ok := authors[c.rec.AuthorID]
		if !ok {
			author = profile.Anonymous(c.rec.AuthorID)
		}

		createdAt := now
		if c.rec.CreatedAt != nil {
			createdAt = *c.rec.CreatedAt
		}

		posts = append(posts, post.EnrichedPost{
			ID:            c.rec.ID,
			AuthorID:      c.rec.AuthorID,
			DisplayName:   author.DisplayName,
			AvatarURL:     author.AvatarURL,
			Body:          c.rec.Body,
			DistanceMiles: geo.ClampDistance(c.distance),
			CreatedAt:     createdAt,
		})
	}

	// Newest first; missing timestamps were pinned to the pass time above,
	// so they sort to the top. Ties break deterministically by id.
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || gen != a.gen {
		// Superseded by a newer trigger (or stopped): discard.
		return
	}
	a.state = feed.StatePublished
	a.emitLocked(feed.Update{State: feed.StatePublished, Posts: posts})
}

// resolveAuthors resolves the distinct author set of one pass in parallel,
// waiting for the whole batch: one lookup per distinct author, never one
// per post.
func (a *Aggregator) resolveAuthors(visible []candidate) (map[string]profile.AuthorProfile, error) {
	distinct := make(map[string]struct{}, len(visible))
	for _, c := range visible {
		distinct[c.rec.AuthorID] = struct{}{}
	}

	var mu sync.Mutex
	authors := make(map[string]profile.AuthorProfile, len(distinct))

	g, ctx := errgroup.WithContext(a.ctx)
	for authorID := range distinct {
		authorID := authorID
		g.Go(func() error {
			p, err := a.resolver.Resolve(ctx, authorID)
			if err != nil {
				return err
			}
			mu.Lock()
			authors[authorID] = p
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return authors, nil
}

// emitLocked delivers an update without blocking the pipeline: when the
// consumer lags, the oldest pending update is dropped for the newer one.
// Callers hold a.mu.
func (a *Aggregator) emitLocked(u feed.Update) {
	for {
		select {
		case a.updates <- u:
			return
		default:
			select {
			case <-a.updates:
			default:
			}
		}
	}
}
