package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"nearfeed/internal/domain/profile"
)

// ResolverConfig contains configuration for the cached resolver.
type ResolverConfig struct {
	// LookupTimeout bounds one store lookup. A lookup that exceeds it
	// resolves to the anonymous fallback instead of blocking its batch.
	LookupTimeout time.Duration
}

// DefaultLookupTimeout bounds a single profile lookup.
const DefaultLookupTimeout = 5 * time.Second

// CachedResolver resolves user ids to author profiles through a
// process-lifetime memoizing cache. Lookup failures and missing documents
// are cached negatively as the anonymous profile so the same id is never
// retried. Concurrent misses for one id coalesce into a single store
// lookup.
//
// One instance is shared across all aggregation pipelines; construct
// isolated instances in tests.
type CachedResolver struct {
	store   profile.Store
	log     *logrus.Logger
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]profile.AuthorProfile
	sf    singleflight.Group
}

// NewCachedResolver creates a resolver backed by the given store.
func NewCachedResolver(store profile.Store, log *logrus.Logger, cfg ResolverConfig) *CachedResolver {
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	return &CachedResolver{
		store:   store,
		log:     log,
		timeout: timeout,
		cache:   make(map[string]profile.AuthorProfile),
	}
}

// Resolve returns the author profile for userID. Cache hits return
// immediately; misses issue one coalesced store lookup bounded by the
// configured timeout. The error is non-nil only when ctx ends first.
func (r *CachedResolver) Resolve(ctx context.Context, userID string) (profile.AuthorProfile, error) {
	r.mu.RLock()
	p, ok := r.cache[userID]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	ch := r.sf.DoChan(userID, func() (interface{}, error) {
		return r.lookup(userID), nil
	})

	select {
	case res := <-ch:
		return res.Val.(profile.AuthorProfile), nil
	case <-ctx.Done():
		return profile.Anonymous(userID), ctx.Err()
	}
}

// Seed stores a known profile proactively, so resolutions for that id
// never race a redundant fetch. Used for the observer's own profile once
// it is fetched for the session.
func (r *CachedResolver) Seed(p profile.AuthorProfile) {
	r.mu.Lock()
	r.cache[p.UserID] = p
	r.mu.Unlock()
}

// lookup performs the bounded store fetch and memoizes its outcome. The
// lookup deliberately runs on a background context: it serves every
// coalesced caller, not just the first one.
func (r *CachedResolver) lookup(userID string) profile.AuthorProfile {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var p profile.AuthorProfile
	doc, err := r.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		p = profile.AuthorProfile{
			UserID:      userID,
			DisplayName: doc.DisplayName(),
			AvatarURL:   doc.PhotoURL,
		}
	case errors.Is(err, profile.ErrNotFound):
		p = profile.Anonymous(userID)
	default:
		r.log.WithError(err).WithField("user_id", userID).Warn("profile lookup failed, caching fallback")
		p = profile.Anonymous(userID)
	}

	r.mu.Lock()
	r.cache[userID] = p
	r.mu.Unlock()

	return p
}
