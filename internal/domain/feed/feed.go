package feed

import (
	"errors"
	"fmt"

	"nearfeed/internal/domain/post"
)

// Radius bounds, in miles. The radius is user-adjustable in 0.1 steps.
const (
	DefaultRadius = 1.0
	MinRadius     = 0.1
	MaxRadius     = 5.0
)

// ErrSubscription wraps a change-feed delivery failure. The aggregator
// logs it and holds its last published list rather than going empty.
var ErrSubscription = errors.New("feed: subscription error")

// ErrStopped is returned by operations on a stopped aggregator.
var ErrStopped = errors.New("feed: aggregator stopped")

// State is the lifecycle state of one aggregation pipeline.
type State string

const (
	StateIdle      State = "idle"
	StateAwaiting  State = "awaiting_prerequisites"
	StateComputing State = "computing"
	StatePublished State = "published"
	StateStopped   State = "stopped"
)

// Prerequisite identifies which dependency an awaiting pipeline is blocked
// on. The order is the true dependency order: auth before location before
// profile before posts.
type Prerequisite string

const (
	PrereqAuth     Prerequisite = "auth"
	PrereqLocation Prerequisite = "location"
	PrereqProfile  Prerequisite = "profile"
	PrereqPosts    Prerequisite = "posts"
)

// Caption returns the loading caption shown while the prerequisite is
// unmet.
func (p Prerequisite) Caption() string {
	switch p {
	case PrereqAuth:
		return "Authenticating…"
	case PrereqLocation:
		return "Getting your location…"
	case PrereqProfile:
		return "Loading your profile…"
	default:
		return "Loading posts…"
	}
}

// Scope fixes the parameters of one aggregation pipeline at start time.
// Radius may change later through UpdateRadius; the rest requires a fresh
// pipeline.
type Scope struct {
	// Radius is the initial visibility radius in miles.
	Radius float64

	// AuthorID, when set, restricts the feed to one author's posts.
	AuthorID string

	// ObserverID is the viewing user's id, used to seed the resolver with
	// the self profile before the first pass.
	ObserverID string
}

// Validate checks the scope is usable.
func (s Scope) Validate() error {
	if s.Radius < MinRadius || s.Radius > MaxRadius {
		return fmt.Errorf("feed: radius %.1f outside [%.1f, %.1f]", s.Radius, MinRadius, MaxRadius)
	}
	return nil
}

// Update is one emission from an aggregation pipeline. Posts is only
// meaningful in StatePublished; Pending only in StateAwaiting.
type Update struct {
	State   State               `json:"state"`
	Pending Prerequisite        `json:"pending,omitempty"`
	Caption string              `json:"caption,omitempty"`
	Posts   []post.EnrichedPost `json:"posts"`
}

// Aggregator is one live aggregation pipeline. Implementations emit on
// Updates whenever the published list or blocking prerequisite changes,
// and must stop emitting synchronously once Stop returns.
type Aggregator interface {
	Start() error
	UpdateRadius(miles float64) error
	Updates() <-chan Update
	Stop()
}
