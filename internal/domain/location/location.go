package location

import (
	"context"
	"errors"
	"time"

	"nearfeed/internal/domain/geo"
)

var (
	// ErrPermissionDenied means the observer refused location access.
	// Aggregation holds in its awaiting-prerequisites state; it must not
	// be presented as an empty result.
	ErrPermissionDenied = errors.New("location: permission denied")

	// ErrPositionUnavailable means no fix could be obtained.
	ErrPositionUnavailable = errors.New("location: position unavailable")
)

// Default continuous-watch thresholds. A new sample is emitted when either
// threshold is crossed, never requiring both.
const (
	DefaultMinInterval     = 15 * time.Second
	DefaultMinDisplacement = 10.0 // meters
)

// WatchOptions tune a continuous watch.
type WatchOptions struct {
	MinInterval          time.Duration
	MinDisplacementMeter float64
}

// DefaultWatchOptions returns the standard sampling thresholds.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		MinInterval:          DefaultMinInterval,
		MinDisplacementMeter: DefaultMinDisplacement,
	}
}

// Subscription is a live watch registration.
type Subscription interface {
	// Unsubscribe stops the watch. Safe to call more than once.
	Unsubscribe()
}

// Source provides the observer's coordinates. Current is a single fetch;
// Watch delivers samples continuously until unsubscribed.
type Source interface {
	Current(ctx context.Context) (geo.Coordinate, error)
	Watch(ctx context.Context, onSample func(geo.Coordinate)) (Subscription, error)
}
