package post

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nearfeed/internal/domain/geo"
)

// Document is a post exactly as the store delivers it, before validation.
// Location stays raw because historical writers produced several shapes for
// it; Parse is the only place allowed to interpret it.
type Document struct {
	ID        string
	AuthorID  string
	Body      string
	Location  json.RawMessage
	CreatedAt *time.Time
}

// ContentRecord is a validated post. Location is nil when the document
// carried no well-formed coordinate; such records never reach a feed.
type ContentRecord struct {
	ID        string
	AuthorID  string
	Body      string
	Location  *geo.Coordinate
	CreatedAt *time.Time
}

// EnrichedPost is the aggregation engine's sole output unit: a visible
// record joined with its author's profile and the observer-relative
// distance at the moment of assembly.
type EnrichedPost struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	DisplayName   string    `json:"display_name"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	Body          string    `json:"body"`
	DistanceMiles float64   `json:"distance_miles"`
	CreatedAt     time.Time `json:"created_at"`
}

// Snapshot is a full replacement of the visible post collection. The feed
// never delivers deltas.
type Snapshot struct {
	Records []ContentRecord
}

// Scope narrows a change-feed subscription. A zero Scope covers the whole
// collection; AuthorID restricts it to one author's posts.
type Scope struct {
	AuthorID string
}

// Subscription is a live change-feed registration.
type Subscription interface {
	// Unsubscribe tears the registration down. It is safe to call more
	// than once.
	Unsubscribe()
}

// ChangeFeed delivers full snapshots of the post collection, newest first,
// whenever the underlying collection changes. The first snapshot arrives
// shortly after Subscribe returns.
type ChangeFeed interface {
	Subscribe(ctx context.Context, scope Scope, deliver func(Snapshot)) (Subscription, error)
}

// Parse validates a raw document into a ContentRecord. A location that is
// missing, not an object, non-numeric, or out of coordinate range is
// dropped; the record itself is kept so author-scoped counts stay honest.
func Parse(doc Document) ContentRecord {
	rec := ContentRecord{
		ID:        doc.ID,
		AuthorID:  doc.AuthorID,
		Body:      doc.Body,
		CreatedAt: doc.CreatedAt,
	}

	if len(doc.Location) == 0 {
		return rec
	}

	var loc struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(doc.Location, &loc); err != nil {
		return rec
	}
	if loc.Latitude == nil || loc.Longitude == nil {
		return rec
	}

	c := geo.Coordinate{Latitude: *loc.Latitude, Longitude: *loc.Longitude}
	if !c.Valid() {
		return rec
	}

	rec.Location = &c
	return rec
}

// ParseAll validates a batch of documents, preserving order.
func ParseAll(docs []Document) []ContentRecord {
	records := make([]ContentRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, Parse(doc))
	}
	return records
}

// relative-time buckets, largest first
var intervals = []struct {
	label   string
	seconds int64
}{
	{"year", 31536000},
	{"month", 2592000},
	{"day", 86400},
	{"hour", 3600},
	{"minute", 60},
	{"second", 1},
}

// RelativeTime humanizes the age of a timestamp ("3 minutes ago").
func RelativeTime(t, now time.Time) string {
	seconds := int64(now.Sub(t).Round(time.Second).Seconds())
	for _, iv := range intervals {
		if count := seconds / iv.seconds; count >= 1 {
			if count > 1 {
				return fmt.Sprintf("%d %ss ago", count, iv.label)
			}
			return fmt.Sprintf("1 %s ago", iv.label)
		}
	}
	return "Just now"
}
