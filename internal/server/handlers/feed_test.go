// internal/server/handlers/feed_test.go

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearfeed/internal/domain/geo"
	"nearfeed/internal/domain/post"
	"nearfeed/internal/domain/profile"
)

type stubSubscription struct{}

func (stubSubscription) Unsubscribe() {}

// stubChangeFeed delivers one fixed snapshot shortly after Subscribe.
type stubChangeFeed struct {
	records []post.ContentRecord
}

func (f *stubChangeFeed) Subscribe(ctx context.Context, scope post.Scope, deliver func(post.Snapshot)) (post.Subscription, error) {
	records := f.records
	if scope.AuthorID != "" {
		scoped := make([]post.ContentRecord, 0, len(records))
		for _, r := range records {
			if r.AuthorID == scope.AuthorID {
				scoped = append(scoped, r)
			}
		}
		records = scoped
	}
	go deliver(post.Snapshot{Records: records})
	return stubSubscription{}, nil
}

type stubResolver struct {
	profiles map[string]profile.AuthorProfile
}

func (r *stubResolver) Resolve(ctx context.Context, userID string) (profile.AuthorProfile, error) {
	if p, ok := r.profiles[userID]; ok {
		return p, nil
	}
	return profile.Anonymous(userID), nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testFeedHandler(records []post.ContentRecord, profiles map[string]profile.AuthorProfile) *FeedHandler {
	return NewFeedHandler(&stubChangeFeed{records: records}, &stubResolver{profiles: profiles}, quietLogger())
}

func recordAt(id, author string, lat, lng float64, createdAt time.Time) post.ContentRecord {
	return post.ContentRecord{
		ID:        id,
		AuthorID:  author,
		Body:      "post " + id,
		Location:  &geo.Coordinate{Latitude: lat, Longitude: lng},
		CreatedAt: &createdAt,
	}
}

func TestGetNearbyFiltersAndEnriches(t *testing.T) {
	now := time.Now()
	h := testFeedHandler(
		[]post.ContentRecord{
			recordAt("p1", "alice", 0, 0, now.Add(-time.Hour)),
			recordAt("p2", "bob", 10, 10, now.Add(-time.Minute)),
		},
		map[string]profile.AuthorProfile{
			"alice": {UserID: "alice", DisplayName: "alice_h"},
		},
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed/nearby?lat=0&lng=0&radius=1.0", nil)
	rec := httptest.NewRecorder()
	h.GetNearby(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Posts []struct {
			ID            string  `json:"id"`
			DisplayName   string  `json:"display_name"`
			DistanceMiles float64 `json:"distance_miles"`
			RelativeTime  string  `json:"relative_time"`
		} `json:"posts"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "p1", resp.Posts[0].ID)
	assert.Equal(t, "alice_h", resp.Posts[0].DisplayName)
	assert.Equal(t, 0.1, resp.Posts[0].DistanceMiles)
	assert.Equal(t, "1 hour ago", resp.Posts[0].RelativeTime)
}

func TestGetNearbyOrdersNewestFirst(t *testing.T) {
	now := time.Now()
	h := testFeedHandler(
		[]post.ContentRecord{
			recordAt("old", "a", 0, 0, now.Add(-2*time.Hour)),
			recordAt("new", "b", 0, 0.001, now.Add(-time.Minute)),
		},
		nil,
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed/nearby?lat=0&lng=0", nil)
	rec := httptest.NewRecorder()
	h.GetNearby(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp feedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Posts, 2)
	assert.Equal(t, "new", resp.Posts[0].ID)
	assert.Equal(t, "old", resp.Posts[1].ID)
}

func TestGetNearbyRejectsBadParameters(t *testing.T) {
	h := testFeedHandler(nil, nil)

	cases := []struct {
		name  string
		query string
	}{
		{"missing coordinates", ""},
		{"bad latitude", "?lat=abc&lng=0"},
		{"out of range latitude", "?lat=91&lng=0"},
		{"bad radius", "?lat=0&lng=0&radius=abc"},
		{"radius above maximum", "?lat=0&lng=0&radius=5.1"},
		{"zero radius", "?lat=0&lng=0&radius=0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/feed/nearby"+tc.query, nil)
			rec := httptest.NewRecorder()
			h.GetNearby(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetNearbyAuthorScope(t *testing.T) {
	now := time.Now()
	h := testFeedHandler(
		[]post.ContentRecord{
			recordAt("p1", "alice", 0, 0, now),
			recordAt("p2", "bob", 0, 0, now),
		},
		nil,
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed/nearby?lat=0&lng=0&author_id=bob", nil)
	rec := httptest.NewRecorder()
	h.GetNearby(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp feedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, "p2", resp.Posts[0].ID)
}
