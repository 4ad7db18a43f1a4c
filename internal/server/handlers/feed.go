// internal/server/handlers/feed.go

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"nearfeed/internal/domain/feed"
	"nearfeed/internal/domain/geo"
	"nearfeed/internal/domain/post"
	"nearfeed/internal/domain/profile"
	feedsvc "nearfeed/internal/service/feed"
	locsvc "nearfeed/internal/service/location"
)

// nearbyTimeout bounds how long a one-shot feed request waits for its
// first published list.
const nearbyTimeout = 10 * time.Second

// FeedHandler handles one-shot feed HTTP requests
type FeedHandler struct {
	changes  post.ChangeFeed
	resolver profile.Resolver
	log      *logrus.Logger
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(changes post.ChangeFeed, resolver profile.Resolver, log *logrus.Logger) *FeedHandler {
	return &FeedHandler{
		changes:  changes,
		resolver: resolver,
		log:      log,
	}
}

type feedPost struct {
	post.EnrichedPost
	RelativeTime string `json:"relative_time"`
}

type feedResponse struct {
	Posts []feedPost `json:"posts"`
	Count int        `json:"count"`
}

// GetNearby returns the posts visible within a radius of the given
// coordinate, enriched and ordered, as a single snapshot.
func (h *FeedHandler) GetNearby(w http.ResponseWriter, r *http.Request) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")
	if latStr == "" || lngStr == "" {
		respondWithError(w, http.StatusBadRequest, "Missing location parameters")
		return
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid latitude")
		return
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid longitude")
		return
	}

	radius := feed.DefaultRadius
	if radiusStr := r.URL.Query().Get("radius"); radiusStr != "" {
		radius, err = strconv.ParseFloat(radiusStr, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid radius")
			return
		}
	}

	c := geo.Coordinate{Latitude: lat, Longitude: lng}
	if !c.Valid() {
		respondWithError(w, http.StatusBadRequest, "Invalid coordinate")
		return
	}

	scope := feed.Scope{
		Radius:     radius,
		AuthorID:   r.URL.Query().Get("author_id"),
		ObserverID: UserID(r.Context()),
	}

	agg := feedsvc.NewAggregator(scope, h.changes, locsvc.StaticSource{Coord: c}, h.resolver, h.log)
	if err := agg.Start(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer agg.Stop()

	timeout := time.NewTimer(nearbyTimeout)
	defer timeout.Stop()

	for {
		select {
		case update, ok := <-agg.Updates():
			if !ok {
				respondWithError(w, http.StatusInternalServerError, "Feed closed unexpectedly")
				return
			}
			if update.State != feed.StatePublished {
				continue
			}

			now := time.Now()
			posts := make([]feedPost, 0, len(update.Posts))
			for _, p := range update.Posts {
				posts = append(posts, feedPost{
					EnrichedPost: p,
					RelativeTime: post.RelativeTime(p.CreatedAt, now),
				})
			}
			respondWithJSON(w, http.StatusOK, feedResponse{Posts: posts, Count: len(posts)})
			return

		case <-r.Context().Done():
			return

		case <-timeout.C:
			respondWithError(w, http.StatusGatewayTimeout, "Timed out assembling feed")
			return
		}
	}
}
