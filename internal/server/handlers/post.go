// internal/server/handlers/post.go

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"nearfeed/internal/domain/geo"
)

// PostWriter is the write side of the post collection.
type PostWriter interface {
	CreatePost(ctx context.Context, authorID, body string, loc *geo.Coordinate) (string, error)
}

// ChangeNotifier signals post collection changes to live feeds.
type ChangeNotifier interface {
	PostsChanged(postID string)
}

// PostHandler handles post HTTP requests
type PostHandler struct {
	posts    PostWriter
	notifier ChangeNotifier
}

// NewPostHandler creates a new post handler
func NewPostHandler(posts PostWriter, notifier ChangeNotifier) *PostHandler {
	return &PostHandler{
		posts:    posts,
		notifier: notifier,
	}
}

// CreatePost creates a post authored by the caller. The id and timestamp
// are store-assigned.
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	type createPostRequest struct {
		Body     string          `json:"body"`
		Location *geo.Coordinate `json:"location"`
	}

	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Body == "" {
		respondWithError(w, http.StatusBadRequest, "Post body must not be empty")
		return
	}
	if req.Location != nil && !req.Location.Valid() {
		respondWithError(w, http.StatusBadRequest, "Invalid coordinate")
		return
	}

	authorID := UserID(r.Context())
	id, err := h.posts.CreatePost(r.Context(), authorID, req.Body, req.Location)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create post")
		return
	}

	h.notifier.PostsChanged(id)

	respondWithJSON(w, http.StatusCreated, map[string]string{"id": id})
}
