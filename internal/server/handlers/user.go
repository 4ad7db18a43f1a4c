// internal/server/handlers/user.go

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"nearfeed/internal/domain/geo"
	"nearfeed/internal/domain/identity"
	identitysvc "nearfeed/internal/service/identity"
	locsvc "nearfeed/internal/service/location"
)

// UserHandler handles user profile HTTP requests
type UserHandler struct {
	users     identitysvc.UserStore
	locations locsvc.Store
}

// NewUserHandler creates a new user handler
func NewUserHandler(users identitysvc.UserStore, locations locsvc.Store) *UserHandler {
	return &UserHandler{
		users:     users,
		locations: locations,
	}
}

type userResponse struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	Bio            string          `json:"bio,omitempty"`
	City           string          `json:"city,omitempty"`
	PhotoURL       string          `json:"photo_url,omitempty"`
	FollowerCount  int             `json:"follower_count"`
	FollowingCount int             `json:"following_count"`
	PostCount      int             `json:"post_count"`
	Location       *geo.Coordinate `json:"location,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// GetUser returns a user's public profile
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing user ID")
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}

	respondWithJSON(w, http.StatusOK, userResponse{
		ID:             user.ID,
		Username:       user.Username,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		Bio:            user.Bio,
		City:           user.City,
		PhotoURL:       user.PhotoURL,
		FollowerCount:  user.FollowerCount,
		FollowingCount: user.FollowingCount,
		PostCount:      user.PostCount,
		Location:       user.Location,
		CreatedAt:      user.CreatedAt,
	})
}

// UpdateLocation writes an observer sample onto the caller's own user
// document. Only the location fields change.
func (h *UserHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing user ID")
		return
	}
	if UserID(r.Context()) != id {
		respondWithError(w, http.StatusForbidden, "Cannot update another user's location")
		return
	}

	var c geo.Coordinate
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !c.Valid() {
		respondWithError(w, http.StatusBadRequest, "Invalid coordinate")
		return
	}

	if err := h.locations.UpdateLocation(r.Context(), id, c, time.Now()); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update location")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
