// internal/server/handlers/auth.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"nearfeed/internal/domain/identity"
)

type contextKey string

// userIDKey carries the authenticated user id through a request context.
const userIDKey contextKey = "user_id"

// UserID returns the authenticated user id of a request, if any.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// AuthHandler handles account and session HTTP requests
type AuthHandler struct {
	identity identity.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc identity.Service) *AuthHandler {
	return &AuthHandler{
		identity: svc,
	}
}

type sessionResponse struct {
	User  *identity.User `json:"user"`
	Token string         `json:"token"`
}

// SignUp creates an account
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	type signUpRequest struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		City      string `json:"city"`
		DOB       string `json:"dob"`
		PhotoURL  string `json:"photo_url"`
	}

	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := h.identity.SignUp(r.Context(), identity.NewUserData{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		City:      req.City,
		DOB:       req.DOB,
		PhotoURL:  req.PhotoURL,
	}, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			respondWithError(w, http.StatusConflict, "Email already in use")
			return
		}
		respondWithError(w, http.StatusBadRequest, "Failed to create account")
		return
	}

	respondWithJSON(w, http.StatusCreated, sessionResponse{User: user, Token: token})
}

// LogIn authenticates an email/password pair
func (h *AuthHandler) LogIn(w http.ResponseWriter, r *http.Request) {
	type logInRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	var req logInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := h.identity.LogIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			respondWithError(w, http.StatusUnauthorized, "User or password do not match")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	respondWithJSON(w, http.StatusOK, sessionResponse{User: user, Token: token})
}

// LogInAnonymously issues a throwaway anonymous session
func (h *AuthHandler) LogInAnonymously(w http.ResponseWriter, r *http.Request) {
	user, token, err := h.identity.LogInAnonymously(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	respondWithJSON(w, http.StatusOK, sessionResponse{User: user, Token: token})
}

// Middleware authenticates requests by Bearer token and stores the user
// id on the request context.
func (h *AuthHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.verifyRequest(r)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// VerifyRequest authenticates a request outside the middleware chain,
// e.g. before a WebSocket upgrade where the token may arrive as a query
// parameter.
func (h *AuthHandler) VerifyRequest(r *http.Request) (string, error) {
	return h.verifyRequest(r)
}

func (h *AuthHandler) verifyRequest(r *http.Request) (string, error) {
	token := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", identity.ErrInvalidToken
	}

	return h.identity.Verify(token)
}
