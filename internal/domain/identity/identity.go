package identity

import (
	"context"
	"errors"
	"time"

	"nearfeed/internal/domain/geo"
)

var (
	// ErrInvalidCredentials covers both unknown users and wrong passwords
	// so the sign-in surface cannot be used to probe for accounts.
	ErrInvalidCredentials = errors.New("identity: user or password do not match")

	// ErrEmailTaken is returned when signing up with an email that already
	// has an account.
	ErrEmailTaken = errors.New("identity: email already in use")

	// ErrInvalidToken is returned for malformed or expired session tokens.
	ErrInvalidToken = errors.New("identity: invalid token")

	// ErrNotFound is returned when no account exists for a lookup.
	ErrNotFound = errors.New("identity: user not found")
)

// User is a stored account with its profile fields. The zero values mirror
// what account creation writes for omitted fields.
type User struct {
	ID             string
	Email          string
	Username       string
	FirstName      string
	LastName       string
	Bio            string
	City           string
	DOB            string
	PhotoURL       string
	FollowerCount  int
	FollowingCount int
	PostCount      int
	IsAnonymous    bool
	Location       *geo.Coordinate
	CreatedAt      time.Time
}

// NewUserData carries the caller-supplied fields of a signup. Everything
// except Email may be empty.
type NewUserData struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	City      string
	DOB       string
	PhotoURL  string
}

// Service manages accounts and sessions.
type Service interface {
	// SignUp creates an account and its user document, generating a
	// random username when none is given. Creating an account for an
	// existing email fails with ErrEmailTaken.
	SignUp(ctx context.Context, data NewUserData, password string) (*User, string, error)

	// LogIn authenticates an email/password pair and returns the user
	// with a session token.
	LogIn(ctx context.Context, email, password string) (*User, string, error)

	// LogInAnonymously creates a throwaway anonymous session.
	LogInAnonymously(ctx context.Context) (*User, string, error)

	// Verify validates a session token and returns the user id it names.
	Verify(token string) (string, error)
}

// TokenManager issues and validates session tokens.
type TokenManager interface {
	Generate(userID string, ttl time.Duration) (string, error)
	Validate(token string) (string, error)
}
