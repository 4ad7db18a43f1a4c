package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"nearfeed/internal/domain/geo"
	"nearfeed/internal/domain/identity"
	"nearfeed/internal/domain/profile"
)

// UserStore implements storage for user accounts. It backs account
// lookups, profile resolution and location persistence.
type UserStore struct {
	db *pgxpool.Pool
}

// NewUserStore creates a new user store.
func NewUserStore(db *pgxpool.Pool) *UserStore {
	return &UserStore{
		db: db,
	}
}

// CreateUser inserts a new account with its password hash. An existing
// user document is never overwritten.
func (s *UserStore) CreateUser(ctx context.Context, user identity.User, passwordHash string) error {
	query := `
		INSERT INTO users (
			id, email, password_hash, username, first_name, last_name,
			bio, city, dob, photo_url,
			follower_count, following_count, post_count, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := s.db.Exec(ctx, query,
		user.ID, user.Email, passwordHash, user.Username, user.FirstName, user.LastName,
		user.Bio, user.City, user.DOB, user.PhotoURL,
		user.FollowerCount, user.FollowingCount, user.PostCount, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s already exists", user.ID)
	}

	return nil
}

// GetUser retrieves an account by id.
func (s *UserStore) GetUser(ctx context.Context, id string) (*identity.User, error) {
	query := `
		SELECT id, email, username, first_name, last_name,
		       bio, city, dob, photo_url,
		       follower_count, following_count, post_count,
		       location_lat, location_lng, created_at
		FROM users
		WHERE id = $1
	`

	return s.scanUser(s.db.QueryRow(ctx, query, id))
}

// GetUserByEmail retrieves an account and its password hash by email.
func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*identity.User, string, error) {
	query := `
		SELECT id, email, username, first_name, last_name,
		       bio, city, dob, photo_url,
		       follower_count, following_count, post_count,
		       location_lat, location_lng, created_at, password_hash
		FROM users
		WHERE email = $1
	`

	return s.scanUserWithHash(s.db.QueryRow(ctx, query, email))
}

// GetProfile returns the display fields of a user document for author
// resolution.
func (s *UserStore) GetProfile(ctx context.Context, userID string) (profile.Document, error) {
	query := `
		SELECT username, first_name, photo_url
		FROM users
		WHERE id = $1
	`

	var doc profile.Document
	err := s.db.QueryRow(ctx, query, userID).Scan(&doc.Username, &doc.FirstName, &doc.PhotoURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.Document{}, profile.ErrNotFound
		}
		return profile.Document{}, fmt.Errorf("error executing query: %w", err)
	}

	return doc, nil
}

// UpdateLocation writes an observer sample onto the user document. Only
// the location columns change; all other fields are left untouched.
func (s *UserStore) UpdateLocation(ctx context.Context, userID string, c geo.Coordinate, at time.Time) error {
	query := `
		UPDATE users
		SET location_lat = $2, location_lng = $3, location_updated_at = $4
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, userID, c.Latitude, c.Longitude, at)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", userID)
	}

	return nil
}

func (s *UserStore) scanUser(row pgx.Row) (*identity.User, error) {
	var user identity.User
	var lat, lng *float64

	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.FirstName, &user.LastName,
		&user.Bio, &user.City, &user.DOB, &user.PhotoURL,
		&user.FollowerCount, &user.FollowingCount, &user.PostCount,
		&lat, &lng, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning user: %w", err)
	}

	if lat != nil && lng != nil {
		user.Location = &geo.Coordinate{Latitude: *lat, Longitude: *lng}
	}
	return &user, nil
}

func (s *UserStore) scanUserWithHash(row pgx.Row) (*identity.User, string, error) {
	var user identity.User
	var lat, lng *float64
	var hash string

	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.FirstName, &user.LastName,
		&user.Bio, &user.City, &user.DOB, &user.PhotoURL,
		&user.FollowerCount, &user.FollowingCount, &user.PostCount,
		&lat, &lng, &user.CreatedAt, &hash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", identity.ErrNotFound
		}
		return nil, "", fmt.Errorf("error scanning user: %w", err)
	}

	if lat != nil && lng != nil {
		user.Location = &geo.Coordinate{Latitude: *lat, Longitude: *lng}
	}
	return &user, hash, nil
}
