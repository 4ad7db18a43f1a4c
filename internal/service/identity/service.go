package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"nearfeed/internal/domain/identity"
)

// UserStore defines the storage interface for accounts.
type UserStore interface {
	// CreateUser inserts a new account with its password hash. It must
	// not overwrite an existing user document.
	CreateUser(ctx context.Context, user identity.User, passwordHash string) error

	// GetUser retrieves an account by id, or identity.ErrNotFound.
	GetUser(ctx context.Context, id string) (*identity.User, error)

	// GetUserByEmail retrieves an account and its password hash by
	// email, or identity.ErrNotFound.
	GetUserByEmail(ctx context.Context, email string) (*identity.User, string, error)
}

// Config contains configuration for the identity service.
type Config struct {
	TokenSecret string
	TokenExpiry time.Duration
}

// Service implements identity.Service: account creation, email and
// anonymous sign-in, and session verification.
type Service struct {
	store  UserStore
	tokens identity.TokenManager
	log    *logrus.Logger
	config Config
}

// NewService creates an identity service.
func NewService(store UserStore, tokens identity.TokenManager, log *logrus.Logger, config Config) *Service {
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = 24 * time.Hour
	}
	return &Service{
		store:  store,
		tokens: tokens,
		log:    log,
		config: config,
	}
}

// GenerateRandomUsername produces a "user######" handle for accounts
// created without one.
func GenerateRandomUsername() string {
	return fmt.Sprintf("user%d", 100000+rand.Intn(900000))
}

// SignUp creates an account and its user document. Omitted profile fields
// are written with their defaults; a missing username gets a random one.
func (s *Service) SignUp(ctx context.Context, data identity.NewUserData, password string) (*identity.User, string, error) {
	if data.Email == "" {
		return nil, "", fmt.Errorf("identity: email is required")
	}
	if password == "" {
		return nil, "", fmt.Errorf("identity: password is required")
	}

	if _, _, err := s.store.GetUserByEmail(ctx, data.Email); err == nil {
		return nil, "", identity.ErrEmailTaken
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, "", fmt.Errorf("error checking existing account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("error hashing password: %w", err)
	}

	username := data.Username
	if username == "" {
		username = GenerateRandomUsername()
	}

	user := identity.User{
		ID:        uuid.New().String(),
		Email:     data.Email,
		Username:  username,
		FirstName: data.FirstName,
		LastName:  data.LastName,
		City:      data.City,
		DOB:       data.DOB,
		PhotoURL:  data.PhotoURL,
		CreatedAt: time.Now(),
	}

	if err := s.store.CreateUser(ctx, user, string(hash)); err != nil {
		return nil, "", fmt.Errorf("error creating user: %w", err)
	}

	token, err := s.tokens.Generate(user.ID, s.config.TokenExpiry)
	if err != nil {
		return nil, "", fmt.Errorf("error generating session token: %w", err)
	}

	s.log.WithField("user_id", user.ID).Info("account created")
	return &user, token, nil
}

// LogIn authenticates an email/password pair. Unknown emails and wrong
// passwords fail identically.
func (s *Service) LogIn(ctx context.Context, email, password string) (*identity.User, string, error) {
	user, hash, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, "", identity.ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("error looking up account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, "", identity.ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user.ID, s.config.TokenExpiry)
	if err != nil {
		return nil, "", fmt.Errorf("error generating session token: %w", err)
	}

	return user, token, nil
}

// LogInAnonymously issues a throwaway session with no stored user
// document; anonymous authors resolve to the fallback profile.
func (s *Service) LogInAnonymously(ctx context.Context) (*identity.User, string, error) {
	user := identity.User{
		ID:          uuid.New().String(),
		IsAnonymous: true,
		CreatedAt:   time.Now(),
	}

	token, err := s.tokens.Generate(user.ID, s.config.TokenExpiry)
	if err != nil {
		return nil, "", fmt.Errorf("error generating session token: %w", err)
	}

	return &user, token, nil
}

// Verify validates a session token and returns the user id it names.
func (s *Service) Verify(token string) (string, error) {
	return s.tokens.Validate(token)
}
