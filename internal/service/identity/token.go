package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nearfeed/internal/domain/identity"
)

type sessionClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates HMAC-signed session tokens.
type JWTManager struct {
	secret []byte
}

// NewJWTManager creates a token manager with the given signing secret.
func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{secret: []byte(secret)}
}

// Generate creates a session token for a user.
func (m *JWTManager) Generate(userID string, ttl time.Duration) (string, error) {
	claims := &sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate checks a session token and returns the user id it names.
func (m *JWTManager) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Reject unexpected algorithms to prevent confusion attacks.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, identity.ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		return "", identity.ErrInvalidToken
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", identity.ErrInvalidToken
	}
	return claims.UserID, nil
}
