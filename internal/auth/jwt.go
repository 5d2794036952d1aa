// Package auth issues and verifies the bearer tokens the Job API requires.
// Tokens are HS256-signed JWTs carrying the user's id, email and admin flag;
// the signing secret comes from configuration, so a restart does not
// invalidate outstanding sessions.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// accessTokenDuration defines how long an access token remains valid.
const accessTokenDuration = 24 * time.Hour

// Claims holds the custom JWT claims embedded in every access token.
// Standard claims (exp, iat, iss) are included via jwt.RegisteredClaims.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the UUID of the authenticated user.
	UserID string `json:"uid"`

	// Email is included so the frontend does not need to fetch the user
	// profile just to display the logged-in identity.
	Email string `json:"email"`

	// IsAdmin is the user's admin flag at token issuance time.
	IsAdmin bool `json:"adm"`
}

// Manager handles HS256 signing and verification of access tokens.
type Manager struct {
	secret []byte
	issuer string
}

// NewManager creates a token manager for the given signing secret.
func NewManager(secret, issuer string) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	return &Manager{secret: []byte(secret), issuer: issuer}, nil
}

// GenerateAccessToken creates a signed HS256 JWT for the given user.
func (m *Manager) GenerateAccessToken(userID uuid.UUID, email string, isAdmin bool) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenDuration)),
			ID:        uuid.NewString(),
		},
		UserID:  userID.String(),
		Email:   email,
		IsAdmin: isAdmin,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and verifies a JWT string.
// Callers should use errors.Is(err, auth.ErrTokenExpired) to distinguish
// expired tokens from tampered or malformed ones.
func (m *Manager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			// Reject tokens signed with anything other than HMAC. This
			// prevents the "alg:none" confusion attack.
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
