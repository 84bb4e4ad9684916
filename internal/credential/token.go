package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidLink = errors.New("invalid or expired card link")

// LinkClaims identify a stored card. The subject is the session ID.
type LinkClaims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// LinkSigner signs and verifies card download links
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLinkSigner creates a signer whose links expire after ttl
func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	return &LinkSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign creates a token for the card stored under key
func (s *LinkSigner) Sign(sessionID uuid.UUID, key string) (string, error) {
	now := s.now()
	claims := &LinkClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign card link: %w", err)
	}
	return tokenString, nil
}

// Verify parses a token produced by Sign
func (s *LinkSigner) Verify(tokenString string) (*LinkClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LinkClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}

	claims, ok := token.Claims.(*LinkClaims)
	if !ok || !token.Valid || claims.Key == "" {
		return nil, ErrInvalidLink
	}
	return claims, nil
}
