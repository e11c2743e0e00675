package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"folhaponto/internal/core"
)

// Claims are carried by both access and refresh tokens. Refresh tokens leave
// Email empty.
type Claims struct {
	Role  core.Role `json:"role"`
	Email string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the subject of the token.
func (c *Claims) AccountID() string { return c.Subject }

func (s *Service) sign(a core.Account, secret string, ttl time.Duration, withEmail bool) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(ttl)
	claims := Claims{
		Role: a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if withEmail {
		claims.Email = a.Email
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

func (s *Service) parse(raw, secret string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseAccess verifies an access token and returns its claims.
func (s *Service) ParseAccess(raw string) (*Claims, error) {
	return s.parse(raw, s.cfg.AccessSecret)
}
