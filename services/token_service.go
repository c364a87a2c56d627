package services

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

const tokenIssuer = "threadline"

// TokenService verifies bearer tokens. Issue exists for development tools
// and tests; production tokens come from the identity service sharing the
// secret.
type TokenService interface {
	Issue(userID, username string, ttl time.Duration) (string, error)
	Validate(tokenString string) (*models.TokenClaims, error)
}

type tokenService struct {
	secret []byte
	clock  clock.Clock
}

// NewTokenService creates an HS256 token service.
func NewTokenService(secret string, clk clock.Clock) TokenService {
	if clk == nil {
		clk = clock.New()
	}
	return &tokenService{secret: []byte(secret), clock: clk}
}

func (s *tokenService) Issue(userID, username string, ttl time.Duration) (string, error) {
	now := s.clock.Now()
	claims := &models.TokenClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *tokenService) Validate(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", pkg.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: invalid token claims", pkg.ErrUnauthorized)
	}
	return claims, nil
}
