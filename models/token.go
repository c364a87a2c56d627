package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the payload of a bearer token.
// Tokens are minted by the external identity service; this server only verifies them.
type TokenClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}
