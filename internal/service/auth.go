package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when an owner token fails verification.
var ErrInvalidToken = errors.New("invalid owner token")

// Claims are the claims embedded in an owner token.
type Claims struct {
	jwt.RegisteredClaims
	OwnerID string `json:"owner_id"`
}

// Auth mints and verifies the signed owner tokens the HTTP layer stores in
// a cookie. Owners are anonymous: a fresh token simply carries a new
// opaque identifier.
type Auth struct {
	secret   []byte
	tokenTTL time.Duration
}

func NewAuth(secret string, tokenTTL time.Duration) *Auth {
	return &Auth{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// IssueToken generates a new owner identifier and a signed token carrying it.
func (a *Auth) IssueToken() (string, string, error) {
	const op = "service.Auth.IssueToken"

	ownerID := uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		OwnerID: ownerID,
	})

	tokenString, err := token.SignedString(a.secret)
	if err != nil {
		return "", "", fmt.Errorf("%s: failed to sign token: %w", op, err)
	}

	return tokenString, ownerID, nil
}

// ParseToken verifies a token string and returns its claims.
func (a *Auth) ParseToken(tokenString string) (*Claims, error) {
	const op = "service.Auth.ParseToken"

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.OwnerID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return claims, nil
}
