package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"settlement-service/models"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 token and returns the caller it identifies.
// The system role cannot be obtained through a token.
func ParseToken(secret, tokenString string) (models.Caller, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Caller{}, ErrInvalidToken
	}
	if claims.UserID == "" {
		return models.Caller{}, ErrInvalidToken
	}
	roles := make([]string, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		if r != models.RoleSystem {
			roles = append(roles, r)
		}
	}
	return models.Caller{UserID: claims.UserID, Roles: roles}, nil
}

// GenerateToken signs a token for userID, used by tooling and tests.
func GenerateToken(secret, userID string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
