package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated principal extracted from a bearer token.
type Identity struct {
	ID       string
	Username string
}

var ErrInvalidToken = errors.New("invalid token")

// ParseToken validates an HMAC-signed JWT and extracts the identity claims.
func ParseToken(secret []byte, tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	id, _ := claims["sub"].(string)
	username, _ := claims["username"].(string)
	if id == "" {
		return Identity{}, ErrInvalidToken
	}
	if username == "" {
		username = id
	}
	return Identity{ID: id, Username: username}, nil
}

// NewToken issues a token for the given identity. Used by tooling and tests;
// real tokens come from the auth service.
func NewToken(secret []byte, id, username string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      id,
		"username": username,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}
